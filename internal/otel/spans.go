package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zwavetools/zwsniff/internal/conversation"
)

// RecordConversation emits one span for a closed conversation,
// spanning from open to last activity. Timed-out exchanges are marked
// as errors so they stand out in a trace view.
func RecordConversation(tracer trace.Tracer, c *conversation.Conversation) {
	_, span := tracer.Start(context.Background(), "conversation",
		trace.WithTimestamp(c.OpenedAt),
		trace.WithAttributes(
			attribute.String("conversation.id", c.ID.String()),
			attribute.String("conversation.outcome", c.Outcome.String()),
			attribute.Int("conversation.members", len(c.Members)),
		),
	)
	if c.Outcome == conversation.StateTimedOut {
		span.SetStatus(codes.Error, "no reply before timeout")
	}
	span.End(trace.WithTimestamp(c.LastActivity))
}
