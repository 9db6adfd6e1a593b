// Package conversation groups related frames into logical exchanges.
//
// A conversation opens when a frame starts a recognizable exchange,
// collects replies and link-layer retransmissions, and closes either
// Complete (the expected reply arrived, or a no-reply exchange's
// duplicate window elapsed) or TimedOut (a reply was expected and the
// inactivity window elapsed). Closed conversations are reported to the
// consumer exactly once, in the order they close, and never mutated
// again.
//
// Timeouts are evaluated on every frame arrival and whenever the owner
// calls Sweep; the pipeline drives Sweep from a ticker so an idle link
// still times conversations out.
package conversation

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/zwavetools/zwsniff/internal/decode"
	"github.com/zwavetools/zwsniff/internal/frame"
)

// State is a conversation's lifecycle state.
type State int

const (
	StateOpen State = iota
	StateComplete
	StateTimedOut
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateComplete:
		return "complete"
	case StateTimedOut:
		return "timed out"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conversation is one logical exchange. Mutated only by the Analyzer
// while Open; immutable once reported.
type Conversation struct {
	ID      uuid.UUID
	Members []*frame.Frame
	State   State
	// Outcome records the terminal state (Complete or TimedOut) after
	// State has moved on to Closed.
	Outcome      State
	OpenedAt     time.Time
	LastActivity time.Time

	key          string
	expectsReply bool
}

// Consumer receives analyzer output. Calls arrive on the analyzer's
// goroutine, in order.
type Consumer interface {
	// ConversationClosed is called exactly once per conversation, at
	// the moment it reaches Complete or TimedOut. The conversation
	// must not be retained mutably.
	ConversationClosed(c *Conversation)
	// StandaloneFrame reports a frame no conversation claimed.
	StandaloneFrame(f *frame.Frame, root *decode.Chunk)
}

// Config tunes the analyzer windows and correlation rules.
type Config struct {
	// Timeout is the inactivity window after which a reply-expecting
	// conversation times out.
	Timeout time.Duration
	// DupWindow is the duplicate-suppression window during which an
	// identical frame is treated as a link-layer retransmission.
	DupWindow time.Duration
	// Rules are custom correlation rules, tried before the built-in
	// command table.
	Rules []Rule
	// Now is the clock; nil means time.Now. Injected in tests.
	Now func() time.Time
}

// Analyzer applies the conversation state machine to the decoded frame
// stream. It is single-consumer by design: conversation transitions
// must be applied in arrival order, so all methods must be called from
// one goroutine.
type Analyzer struct {
	timeout   time.Duration
	dupWindow time.Duration
	rules     []Rule
	now       func() time.Time
	consumer  Consumer
	open      []*Conversation
	stopped   bool
}

// New builds an Analyzer reporting to consumer.
func New(cfg Config, consumer Consumer) *Analyzer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Analyzer{
		timeout:   cfg.Timeout,
		dupWindow: cfg.DupWindow,
		rules:     cfg.Rules,
		now:       now,
		consumer:  consumer,
	}
}

// Observe feeds one decoded frame through the state machine.
func (a *Analyzer) Observe(f *frame.Frame, root *decode.Chunk) {
	if a.stopped {
		return
	}
	now := a.now()
	a.sweepAt(now)

	key, expectsReply, ok := a.correlate(f, root)
	if !ok {
		a.consumer.StandaloneFrame(f, root)
		return
	}

	conv := a.findOpen(key)
	if conv == nil {
		a.openConversation(f, key, expectsReply, now)
		return
	}

	last := conv.Members[len(conv.Members)-1]
	if bytes.Equal(last.Raw, f.Raw) && now.Sub(conv.LastActivity) <= a.dupWindow {
		// Link-layer retransmission: absorb, do not restart the
		// exchange.
		conv.Members = append(conv.Members, f)
		conv.LastActivity = now
		return
	}

	if conv.expectsReply {
		conv.Members = append(conv.Members, f)
		conv.LastActivity = now
		a.close(conv, StateComplete)
		return
	}

	// Same key but different content on a no-reply exchange: the old
	// exchange is done, a new one starts.
	a.close(conv, StateComplete)
	a.openConversation(f, key, expectsReply, now)
}

// Sweep closes every open conversation whose inactivity window has
// elapsed. Safe to call at any time from the analyzer's goroutine.
func (a *Analyzer) Sweep() {
	if a.stopped {
		return
	}
	a.sweepAt(a.now())
}

// Stop cancels analysis. Open conversations are discarded, not
// reported; conversations already closed are unaffected.
func (a *Analyzer) Stop() {
	a.stopped = true
	a.open = nil
}

// OpenCount reports how many conversations are currently open.
func (a *Analyzer) OpenCount() int {
	return len(a.open)
}

func (a *Analyzer) openConversation(f *frame.Frame, key string, expectsReply bool, now time.Time) {
	a.open = append(a.open, &Conversation{
		ID:           uuid.New(),
		Members:      []*frame.Frame{f},
		State:        StateOpen,
		OpenedAt:     now,
		LastActivity: now,
		key:          key,
		expectsReply: expectsReply,
	})
}

func (a *Analyzer) findOpen(key string) *Conversation {
	for _, c := range a.open {
		if c.key == key {
			return c
		}
	}
	return nil
}

func (a *Analyzer) sweepAt(now time.Time) {
	remaining := a.open[:0]
	var toClose []*Conversation
	var outcomes []State
	for _, c := range a.open {
		idle := now.Sub(c.LastActivity)
		switch {
		case c.expectsReply && idle > a.timeout:
			toClose = append(toClose, c)
			outcomes = append(outcomes, StateTimedOut)
		case !c.expectsReply && idle > a.dupWindow:
			// Nothing more was owed; the exchange ended quietly.
			toClose = append(toClose, c)
			outcomes = append(outcomes, StateComplete)
		default:
			remaining = append(remaining, c)
		}
	}
	a.open = remaining
	for i, c := range toClose {
		a.report(c, outcomes[i])
	}
}

// close removes c from the open set and reports it.
func (a *Analyzer) close(c *Conversation, outcome State) {
	for i, o := range a.open {
		if o == c {
			a.open = append(a.open[:i], a.open[i+1:]...)
			break
		}
	}
	a.report(c, outcome)
}

func (a *Analyzer) report(c *Conversation, outcome State) {
	c.State = outcome
	c.Outcome = outcome
	a.consumer.ConversationClosed(c)
	c.State = StateClosed
}
