package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwavetools/zwsniff/internal/conversation"
	"github.com/zwavetools/zwsniff/internal/decode"
	"github.com/zwavetools/zwsniff/internal/extractor"
	"github.com/zwavetools/zwsniff/internal/frame"
	"github.com/zwavetools/zwsniff/internal/source"
)

// chunkSource feeds scripted chunks, then EOF or a scripted error.
type chunkSource struct {
	chunks [][]byte
	final  error
	pos    int
}

func (c *chunkSource) Open() error { return nil }
func (c *chunkSource) Close() error { return nil }
func (c *chunkSource) ReadChunk() (source.Chunk, error) {
	if c.pos >= len(c.chunks) {
		if c.final != nil {
			return source.Chunk{}, c.final
		}
		return source.Chunk{}, io.EOF
	}
	chunk := source.Chunk{Data: c.chunks[c.pos], Arrival: uint64(c.pos)}
	c.pos++
	return chunk, nil
}

// sessionConsumer records callbacks; safe across goroutines.
type sessionConsumer struct {
	mu         sync.Mutex
	closed     []*conversation.Conversation
	standalone []*frame.Frame
	diags      []extractor.Diagnostic
	failures   []error
}

func (c *sessionConsumer) ConversationClosed(conv *conversation.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, conv)
}

func (c *sessionConsumer) StandaloneFrame(f *frame.Frame, _ *decode.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.standalone = append(c.standalone, f)
}

func (c *sessionConsumer) Diagnostic(_ string, d extractor.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diags = append(c.diags, d)
}

func (c *sessionConsumer) SourceFailed(_ string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, err)
}

// tap records every stored frame.
type recordingTap struct {
	mu     sync.Mutex
	frames []*frame.Frame
}

func (t *recordingTap) OnFrame(f *frame.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, f)
}

func TestSession_EndToEndRequestReply(t *testing.T) {
	consumer := &sessionConsumer{}
	s := NewSession(Config{
		Analyzer: conversation.Config{Timeout: time.Second, DupWindow: 100 * time.Millisecond},
		Logger:   zerolog.Nop(),
	}, consumer)

	s.AddSource("test", &chunkSource{chunks: [][]byte{
		{0x23, 0x01, 0x00},
		{0x23, 0x01, 0x04, 0x14, 0x02, 0x01, 0x03},
	}})

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	assert.Equal(t, 2, s.Store().Len())
	assert.Empty(t, consumer.diags)

	require.Len(t, consumer.closed, 1)
	conv := consumer.closed[0]
	assert.Equal(t, conversation.StateComplete, conv.Outcome)
	require.Len(t, conv.Members, 2)

	// The reply decodes to the documented version fields.
	root := s.Registry().Decode(conv.Members[1])
	chip := root.Find(decode.LabelChipType)
	require.NotNil(t, chip)
	assert.Equal(t, uint64(0x14), chip.Value.Uint)
}

func TestSession_RequestTimesOutAtEndOfCapture(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}

	consumer := &sessionConsumer{}
	s := NewSession(Config{
		Analyzer: conversation.Config{
			Timeout:   time.Second,
			DupWindow: 100 * time.Millisecond,
			Now:       now,
		},
		Logger: zerolog.Nop(),
	}, consumer)

	gate := make(chan struct{})
	s.AddSource("test", &gatedSource{
		// A request followed by a standalone radio frame. Callbacks are
		// ordered, so once the radio frame is reported standalone the
		// request has been observed under the old clock.
		first: []byte{0x23, 0x01, 0x00, 0x21, 0x04, 0x10, 0x00, 0x9D, 0x2A},
		gate:  gate,
	})

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		consumer.mu.Lock()
		defer consumer.mu.Unlock()
		return len(consumer.standalone) == 1
	}, time.Second, time.Millisecond)

	// Move the clock past the window; the drain sweep at end of
	// capture applies the timeout.
	clockMu.Lock()
	clock = clock.Add(5 * time.Second)
	clockMu.Unlock()
	close(gate) // now let the source report end of stream
	s.Wait()

	require.Len(t, consumer.closed, 1)
	assert.Equal(t, conversation.StateTimedOut, consumer.closed[0].Outcome)
	assert.Len(t, consumer.closed[0].Members, 1)
}

func TestSession_SourceFailureIsIsolated(t *testing.T) {
	consumer := &sessionConsumer{}
	s := NewSession(Config{
		Analyzer: conversation.Config{Timeout: time.Second, DupWindow: 50 * time.Millisecond},
		Logger:   zerolog.Nop(),
	}, consumer)

	boom := &source.StreamError{Source: "bad", Err: errors.New("io failure")}
	s.AddSource("bad", &chunkSource{final: boom})
	s.AddSource("good", &chunkSource{chunks: [][]byte{{0x23, 0x02, 0x01, 0x07}}})

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	// The bad source failed, the good source's frame still arrived.
	require.Len(t, consumer.failures, 1)
	assert.Equal(t, 1, s.Store().Len())
}

func TestSession_OverflowSurfacesAsDiagnostic(t *testing.T) {
	consumer := &sessionConsumer{}
	s := NewSession(Config{Logger: zerolog.Nop()}, consumer)

	src := &chunkSource{chunks: [][]byte{{0x23, 0x01, 0x00}}}
	overflowing := &overflowOnce{inner: src}
	s.AddSource("dev", overflowing)

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	require.NotEmpty(t, consumer.diags)
	assert.Equal(t, extractor.DiagSourceOverflow, consumer.diags[0].Kind)
	assert.Equal(t, 1, s.Store().Len())
}

type overflowOnce struct {
	inner    source.ByteSource
	reported bool
}

func (o *overflowOnce) Open() error  { return o.inner.Open() }
func (o *overflowOnce) Close() error { return o.inner.Close() }
func (o *overflowOnce) ReadChunk() (source.Chunk, error) {
	if !o.reported {
		o.reported = true
		return source.Chunk{}, source.ErrOverflow
	}
	return o.inner.ReadChunk()
}

func TestSession_TapSeesEveryStoredFrame(t *testing.T) {
	consumer := &sessionConsumer{}
	s := NewSession(Config{Logger: zerolog.Nop()}, consumer)
	tap := &recordingTap{}
	s.AddTap(tap)

	s.AddSource("test", &chunkSource{chunks: [][]byte{
		{0x23, 0x01, 0x00, 0x23, 0x02, 0x01, 0x07},
	}})

	require.NoError(t, s.Start(context.Background()))
	s.Wait()

	tap.mu.Lock()
	defer tap.mu.Unlock()
	require.Len(t, tap.frames, 2)
	assert.NotZero(t, tap.frames[0].Seq)
}

func TestSession_StopDiscardsOpenConversations(t *testing.T) {
	consumer := &sessionConsumer{}
	s := NewSession(Config{
		Analyzer: conversation.Config{Timeout: time.Minute, DupWindow: time.Second},
		Logger:   zerolog.Nop(),
	}, consumer)

	blocking := &blockingSource{release: make(chan struct{})}
	s.AddSource("live", blocking)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	assert.Empty(t, consumer.closed)
}

func TestSession_WaitAndStopBeforeStartReturn(t *testing.T) {
	s := NewSession(Config{Logger: zerolog.Nop()}, &sessionConsumer{})

	done := make(chan struct{})
	go func() {
		s.Wait()
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait or Stop blocked on a session that never started")
	}
}

func TestSession_OpenFailureClosesEarlierSources(t *testing.T) {
	s := NewSession(Config{Logger: zerolog.Nop()}, &sessionConsumer{})

	good := &closeTrackingSource{}
	s.AddSource("good", good)
	s.AddSource("bad", &failingOpenSource{})

	err := s.Start(context.Background())

	require.Error(t, err)
	assert.True(t, good.closed, "source opened before the failure must be closed again")
	// The failed Start leaves the session unstarted; Wait must not hang.
	s.Wait()
}

// closeTrackingSource opens successfully and records Close.
type closeTrackingSource struct {
	closed bool
}

func (c *closeTrackingSource) Open() error { return nil }
func (c *closeTrackingSource) Close() error {
	c.closed = true
	return nil
}
func (c *closeTrackingSource) ReadChunk() (source.Chunk, error) {
	return source.Chunk{}, io.EOF
}

// failingOpenSource refuses to open.
type failingOpenSource struct{}

func (f *failingOpenSource) Open() error {
	return &source.StreamError{Source: "bad", Err: errors.New("no such device")}
}
func (f *failingOpenSource) Close() error { return nil }
func (f *failingOpenSource) ReadChunk() (source.Chunk, error) {
	return source.Chunk{}, io.EOF
}

// gatedSource yields one chunk, then holds EOF back until gate closes.
type gatedSource struct {
	first []byte
	gate  chan struct{}
	sent  bool
}

func (g *gatedSource) Open() error  { return nil }
func (g *gatedSource) Close() error { return nil }
func (g *gatedSource) ReadChunk() (source.Chunk, error) {
	if !g.sent {
		g.sent = true
		return source.Chunk{Data: g.first, Arrival: 1}, nil
	}
	<-g.gate
	return source.Chunk{}, io.EOF
}

// blockingSource blocks in ReadChunk until closed, like an idle serial
// port.
type blockingSource struct {
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) Open() error { return nil }
func (b *blockingSource) Close() error {
	b.once.Do(func() { close(b.release) })
	return nil
}
func (b *blockingSource) ReadChunk() (source.Chunk, error) {
	<-b.release
	return source.Chunk{}, &source.StreamError{Source: "live", Err: errors.New("closed")}
}
