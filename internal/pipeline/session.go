package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zwavetools/zwsniff/internal/conversation"
	"github.com/zwavetools/zwsniff/internal/decode"
	"github.com/zwavetools/zwsniff/internal/extractor"
	"github.com/zwavetools/zwsniff/internal/frame"
	"github.com/zwavetools/zwsniff/internal/source"
	"github.com/zwavetools/zwsniff/internal/store"
)

// Consumer receives everything the session produces besides the frame
// store itself. Conversation callbacks arrive on the analyzer
// goroutine; diagnostics and failures arrive on pump goroutines.
type Consumer interface {
	conversation.Consumer
	// Diagnostic reports a framing diagnostic from one source.
	Diagnostic(src string, d extractor.Diagnostic)
	// SourceFailed reports a fatal I/O failure of one source. Other
	// sources and stored frames are unaffected.
	SourceFailed(src string, err error)
}

// FrameTap observes every frame right after it is stored. Used by the
// serve mode to fan frames out and by capture writers. Must not block
// for long: it runs on the pump goroutine.
type FrameTap interface {
	OnFrame(f *frame.Frame)
}

// Config assembles a session.
type Config struct {
	// Registry decodes frames at ingest. Nil selects the default set.
	Registry *decode.Registry
	// Analyzer tunes conversation grouping.
	Analyzer conversation.Config
	// SweepInterval drives timeout sweeps on an idle link. Zero
	// disables the ticker; sweeps then happen only on frame arrival.
	SweepInterval time.Duration
	Logger        zerolog.Logger
}

// Session runs one capture: sources in, conversations out.
type Session struct {
	registry *decode.Registry
	store    *store.Store
	analyzer *conversation.Analyzer
	consumer Consumer
	log      zerolog.Logger

	sweepEvery time.Duration
	frameCh    chan *frame.Frame

	mu      sync.Mutex
	sources []namedSource
	taps    []FrameTap
	started bool

	cancel  context.CancelFunc
	pumps   sync.WaitGroup
	drained chan struct{}
}

type namedSource struct {
	name string
	src  source.ByteSource
}

// NewSession builds an idle session.
func NewSession(cfg Config, consumer Consumer) *Session {
	registry := cfg.Registry
	if registry == nil {
		registry = decode.DefaultRegistry()
	}
	return &Session{
		registry:   registry,
		store:      store.New(),
		analyzer:   conversation.New(cfg.Analyzer, consumer),
		consumer:   consumer,
		log:        cfg.Logger,
		sweepEvery: cfg.SweepInterval,
		frameCh:    make(chan *frame.Frame),
		drained:    make(chan struct{}),
	}
}

// Store exposes the session's frame store for range queries.
func (s *Session) Store() *store.Store {
	return s.store
}

// Registry exposes the decoder registry, e.g. to register additional
// decoders before or during a capture.
func (s *Session) Registry() *decode.Registry {
	return s.registry
}

// AddSource registers a byte source. Must be called before Start.
func (s *Session) AddSource(name string, src source.ByteSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, namedSource{name: name, src: src})
}

// AddTap registers a frame tap. Must be called before Start.
func (s *Session) AddTap(tap FrameTap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taps = append(s.taps, tap)
}

// Start opens every source and begins capturing. It returns
// immediately; processing runs in the background until every source
// ends or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("session already started")
	}

	var opened []namedSource
	for _, ns := range s.sources {
		if err := ns.src.Open(); err != nil {
			for _, o := range opened {
				if cerr := o.src.Close(); cerr != nil {
					s.log.Warn().Str("source", o.name).Err(cerr).Msg("closing source")
				}
			}
			return err
		}
		opened = append(opened, ns)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, ns := range s.sources {
		s.pumps.Add(1)
		go s.pump(ctx, ns)
	}
	go s.closeWhenDrained()
	go s.analyze(ctx)
	return nil
}

// Wait blocks until the analyzer has consumed everything, which
// happens after all sources ended or the session was stopped. On a
// session that never started it returns immediately.
func (s *Session) Wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	<-s.drained
}

// Stop cancels the session: sources are closed, pumps unblock, and
// the analyzer discards still-open conversations. Conversations that
// already closed were reported and are unaffected. A no-op on a
// session that never started.
func (s *Session) Stop() {
	s.mu.Lock()
	started := s.started
	cancel := s.cancel
	sources := s.sources
	s.mu.Unlock()
	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	for _, ns := range sources {
		if err := ns.src.Close(); err != nil {
			s.log.Warn().Str("source", ns.name).Err(err).Msg("closing source")
		}
	}
	<-s.drained
}

// pump is the per-source producer: read chunks, extract frames, store
// them, hand them to the analyzer. Uses a blocking channel so a slow
// consumer stalls the producer instead of dropping frames.
func (s *Session) pump(ctx context.Context, ns namedSource) {
	defer s.pumps.Done()
	ext := extractor.New()

	for {
		chunk, err := ns.src.ReadChunk()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.reportDiags(ns.name, ext.Flush())
			return
		case errors.Is(err, source.ErrOverflow):
			// Device-side drop: the one sanctioned loss, surfaced
			// loudly.
			s.consumer.Diagnostic(ns.name, extractor.Diagnostic{
				Kind:   extractor.DiagSourceOverflow,
				Offset: ext.Offset(),
			})
			continue
		default:
			if ctx.Err() != nil {
				return // stopped; the read error is just the close
			}
			s.reportDiags(ns.name, ext.Flush())
			s.consumer.SourceFailed(ns.name, err)
			return
		}

		frames, diags := ext.Feed(chunk.Data, chunk.Arrival)
		s.reportDiags(ns.name, diags)

		for _, f := range frames {
			s.store.Append(f)
			for _, tap := range s.taps {
				tap.OnFrame(f)
			}
			select {
			case s.frameCh <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Session) reportDiags(src string, diags []extractor.Diagnostic) {
	for _, d := range diags {
		s.log.Debug().Str("source", src).Stringer("diag", d).Msg("framing diagnostic")
		s.consumer.Diagnostic(src, d)
	}
}

// closeWhenDrained closes the frame channel once every pump is done,
// letting the analyzer goroutine finish its drain.
func (s *Session) closeWhenDrained() {
	s.pumps.Wait()
	close(s.frameCh)
}

// analyze is the single consumer: decode eagerly, feed the analyzer in
// arrival order, sweep timeouts on a ticker.
func (s *Session) analyze(ctx context.Context) {
	defer close(s.drained)

	var tick <-chan time.Time
	if s.sweepEvery > 0 {
		t := time.NewTicker(s.sweepEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case f, ok := <-s.frameCh:
			if !ok {
				if ctx.Err() == nil {
					// Natural end of capture: apply outstanding
					// timeouts before reporting the session drained.
					s.analyzer.Sweep()
				} else {
					s.analyzer.Stop()
				}
				return
			}
			s.analyzer.Observe(f, s.registry.Decode(f))
		case <-tick:
			s.analyzer.Sweep()
		case <-ctx.Done():
			// Drain whatever the pumps already queued, then discard
			// open conversations.
			for f := range s.frameCh {
				s.analyzer.Observe(f, s.registry.Decode(f))
			}
			s.analyzer.Stop()
			return
		}
	}
}
