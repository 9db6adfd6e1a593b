// zwsniff captures Z-Wave Zniffer traffic from a serial device, a
// saved capture file or a remote capture server, decodes it and groups
// it into request/reply conversations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/zwavetools/zwsniff/internal/config"
	"github.com/zwavetools/zwsniff/internal/conversation"
	"github.com/zwavetools/zwsniff/internal/decode"
	"github.com/zwavetools/zwsniff/internal/extractor"
	"github.com/zwavetools/zwsniff/internal/frame"
	"github.com/zwavetools/zwsniff/internal/otel"
	"github.com/zwavetools/zwsniff/internal/pipeline"
	"github.com/zwavetools/zwsniff/internal/server"
	"github.com/zwavetools/zwsniff/internal/source"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupOTEL initializes the OTEL provider when an exporter endpoint is
// configured. Returns a nil tracer when tracing is disabled.
func setupOTEL(log zerolog.Logger) (trace.Tracer, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}
	if !otelCfg.Enabled() {
		return nil, func() {}, nil
	}

	tp, err := otel.InitProvider(otelCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(tp, shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error shutting down OTEL provider")
		}
	}

	return tp.Tracer("zwsniff"), cleanup, nil
}

// buildSource constructs the mode-appropriate byte source.
func buildSource(cfg *config.Config) (string, source.ByteSource, error) {
	switch cfg.Mode {
	case config.ModeServe:
		return cfg.SerialPort, source.NewSerialSource(cfg.SerialPort, cfg.Baud), nil
	case config.ModeRead:
		if strings.HasSuffix(cfg.CaptureFile, ".zlf") {
			return cfg.CaptureFile, source.NewZLFSource(cfg.CaptureFile), nil
		}
		return cfg.CaptureFile, source.NewFileSource(cfg.CaptureFile), nil
	case config.ModeConnect:
		return cfg.ConnectAddr, source.NewTCPSource(cfg.ConnectAddr), nil
	}
	return "", nil, fmt.Errorf("unsupported mode %q", cfg.Mode)
}

// compileRules compiles the user-supplied correlation expressions.
// User rules never expect a reply on their own; grouping is purely
// key-driven.
func compileRules(exprs []string) ([]conversation.Rule, error) {
	rules := make([]conversation.Rule, 0, len(exprs))
	for _, e := range exprs {
		rule, err := conversation.CompileRule(e, false)
		if err != nil {
			return nil, fmt.Errorf("compiling rule %q: %w", e, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func run() error {
	cfg, err := config.ParseArgs(os.Args)
	if err != nil {
		return err
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
	log.Info().Str("version", version).Str("commit", commit).
		Str("mode", string(cfg.Mode)).Msg("starting zwsniff")

	tracer, cleanupOTEL, err := setupOTEL(log)
	if err != nil {
		return err
	}
	defer cleanupOTEL()

	rules, err := compileRules(cfg.Rules)
	if err != nil {
		return err
	}

	name, src, err := buildSource(cfg)
	if err != nil {
		return err
	}

	consumer := &consoleConsumer{out: os.Stdout, log: log, tracer: tracer}
	session := pipeline.NewSession(pipeline.Config{
		Analyzer: conversation.Config{
			Timeout:   cfg.Timeout,
			DupWindow: cfg.DupWindow,
			Rules:     rules,
		},
		SweepInterval: cfg.SweepInterval,
		Logger:        log,
	}, consumer)
	session.AddSource(name, src)

	var srv *server.Server
	if cfg.Mode == config.ModeServe && cfg.Listen != "" {
		srv = server.New(log)
		session.AddTap(srv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if srv != nil {
		if err := srv.Listen(ctx, cfg.Listen); err != nil {
			return fmt.Errorf("starting capture server: %w", err)
		}
		defer srv.Close()
	}

	if err := session.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		session.Wait()
		close(done)
	}()

	select {
	case <-sigCh:
		log.Info().Msg("received signal, stopping capture")
		session.Stop()
		<-done
	case <-done:
	}

	printSummary(os.Stdout, session)
	return nil
}

// printSummary reports what the store holds after the session ends.
func printSummary(out *os.File, session *pipeline.Session) {
	st := session.Store()
	first, ok := st.StartTime()
	if !ok {
		fmt.Fprintln(out, "no frames captured")
		return
	}
	last, _ := st.EndTime()
	frames := st.GetFrames(first, last)
	fmt.Fprintf(out, "captured %d frames over %d ticks\n", len(frames), last-first)
}

// consoleConsumer renders session output as text on stdout and routes
// process-level events through the logger. Closed conversations are
// also exported as OTEL spans when tracing is enabled.
type consoleConsumer struct {
	out    *os.File
	log    zerolog.Logger
	tracer trace.Tracer
}

func (c *consoleConsumer) ConversationClosed(conv *conversation.Conversation) {
	if c.tracer != nil {
		otel.RecordConversation(c.tracer, conv)
	}
	fmt.Fprintf(c.out, "conversation %s %s: %d frame(s), %s\n",
		conv.ID, strings.ToLower(conv.Outcome.String()), len(conv.Members),
		conv.LastActivity.Sub(conv.OpenedAt).Round(time.Millisecond))
	for _, f := range conv.Members {
		fmt.Fprintf(c.out, "  #%d %s @%d % x\n", f.Seq, f.Kind, f.Timestamp, f.Raw)
	}
}

func (c *consoleConsumer) StandaloneFrame(f *frame.Frame, root *decode.Chunk) {
	fmt.Fprintf(c.out, "frame #%d %s @%d\n", f.Seq, f.Kind, f.Timestamp)
	printChunk(c.out, root, 1)
}

func (c *consoleConsumer) Diagnostic(src string, d extractor.Diagnostic) {
	c.log.Warn().Str("source", src).Stringer("kind", d.Kind).
		Uint64("offset", d.Offset).Hex("byte", []byte{d.Byte}).
		Msg("framing diagnostic")
}

func (c *consoleConsumer) SourceFailed(src string, err error) {
	c.log.Error().Str("source", src).Err(err).Msg("source failed")
}

// printChunk renders a decoded chunk tree, one indented line per node.
func printChunk(out *os.File, c *decode.Chunk, depth int) {
	indent := strings.Repeat("  ", depth)
	if len(c.Children) == 0 {
		fmt.Fprintf(out, "%s%s [%d:%d] %s\n", indent, c.Label, c.Start, c.Stop, c.Value)
		return
	}
	fmt.Fprintf(out, "%s%s [%d:%d]\n", indent, c.Label, c.Start, c.Stop)
	for _, child := range c.Children {
		printChunk(out, child, depth+1)
	}
}
