package chatstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

const tracerName = "github.com/markdave123-py/Sunlytics/internal/core/chatstream"

// Options describe one chat stream.
type Options struct {
	SessionID       string
	UserID          string
	NewConversation bool
	Format          Format
	// KeepAlive is the SSE comment interval; zero disables it.
	KeepAlive time.Duration
}

// Pipeline reassembles an upstream completion stream, writes the client
// stream and records the conversation in session memory.
type Pipeline struct {
	store  MessageStore
	logger *slog.Logger
	now    func() time.Time
}

func NewPipeline(store MessageStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, logger: logger, now: time.Now}
}

// WithClock replaces the clock used for the welcome message.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// WelcomeMessage is the agent greeting sent at the start of a new
// conversation.
func WelcomeMessage(started time.Time, sessionID string) string {
	return fmt.Sprintf("Welcome to the Sunlytics assistant! Your session started on %s. Session ID: %s",
		started.UTC().Format("Monday, January 2, 2006 at 3:04 PM MST"), sessionID)
}

// Run streams src to w until the upstream finishes, fails, or ctx is
// cancelled. It always closes src. Assistant text is persisted once per
// run of consecutive deltas; persistence never blocks or fails the stream.
func (p *Pipeline) Run(ctx context.Context, src ChunkSource, w io.Writer, opts Options) (err error) {
	started := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "chatstream.Run", trace.WithAttributes(
		attribute.String("chat.session_id", opts.SessionID),
		attribute.String("chat.format", opts.Format.String()),
		attribute.Bool("chat.new_conversation", opts.NewConversation),
	))
	defer span.End()
	defer src.Close()

	logger := p.logger.With("session_id", opts.SessionID)
	out := newStreamWriter(w, NewFormatter(opts.Format))
	pers := newPersister(ctx, p.store, logger)
	defer pers.close()

	if opts.KeepAlive > 0 {
		stop := out.keepAlive(ctx, opts.KeepAlive)
		defer stop()
	}

	run := &streamRun{
		opts:   opts,
		out:    out,
		pers:   pers,
		logger: logger,
	}
	outcome := "completed"
	defer func() {
		streamDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	r := NewReassembler(logger)
	for ev := range r.Transform(ctx, src) {
		if !run.welcomed {
			if err = run.welcome(p.now()); err != nil {
				outcome = "client_gone"
				return err
			}
		}
		if err = run.handle(ev); err != nil {
			run.flushAnswer()
			outcome = "client_gone"
			return err
		}
	}
	run.flushAnswer()

	if ctxErr := ctx.Err(); ctxErr != nil {
		outcome = "client_gone"
		return ctxErr
	}
	if upErr := r.Err(); upErr != nil {
		upstreamErrors.Inc()
		outcome = "upstream_error"
		logger.Error("chatstream: upstream stream failed", "error", upErr)
		return fmt.Errorf("upstream stream: %w", upErr)
	}
	if !run.welcomed {
		if err = run.welcome(p.now()); err != nil {
			outcome = "client_gone"
			return err
		}
	}
	span.SetAttributes(attribute.Int("chat.events", run.events))
	if err = out.write(out.f.End(opts.SessionID)); err != nil {
		outcome = "client_gone"
	}
	return err
}

// streamRun is the per-request state of Run.
type streamRun struct {
	opts     Options
	out      *streamWriter
	pers     *persister
	logger   *slog.Logger
	welcomed bool
	answer   strings.Builder
	events   int
}

func (s *streamRun) welcome(now time.Time) error {
	s.welcomed = true
	if !s.opts.NewConversation {
		return nil
	}
	text := WelcomeMessage(now, s.opts.SessionID)
	s.persist(models.RoleAgent, text)
	return s.send(KindDelta, OutputMessage{Role: models.RoleAgent, Content: text})
}

func (s *streamRun) handle(ev Event) error {
	switch ev.Kind {
	case KindDelta:
		switch ev.Role {
		case models.RoleAssistant:
			if ev.Content == "" {
				return nil
			}
			s.answer.WriteString(ev.Content)
		case models.RoleTool:
			suppressedTotal.Inc()
			s.logger.Debug("chatstream: tool message withheld", "summary", truncate(ev.Content, 120))
			return nil
		}
		return s.send(KindDelta, OutputMessage{Role: ev.Role, Content: ev.Content})
	case KindToolCall:
		s.flushAnswer()
		s.logger.Info("chatstream: tool call", "tool", ev.Tool.Name)
		return s.send(KindToolCall, OutputMessage{
			Role:    models.RoleAssistant,
			Content: ev.Tool.Description,
			Tool:    ev.Tool.Name,
		})
	case KindError:
		s.flushAnswer()
		s.logger.Warn("chatstream: error event", "message", ev.Message)
		return s.send(KindError, OutputMessage{Role: models.RoleError, Content: ev.Message})
	case KindDone:
		eventsTotal.WithLabelValues(KindDone.String(), s.opts.Format.String()).Inc()
	}
	return nil
}

func (s *streamRun) send(kind Kind, msg OutputMessage) error {
	msg.SessionID = s.opts.SessionID
	b, err := s.out.f.Message(msg)
	if err != nil {
		return fmt.Errorf("encode stream message: %w", err)
	}
	s.events++
	eventsTotal.WithLabelValues(kind.String(), s.opts.Format.String()).Inc()
	return s.out.write(b)
}

// flushAnswer persists the assistant text gathered since the last boundary.
func (s *streamRun) flushAnswer() {
	if s.answer.Len() == 0 {
		return
	}
	s.persist(models.RoleAssistant, s.answer.String())
	s.answer.Reset()
}

func (s *streamRun) persist(role, content string) {
	s.pers.enqueue(models.NewChatMessage{
		SessionID: s.opts.SessionID,
		UserID:    s.opts.UserID,
		Role:      role,
		Content:   content,
	})
}

// streamWriter serializes writes from the pipeline and the keep-alive
// ticker and flushes after each one.
type streamWriter struct {
	mu sync.Mutex
	w  io.Writer
	f  Formatter
}

func newStreamWriter(w io.Writer, f Formatter) *streamWriter {
	return &streamWriter{w: w, f: f}
}

func (s *streamWriter) write(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	if fl, ok := s.w.(interface{ Flush() }); ok {
		fl.Flush()
	}
	return nil
}

// keepAlive writes the formatter's keep-alive frame every interval until the
// returned stop func is called.
func (s *streamWriter) keepAlive(ctx context.Context, interval time.Duration) (stop func()) {
	frame := s.f.KeepAlive()
	if frame == nil {
		return func() {}
	}
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-quit:
				return
			case <-ticker.C:
				if err := s.write(frame); err != nil {
					return
				}
			}
		}
	}()
	return func() {
		close(quit)
		wg.Wait()
	}
}
