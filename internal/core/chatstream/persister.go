package chatstream

import (
	"context"
	"log/slog"
	"time"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

// MessageStore appends chat messages to session memory.
type MessageStore interface {
	StoreMessage(ctx context.Context, msg models.NewChatMessage) (models.ChatMessage, error)
}

const (
	persistQueueSize = 32
	persistTimeout   = 5 * time.Second
)

// persister writes messages on its own goroutine so a slow store never holds
// up the response. Failures are logged and counted.
type persister struct {
	store  MessageStore
	jobs   chan models.NewChatMessage
	done   chan struct{}
	ctx    context.Context
	logger *slog.Logger
}

func newPersister(ctx context.Context, store MessageStore, logger *slog.Logger) *persister {
	p := &persister{
		store:  store,
		jobs:   make(chan models.NewChatMessage, persistQueueSize),
		done:   make(chan struct{}),
		ctx:    context.WithoutCancel(ctx),
		logger: logger,
	}
	go p.run()
	return p
}

func (p *persister) run() {
	defer close(p.done)
	for msg := range p.jobs {
		if p.store == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(p.ctx, persistTimeout)
		_, err := p.store.StoreMessage(ctx, msg)
		cancel()
		if err != nil {
			persistFailures.WithLabelValues("store_error").Inc()
			p.logger.Error("chatstream: failed to persist message",
				"session_id", msg.SessionID, "role", msg.Role, "error", err)
		}
	}
}

// enqueue never blocks. A full queue drops the message.
func (p *persister) enqueue(msg models.NewChatMessage) {
	select {
	case p.jobs <- msg:
	default:
		persistFailures.WithLabelValues("queue_full").Inc()
		p.logger.Warn("chatstream: persist queue full, dropping message",
			"session_id", msg.SessionID, "role", msg.Role)
	}
}

// close stops accepting messages and waits for queued ones to be written.
func (p *persister) close() {
	close(p.jobs)
	<-p.done
}
