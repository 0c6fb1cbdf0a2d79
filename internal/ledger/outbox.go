package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/hashchain-ledger/internal/interfaces"
	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
	"github.com/sheikh-saqib/hashchain-ledger/internal/models/events"
)

const (
	defaultOutboxSize     = 1024
	defaultPublishTimeout = 5 * time.Second
)

// outbox hands committed transfers to the publisher from a single goroutine,
// so a slow or unreachable broker never delays a transfer. When the buffer is
// full the event is dropped and logged.
type outbox struct {
	publisher interfaces.EventPublisher
	logger    *zap.SugaredLogger
	timeout   time.Duration

	mu     sync.RWMutex // guards closed and sends on events
	closed bool
	events chan events.TransferCompleted
	done   chan struct{}
}

func newOutbox(publisher interfaces.EventPublisher, logger *zap.SugaredLogger, size int, timeout time.Duration) *outbox {
	if size <= 0 {
		size = defaultOutboxSize
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	o := &outbox{
		publisher: publisher,
		logger:    logger,
		timeout:   timeout,
		events:    make(chan events.TransferCompleted, size),
		done:      make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) run() {
	defer close(o.done)
	for event := range o.events {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		if err := o.publisher.PublishTransferCompleted(ctx, event); err != nil {
			o.logger.Errorw("publishing transfer completed", "position", event.Position, "error", err)
		}
		cancel()
	}
}

// enqueue never blocks.
func (o *outbox) enqueue(entry models.LedgerEntry) {
	event := events.TransferCompleted{
		EventID:     uuid.New().String(),
		Position:    entry.Position,
		Digest:      entry.Digest,
		FromAddress: entry.FromAddress,
		ToAddress:   entry.ToAddress,
		Amount:      entry.Amount,
		OccurredAt:  entry.CreatedAt,
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.logger.Warnw("outbox closed, transfer completed event dropped", "position", entry.Position)
		return
	}
	select {
	case o.events <- event:
	default:
		o.logger.Warnw("outbox full, transfer completed event dropped", "position", entry.Position)
	}
}

// close stops accepting events and waits until the queued ones are published.
func (o *outbox) close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.events)
	}
	o.mu.Unlock()
	<-o.done
}
