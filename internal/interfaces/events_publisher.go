package interfaces

import (
	"context"

	"github.com/sheikh-saqib/hashchain-ledger/internal/models/events"
)

type EventPublisher interface {
	PublishTransferCompleted(ctx context.Context, event events.TransferCompleted) error
}
