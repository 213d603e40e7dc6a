//go:generate mockgen -package $GOPACKAGE -source $GOFILE -destination collaborators_mock.go

package sweep

import (
	"context"

	"taskcycle/internal/model"
	"taskcycle/internal/storage"
)

// UnitOfWork runs fn in one transaction; storage.Store satisfies it.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(storage.Tx) error) error
}

// Publisher announces lifecycle events after a sweep commits.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev model.LifecycleEvent) error
}
