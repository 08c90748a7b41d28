package calendarkit

import (
	"context"

	"github.com/tyemirov/tgcalendar/internal/store"
)

// Transactor opens short storage transactions. Services use one transaction
// per storage step and never keep one open across a remote call.
type Transactor interface {
	Transaction(ctx context.Context, work func(store.Repositories) error) error
}

func inTransaction[T any](ctx context.Context, database Transactor, work func(store.Repositories) (T, error)) (T, error) {
	var result T
	err := database.Transaction(ctx, func(repositories store.Repositories) error {
		value, workErr := work(repositories)
		result = value
		return workErr
	})
	return result, err
}
