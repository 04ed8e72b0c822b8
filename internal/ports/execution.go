package ports

import (
	"context"

	"spreadarb/internal/domain"
)

// OrderExecutor is the per-venue order-execution port. Implementations
// submit one marketable order and report the realized fill. An error means
// the leg did not fill; a fill is final and cannot be undone by this
// system.
type OrderExecutor interface {
	// Name returns the venue name this executor trades on.
	Name() string

	// ExecuteOrder submits a marketable fill-or-kill order and blocks until
	// it fills, fails, or ctx expires.
	ExecuteOrder(ctx context.Context, order domain.Order) (*domain.OrderFill, error)
}
