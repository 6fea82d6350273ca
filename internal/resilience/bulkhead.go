package resilience

import (
	"context"

	apperrors "github.com/authrelay/authrelay/internal/errors"
)

// ErrBulkheadFull is returned when a dependency's concurrency quota is
// exhausted and the caller's deadline ran out waiting for a slot.
var ErrBulkheadFull = apperrors.New(apperrors.KindDependencyUnavailable, "dependency concurrency quota exhausted")

// Bulkhead caps in-flight calls to one dependency so saturation there
// cannot starve callers of the others. Acquisition waits until a slot
// frees or the context expires.
type Bulkhead struct {
	name  string
	slots chan struct{}
}

// NewBulkhead creates a bulkhead with the given quota.
func NewBulkhead(name string, quota int) *Bulkhead {
	if quota <= 0 {
		quota = 16
	}
	return &Bulkhead{
		name:  name,
		slots: make(chan struct{}, quota),
	}
}

// Name identifies the guarded dependency.
func (b *Bulkhead) Name() string {
	return b.name
}

// InFlight reports the number of held slots.
func (b *Bulkhead) InFlight() int {
	return len(b.slots)
}

// Do runs op inside a slot, waiting up to the context deadline to
// acquire one.
func (b *Bulkhead) Do(ctx context.Context, op func() error) error {
	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return ErrBulkheadFull
	}
	defer func() { <-b.slots }()
	return op()
}
