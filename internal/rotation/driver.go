package rotation

import (
	"context"
	"time"

	"github.com/authrelay/authrelay/internal/logging"
)

// Driver is the scheduled background task that advances rotations
// whose time conditions have been met. It holds the per-client lease
// while mutating, so several gateway replicas can run one each.
type Driver struct {
	machine  *Machine
	lease    *Lease
	interval time.Duration
	logger   *logging.Logger
}

// NewDriver creates a rotation driver ticking at interval.
func NewDriver(machine *Machine, lease *Lease, interval time.Duration, logger *logging.Logger) *Driver {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Driver{
		machine:  machine,
		lease:    lease,
		interval: interval,
		logger:   logger.WithComponent("rotation-driver"),
	}
}

// Run ticks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	d.logger.Info("rotation driver started, interval %s", d.interval)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("rotation driver stopped")
			return
		case <-ticker.C:
			d.machine.AdvanceDue(ctx, d.lease)
		}
	}
}

// Tick runs one scan outside the schedule.
func (d *Driver) Tick(ctx context.Context) {
	d.machine.AdvanceDue(ctx, d.lease)
}
