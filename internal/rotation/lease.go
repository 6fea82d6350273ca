package rotation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/authrelay/authrelay/internal/cache"
	apperrors "github.com/authrelay/authrelay/internal/errors"
)

// leaseTTL bounds how long a crashed holder can block other drivers.
const leaseTTL = 30 * time.Second

type leaseBody struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lease serializes rotation state mutation per client across driver
// instances using the shared cache as the coordination point.
type Lease struct {
	cache cache.Cache
	owner string
	now   func() time.Time
}

// NewLease creates a lease manager with a unique owner identity.
func NewLease(c cache.Cache) *Lease {
	return &Lease{
		cache: c,
		owner: uuid.NewString(),
		now:   time.Now,
	}
}

// Acquire takes the per-client lease. The returned release func is
// safe to call on every exit path; it only removes the lease when this
// owner still holds it.
func (l *Lease) Acquire(ctx context.Context, clientID string) (func(), error) {
	key := cache.RotationLockKey(clientID)

	raw, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDependencyUnavailable, "reading rotation lease", err)
	}
	if ok {
		var held leaseBody
		if json.Unmarshal(raw, &held) == nil && held.Owner != l.owner {
			return nil, apperrors.Newf(apperrors.KindRotationConflict,
				"rotation for client %s is locked by another driver", clientID)
		}
	}

	body, err := json.Marshal(leaseBody{Owner: l.owner, AcquiredAt: l.now()})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "encoding rotation lease", err)
	}
	if err := l.cache.SetWithTTL(ctx, key, body, leaseTTL); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDependencyUnavailable, "writing rotation lease", err)
	}

	release := func() {
		raw, ok, err := l.cache.Get(context.Background(), key)
		if err != nil || !ok {
			return
		}
		var held leaseBody
		if json.Unmarshal(raw, &held) == nil && held.Owner == l.owner {
			_ = l.cache.Delete(context.Background(), key)
		}
	}
	return release, nil
}
