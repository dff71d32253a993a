// Package runlock serializes pipeline runs per run date.
//
// A run acquires a lease on its run date before touching the stores and
// releases it when it ends. Local serves a single process; Redis serves
// several processes sharing one database.
package runlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned when the key is already held.
var ErrLocked = errors.New("lock is held by another run")

// DefaultTTL bounds how long a crashed holder can block a run date.
const DefaultTTL = 30 * time.Minute

// Lease is a held lock.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out leases keyed by run date.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Local is an in-process Locker.
type Local struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	held map[string]localEntry
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocal creates an in-process locker. ttl <= 0 uses DefaultTTL.
func NewLocal(ttl time.Duration) *Local {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Local{ttl: ttl, now: time.Now, held: make(map[string]localEntry)}
}

// Acquire takes key or returns ErrLocked. An expired holder is replaced.
func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, ErrLocked
	}

	token := uuid.NewString()
	l.held[key] = localEntry{token: token, expires: now.Add(l.ttl)}
	return &localLease{owner: l, key: key, token: token}, nil
}

type localLease struct {
	owner *Local
	key   string
	token string
	once  sync.Once
}

func (l *localLease) Key() string { return l.key }

// Release frees the key if this lease still owns it.
func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		defer l.owner.mu.Unlock()
		if e, ok := l.owner.held[l.key]; ok && e.token == l.token {
			delete(l.owner.held, l.key)
		}
	})
	return nil
}
