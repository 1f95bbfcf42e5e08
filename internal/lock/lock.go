// Package lock serializes merge work across pipeline instances with
// Postgres advisory locks.
package lock

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when the lock is held elsewhere and the
// acquisition timeout elapses.
var ErrNotAcquired = eris.New("lock: not acquired")

// HashKey maps a resource key to a signed 64-bit advisory lock key using
// FNV-1a. Any other process coordinating on the same resources must use the
// same hash to interoperate.
func HashKey(resource string) int64 {
	h := fnv.New64a()
	h.Write([]byte(resource))
	return int64(h.Sum64())
}

// CompetitorKey scopes a lock to one competitor's merge pipeline.
func CompetitorKey(competitor string) string {
	return "compintel:competitor:" + competitor
}

// EntityTypeKey scopes a lock to one (competitor, entity type) pair for
// finer-grained coordination.
func EntityTypeKey(competitor, entityType string) string {
	return "compintel:competitor:" + competitor + ":" + entityType
}

// Conn is the single pinned connection a lock lives on. Advisory locks are
// session-scoped, so the same connection must carry both lock and unlock.
type Conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// ConnAcquirer checks a connection out of a pool.
type ConnAcquirer interface {
	Acquire(ctx context.Context) (Conn, error)
}

// PoolAcquirer adapts *pgxpool.Pool to ConnAcquirer.
type PoolAcquirer struct {
	Pool *pgxpool.Pool
}

func (a PoolAcquirer) Acquire(ctx context.Context) (Conn, error) {
	conn, err := a.Pool.Acquire(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "lock: acquire conn")
	}
	return poolConn{conn}, nil
}

type poolConn struct{ conn *pgxpool.Conn }

func (c poolConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}
func (c poolConn) Release() { c.conn.Release() }

// Manager acquires advisory locks with polling up to a timeout. A zero
// timeout means a single non-blocking attempt.
type Manager struct {
	acq     ConnAcquirer
	timeout time.Duration
	poll    time.Duration
}

// NewManager builds a lock manager on a pgx pool.
func NewManager(pool *pgxpool.Pool, timeout, poll time.Duration) *Manager {
	return newManager(PoolAcquirer{Pool: pool}, timeout, poll)
}

func newManager(acq ConnAcquirer, timeout, poll time.Duration) *Manager {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Manager{acq: acq, timeout: timeout, poll: poll}
}

// Lease is a held lock. Release it exactly once.
type Lease struct {
	conn Conn
	key  int64
}

// TryLock attempts to take the lock for a resource, polling until the
// manager's timeout. The returned lease pins the pool connection the lock
// lives on.
func (m *Manager) TryLock(ctx context.Context, resource string) (*Lease, error) {
	key := HashKey(resource)

	conn, err := m.acq.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(m.timeout)
	for {
		var acquired bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
			conn.Release()
			return nil, eris.Wrap(err, "lock: try advisory lock")
		}
		if acquired {
			return &Lease{conn: conn, key: key}, nil
		}
		if m.timeout <= 0 || !time.Now().Add(m.poll).Before(deadline) {
			conn.Release()
			return nil, eris.Wrapf(ErrNotAcquired, "resource %s", resource)
		}

		timer := time.NewTimer(m.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			conn.Release()
			return nil, eris.Wrap(ctx.Err(), "lock: wait")
		case <-timer.C:
		}
	}
}

// Unlock releases the advisory lock and returns the connection to the pool.
func (l *Lease) Unlock(ctx context.Context) error {
	defer l.conn.Release()

	var released bool
	if err := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&released); err != nil {
		return eris.Wrap(err, "lock: advisory unlock")
	}
	if !released {
		// The session did not hold the lock; the pin still gets released.
		zap.L().Warn("advisory unlock reported no lock held", zap.Int64("key", l.key))
	}
	return nil
}

// WithLock runs fn while holding the lock for resource, releasing it on all
// paths.
func (m *Manager) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	lease, err := m.TryLock(ctx, resource)
	if err != nil {
		return err
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Unlock(unlockCtx); err != nil {
			zap.L().Error("lock release failed", zap.String("resource", resource), zap.Error(err))
		}
	}()
	return fn(ctx)
}
