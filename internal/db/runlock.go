package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// digestLockKey is the advisory-lock key claimed for the duration of a
// digest run. Arbitrary but stable; changing it orphans in-flight locks.
const digestLockKey = int64(874002113)

// RunLock serializes digest runs across processes using a Postgres advisory
// lock. It does not make overlapping runs safe, it makes them not happen:
// a second invocation observes the held lock and skips its run entirely.
//
// The lock is session-scoped, so a held lock pins one pool connection for
// the duration of the run and releases it together with the lock.
type RunLock struct {
	pool *pgxpool.Pool
}

// NewRunLock creates a RunLock on the given pool.
func NewRunLock(pool *pgxpool.Pool) *RunLock {
	return &RunLock{pool: pool}
}

// TryAcquire attempts to take the digest advisory lock without blocking.
// ok=false means another run currently holds it. On success the caller must
// invoke the returned release function exactly once.
func (l *RunLock) TryAcquire(ctx context.Context) (release func(), ok bool, err error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, digestLockKey).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Best effort: if the unlock round trip fails, closing the session
		// releases the lock anyway.
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, digestLockKey)
		conn.Release()
	}
	return release, true, nil
}
