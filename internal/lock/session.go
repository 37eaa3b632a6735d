package lock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Session is one database connection able to hold session-scoped advisory locks.
type Session interface {
	TryLock(ctx context.Context, key int64) (bool, error)
	Lock(ctx context.Context, key int64) error
	Unlock(ctx context.Context, key int64) (bool, error)
	// Close returns the connection. discard drops it instead of pooling it,
	// which also frees any lock the server still associates with it.
	Close(ctx context.Context, discard bool)
}

// SessionSource hands out sessions, typically by pinning a pooled connection.
type SessionSource interface {
	Session(ctx context.Context) (Session, error)
}

// PoolSessions adapts a pgx pool to SessionSource.
type PoolSessions struct {
	pool *pgxpool.Pool
}

// NewPoolSessions creates a session source backed by the pool.
func NewPoolSessions(pool *pgxpool.Pool) *PoolSessions {
	return &PoolSessions{pool: pool}
}

// Session pins one pooled connection until Close.
func (p *PoolSessions) Session(ctx context.Context) (Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &pgSession{conn: conn}, nil
}

type pgSession struct {
	conn *pgxpool.Conn
}

func (s *pgSession) TryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	if err := s.conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *pgSession) Lock(ctx context.Context, key int64) error {
	_, err := s.conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key)
	return err
}

func (s *pgSession) Unlock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	if err := s.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *pgSession) Close(ctx context.Context, discard bool) {
	if discard {
		_ = s.conn.Hijack().Close(ctx)
		return
	}
	s.conn.Release()
}
