// Package lock provides per-entity mutual exclusion on top of PostgreSQL
// session-scoped advisory locks.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"client_portal_backend/platform/logger"
)

// ErrLockUnavailable means another session holds the lock. Callers treat it
// as "entity busy".
var ErrLockUnavailable = errors.New("lock unavailable")

// Guard hands out advisory locks within one key namespace. Each held lock
// pins its own connection until released. Locks are not re-entrant.
type Guard struct {
	source    SessionSource
	namespace string
	log       *logger.Logger

	mu   sync.Mutex
	held map[int64]Session
}

// New creates a guard for the given namespace, e.g. "lead".
func New(source SessionSource, namespace string, log *logger.Logger) *Guard {
	return &Guard{
		source:    source,
		namespace: namespace,
		log:       log,
		held:      make(map[int64]Session),
	}
}

// TryAcquire takes the lock for entityID without waiting. It returns false if
// the lock is held elsewhere, including by another caller in this process.
func (g *Guard) TryAcquire(ctx context.Context, entityID string) (bool, error) {
	key := Key(g.namespace, entityID)

	g.mu.Lock()
	_, busy := g.held[key]
	g.mu.Unlock()
	if busy {
		return false, nil
	}

	session, err := g.source.Session(ctx)
	if err != nil {
		return false, fmt.Errorf("lock %s/%s: %w", g.namespace, entityID, err)
	}

	ok, err := session.TryLock(ctx, key)
	if err != nil {
		session.Close(ctx, true)
		return false, fmt.Errorf("lock %s/%s: %w", g.namespace, entityID, err)
	}
	if !ok {
		session.Close(ctx, false)
		return false, nil
	}

	return g.track(ctx, key, session), nil
}

// Acquire waits until the lock for entityID is available or ctx is done.
func (g *Guard) Acquire(ctx context.Context, entityID string) error {
	key := Key(g.namespace, entityID)

	session, err := g.source.Session(ctx)
	if err != nil {
		return fmt.Errorf("lock %s/%s: %w", g.namespace, entityID, err)
	}
	if err := session.Lock(ctx, key); err != nil {
		session.Close(ctx, true)
		return fmt.Errorf("lock %s/%s: %w", g.namespace, entityID, err)
	}

	if !g.track(ctx, key, session) {
		return ErrLockUnavailable
	}
	return nil
}

// Release frees the lock for entityID. Releasing a lock that is not held is
// a no-op.
func (g *Guard) Release(ctx context.Context, entityID string) error {
	key := Key(g.namespace, entityID)

	g.mu.Lock()
	session, ok := g.held[key]
	delete(g.held, key)
	g.mu.Unlock()
	if !ok {
		return nil
	}

	unlocked, err := session.Unlock(ctx, key)
	if err != nil {
		session.Close(ctx, true)
		return fmt.Errorf("unlock %s/%s: %w", g.namespace, entityID, err)
	}
	if !unlocked {
		g.log.Warn("advisory lock was not held by its session", "namespace", g.namespace, "entity_id", entityID)
	}
	session.Close(ctx, false)
	return nil
}

// Close releases every lock still held by this guard.
func (g *Guard) Close(ctx context.Context) {
	g.mu.Lock()
	held := g.held
	g.held = make(map[int64]Session)
	g.mu.Unlock()

	for key, session := range held {
		if _, err := session.Unlock(ctx, key); err != nil {
			session.Close(ctx, true)
			continue
		}
		session.Close(ctx, false)
	}
}

// track records a session as the holder of key. Two blocking acquirers in one
// process can both win at the database if the first released between them;
// the map only ever keeps one holder per key.
func (g *Guard) track(ctx context.Context, key int64, session Session) bool {
	g.mu.Lock()
	if _, exists := g.held[key]; exists {
		g.mu.Unlock()
		_, _ = session.Unlock(ctx, key)
		session.Close(ctx, false)
		return false
	}
	g.held[key] = session
	g.mu.Unlock()
	return true
}

// WithLock runs fn while holding the lock for entityID and releases it on
// every exit path, including a panic in fn. When blocking is false and the
// lock is busy it returns ErrLockUnavailable without calling fn.
//
// If the lock cannot be taken or released because of an infrastructure
// failure, the failure is logged and fn runs unguarded.
func WithLock[T any](ctx context.Context, g *Guard, entityID string, blocking bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	locked := false
	if blocking {
		err := g.Acquire(ctx, entityID)
		switch {
		case err == nil:
			locked = true
		case errors.Is(err, ErrLockUnavailable):
			return zero, err
		case ctx.Err() != nil:
			return zero, ctx.Err()
		default:
			g.log.Error("advisory lock acquire failed, continuing without lock", "namespace", g.namespace, "entity_id", entityID, "error", err)
		}
	} else {
		ok, err := g.TryAcquire(ctx, entityID)
		switch {
		case err != nil:
			g.log.Error("advisory lock acquire failed, continuing without lock", "namespace", g.namespace, "entity_id", entityID, "error", err)
		case !ok:
			return zero, ErrLockUnavailable
		default:
			locked = true
		}
	}

	if locked {
		defer func() {
			if err := g.Release(context.WithoutCancel(ctx), entityID); err != nil {
				g.log.Error("advisory lock release failed", "namespace", g.namespace, "entity_id", entityID, "error", err)
			}
		}()
	}

	return fn(ctx)
}
