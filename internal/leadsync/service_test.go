package leadsync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"client_portal_backend/internal/lock"
	"client_portal_backend/platform/apperr"
	"client_portal_backend/platform/logger"
)

// memSessions is a minimal advisory lock table shared by all sessions.
type memSessions struct {
	mu     sync.Mutex
	owners map[int64]*memSession
}

type memSession struct {
	src *memSessions
}

func (m *memSessions) Session(ctx context.Context) (lock.Session, error) {
	return &memSession{src: m}, nil
}

func (s *memSession) TryLock(ctx context.Context, key int64) (bool, error) {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if owner, ok := s.src.owners[key]; ok && owner != s {
		return false, nil
	}
	s.src.owners[key] = s
	return true, nil
}

func (s *memSession) Lock(ctx context.Context, key int64) error {
	ok, _ := s.TryLock(ctx, key)
	if !ok {
		return errors.New("would block")
	}
	return nil
}

func (s *memSession) Unlock(ctx context.Context, key int64) (bool, error) {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if s.src.owners[key] != s {
		return false, nil
	}
	delete(s.src.owners, key)
	return true, nil
}

func (s *memSession) Close(context.Context, bool) {}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (r *blockingRunner) Run(ctx context.Context, req RunRequest, progress ProgressFunc) (Summary, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	close(r.started)
	<-r.release
	return Summary{ClientID: req.ClientID, Status: StatusCompleted}, nil
}

type fakeQueue struct {
	clientID uuid.UUID
	mode     string
}

func (q *fakeQueue) EnqueueLeadSync(ctx context.Context, clientID uuid.UUID, mode string) (string, error) {
	q.clientID = clientID
	q.mode = mode
	return "task-1", nil
}

func TestServiceRejectsConcurrentRunForSameTenant(t *testing.T) {
	log := logger.New("development")
	guard := lock.New(&memSessions{owners: make(map[int64]*memSession)}, LockNamespace, log)
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(runner, guard, nil, log)
	clientID := uuid.New()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background(), RunRequest{ClientID: clientID}, nil)
		done <- err
	}()
	<-runner.started

	summary, err := svc.Run(context.Background(), RunRequest{ClientID: clientID}, nil)
	if !errors.Is(err, lock.ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable, got %v", err)
	}
	if summary.Status != StatusNotStarted {
		t.Fatalf("expected not_started summary, got %s", summary.Status)
	}

	close(runner.release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected exactly one run, got %d", runner.calls)
	}
}

func TestServiceEnqueue(t *testing.T) {
	log := logger.New("development")
	queue := &fakeQueue{}
	svc := NewService(nil, nil, queue, log)
	clientID := uuid.New()

	taskID, err := svc.Enqueue(context.Background(), RunRequest{ClientID: clientID, Mode: ModeIncremental})
	if err != nil || taskID != "task-1" {
		t.Fatalf("unexpected result %q %v", taskID, err)
	}
	if queue.clientID != clientID || queue.mode != "incremental" {
		t.Fatalf("unexpected enqueue args %+v", queue)
	}

	_, err = NewService(nil, nil, nil, log).Enqueue(context.Background(), RunRequest{ClientID: clientID})
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable without a queue, got %v", err)
	}
}
