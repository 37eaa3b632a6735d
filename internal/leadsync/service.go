package leadsync

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"client_portal_backend/internal/lock"
	"client_portal_backend/platform/apperr"
	"client_portal_backend/platform/logger"
)

// LockNamespace scopes the per-tenant run lock.
const LockNamespace = "lead-sync"

// ErrQueueUnavailable is returned by Enqueue when no queue is configured.
var ErrQueueUnavailable = errors.New("queued sync runs are not configured")

// Runner executes one reconciliation pass.
type Runner interface {
	Run(ctx context.Context, req RunRequest, progress ProgressFunc) (Summary, error)
}

// Enqueuer schedules a run on the background queue.
type Enqueuer interface {
	EnqueueLeadSync(ctx context.Context, clientID uuid.UUID, mode string) (string, error)
}

// Service is the entry point used by every trigger. It allows at most one
// run per tenant at a time.
type Service struct {
	runner Runner
	guard  *lock.Guard
	queue  Enqueuer
	log    *logger.Logger
}

// NewService creates the trigger-facing service. guard and queue may be nil.
func NewService(runner Runner, guard *lock.Guard, queue Enqueuer, log *logger.Logger) *Service {
	return &Service{runner: runner, guard: guard, queue: queue, log: log}
}

// Run executes a reconciliation now. It returns lock.ErrLockUnavailable
// without running when the tenant already has a run in progress.
func (s *Service) Run(ctx context.Context, req RunRequest, progress ProgressFunc) (Summary, error) {
	if s.guard == nil {
		return s.runner.Run(ctx, req, progress)
	}
	summary, err := lock.WithLock(ctx, s.guard, req.ClientID.String(), false, func(ctx context.Context) (Summary, error) {
		return s.runner.Run(ctx, req, progress)
	})
	if errors.Is(err, lock.ErrLockUnavailable) {
		s.log.Info("lead sync skipped, run already in progress", "client_id", req.ClientID.String())
		return Summary{ClientID: req.ClientID, Mode: req.Mode, Status: StatusNotStarted}, err
	}
	return summary, err
}

// Enqueue schedules a run on the background queue and returns its task id.
func (s *Service) Enqueue(ctx context.Context, req RunRequest) (string, error) {
	if s.queue == nil {
		return "", apperr.Wrap(apperr.KindUnavailable, ErrQueueUnavailable.Error(), ErrQueueUnavailable)
	}
	return s.queue.EnqueueLeadSync(ctx, req.ClientID, string(req.Mode))
}
