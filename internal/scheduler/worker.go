package scheduler

import (
	"context"
	"errors"
	"fmt"

	"client_portal_backend/internal/leadsync"
	"client_portal_backend/internal/lock"
	"client_portal_backend/platform/config"
	"client_portal_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// SyncRunner is implemented by leadsync.Service.
type SyncRunner interface {
	Run(ctx context.Context, req leadsync.RunRequest, progress leadsync.ProgressFunc) (leadsync.Summary, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner SyncRunner
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, runner SyncRunner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		runner: runner,
		log:    log,
	}

	mux.HandleFunc(TaskLeadSync, w.handleLeadSync)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleLeadSync runs one queued reconciliation. Only a failed run is
// retried; partial failures are reported in the summary and left alone.
func (w *Worker) handleLeadSync(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLeadSyncPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	clientID, err := uuid.Parse(payload.ClientID)
	if err != nil {
		return fmt.Errorf("invalid client id %q: %w", payload.ClientID, asynq.SkipRetry)
	}

	mode, err := leadsync.ParseMode(payload.Mode)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	summary, err := w.runner.Run(ctx, leadsync.RunRequest{ClientID: clientID, Mode: mode}, nil)
	switch {
	case errors.Is(err, lock.ErrLockUnavailable):
		// The run already in progress covers this request.
		w.log.Info("queued lead sync skipped, run in progress", "client_id", payload.ClientID)
		return nil
	case errors.Is(err, leadsync.ErrClientNotFound):
		return fmt.Errorf("client %s: %w", payload.ClientID, asynq.SkipRetry)
	case err != nil:
		return err
	case summary.Status == leadsync.StatusFailed:
		return fmt.Errorf("lead sync for %s failed: %s", payload.ClientID, summary.FatalError)
	}
	return nil
}
