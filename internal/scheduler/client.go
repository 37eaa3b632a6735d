package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"client_portal_backend/platform/apperr"
	"client_portal_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	// leadSyncUniqueWindow drops duplicate enqueues for the same tenant and mode.
	leadSyncUniqueWindow = 10 * time.Minute
	leadSyncMaxRetry     = 3
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
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

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueLeadSync queues a reconciliation run and returns the task id.
func (c *Client) EnqueueLeadSync(ctx context.Context, clientID uuid.UUID, mode string) (string, error) {
	task, err := NewLeadSyncTask(LeadSyncPayload{ClientID: clientID.String(), Mode: mode})
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(leadSyncMaxRetry),
		asynq.Unique(leadSyncUniqueWindow),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", apperr.Wrap(apperr.KindConflict, "a sync for this client is already queued", err)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnavailable, "could not queue sync", err)
	}
	return info.ID, nil
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
