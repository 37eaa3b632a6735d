package leadsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"client_portal_backend/internal/airtable"
	"client_portal_backend/internal/events"
	"client_portal_backend/platform/logger"
)

const (
	DefaultBatchSize       = 500
	DefaultMaxErrorSamples = 5
)

// Store is the persistence the engine needs.
type Store interface {
	GetClient(ctx context.Context, clientID uuid.UUID) (Client, error)
	LoadCampaignLookup(ctx context.Context, clientID uuid.UUID) (CampaignLookup, error)
	// UpsertBatch writes all drafts or none of them.
	UpsertBatch(ctx context.Context, drafts []Draft) (UpsertCounts, error)
	UpsertOne(ctx context.Context, draft Draft) (UpsertOutcome, error)
	MarkClientSynced(ctx context.Context, clientID uuid.UUID, at time.Time) error
}

// RemoteSource streams records from the system of record.
type RemoteSource interface {
	StreamAllRecords(ctx context.Context, container airtable.Container, opts airtable.StreamOptions, onRecord func(airtable.Record) error) error
}

// EngineOptions tunes the engine.
type EngineOptions struct {
	BatchSize       int
	MaxErrorSamples int
	DefaultTable    string
}

// Engine runs reconciliation passes. One Engine serves every tenant; each
// Run is independent.
type Engine struct {
	store        Store
	remote       RemoteSource
	mapper       *Mapper
	bus          events.Bus
	log          *logger.Logger
	batchSize    int
	maxSamples   int
	defaultTable string
	now          func() time.Time
}

// NewEngine creates an engine.
func NewEngine(store Store, remote RemoteSource, mapper *Mapper, bus events.Bus, opts EngineOptions, log *logger.Logger) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxErrorSamples <= 0 {
		opts.MaxErrorSamples = DefaultMaxErrorSamples
	}
	if opts.DefaultTable == "" {
		opts.DefaultTable = "Leads"
	}
	return &Engine{
		store:        store,
		remote:       remote,
		mapper:       mapper,
		bus:          bus,
		log:          log,
		batchSize:    opts.BatchSize,
		maxSamples:   opts.MaxErrorSamples,
		defaultTable: opts.DefaultTable,
		now:          time.Now,
	}
}

// Run performs one reconciliation pass for a tenant.
//
// Per-record mapping and persistence failures are counted and sampled but
// never abort the run. The returned error is non-nil only when the run
// failed: the tenant or its campaigns could not be loaded, or the remote
// stream itself failed. Batches flushed before a failure stay committed.
func (e *Engine) Run(ctx context.Context, req RunRequest, progress ProgressFunc) (Summary, error) {
	if req.Mode == "" {
		req.Mode = ModeFull
	}

	r := &run{
		engine:   e,
		progress: progress,
		unknown:  make(map[string]struct{}),
		batch:    make([]Draft, 0, e.batchSize),
		summary: Summary{
			ClientID:  req.ClientID,
			Mode:      req.Mode,
			Status:    StatusRunning,
			StartedAt: e.now().UTC(),
		},
	}

	err := r.execute(ctx, req)
	r.finish(ctx, err)
	return r.summary, err
}

type run struct {
	engine   *Engine
	progress ProgressFunc
	client   Client
	lookup   CampaignLookup
	batch    []Draft
	batches  int
	unknown  map[string]struct{}
	summary  Summary
}

func (r *run) execute(ctx context.Context, req RunRequest) error {
	e := r.engine

	client, err := e.store.GetClient(ctx, req.ClientID)
	if err != nil {
		return err
	}
	r.client = client

	lookup, err := e.store.LoadCampaignLookup(ctx, req.ClientID)
	if err != nil {
		return fmt.Errorf("load campaigns: %w", err)
	}
	r.lookup = lookup

	table := client.TableName
	if table == "" {
		table = e.defaultTable
	}
	opts := airtable.StreamOptions{PageSize: airtable.MaxPageSize}
	if req.Mode == ModeIncremental && client.LastSyncedAt != nil {
		since := *client.LastSyncedAt
		opts.ModifiedSince = &since
	}

	streamErr := e.remote.StreamAllRecords(ctx, airtable.Container{BaseID: client.BaseID, Table: table}, opts, func(rec airtable.Record) error {
		r.handle(rec)
		if len(r.batch) >= e.batchSize {
			r.flush(ctx)
		}
		return ctx.Err()
	})

	// Records already mapped are still written unless the caller gave up.
	if ctx.Err() == nil {
		r.flush(ctx)
	}

	if streamErr != nil {
		return streamErr
	}

	if err := e.store.MarkClientSynced(ctx, client.ID, r.summary.StartedAt); err != nil {
		r.recordError(fmt.Errorf("mark client synced: %w", err))
	}
	return nil
}

func (r *run) handle(rec airtable.Record) {
	r.summary.TotalFetched++

	res := r.engine.mapper.Map(rec, r.client.ID, r.lookup)
	draft, ok := res.Draft()
	if !ok {
		r.engine.log.Warn("lead mapping failed", "client_id", r.client.ID.String(), "external_id", rec.ID, "error", res.Err())
		r.recordError(res.Err())
		return
	}

	for _, key := range draft.UnknownFields {
		if _, seen := r.unknown[key]; seen {
			continue
		}
		r.unknown[key] = struct{}{}
		r.engine.log.Debug("ignoring unknown airtable field", "client_id", r.client.ID.String(), "field", key)
	}

	r.batch = append(r.batch, draft)
}

// flush writes the pending batch in one statement set and falls back to
// per-record upserts if the batch is rejected.
func (r *run) flush(ctx context.Context) {
	if len(r.batch) == 0 {
		return
	}
	e := r.engine

	counts, err := e.store.UpsertBatch(ctx, r.batch)
	if err == nil {
		r.addCounts(counts)
		for _, d := range r.batch {
			if d.Enriched {
				r.summary.TotalEnriched++
			}
		}
	} else {
		e.log.Warn("batch upsert failed, retrying per record", "client_id", r.client.ID.String(), "size", len(r.batch), "error", err)
		for _, d := range r.batch {
			outcome, err := e.store.UpsertOne(ctx, d)
			if err != nil {
				err = fmt.Errorf("record %s: %w", d.ExternalID, err)
				e.log.DatabaseError("upsert lead", err)
				r.recordError(err)
				continue
			}
			var c UpsertCounts
			c.Add(outcome)
			r.addCounts(c)
			if d.Enriched {
				r.summary.TotalEnriched++
			}
		}
	}

	r.batch = r.batch[:0]
	r.batches++
	r.emit()
}

func (r *run) addCounts(c UpsertCounts) {
	r.summary.TotalCreated += c.Created
	r.summary.TotalUpdated += c.Updated
	r.summary.Unchanged += c.Unchanged
}

func (r *run) recordError(err error) {
	r.summary.Errors++
	if len(r.summary.ErrorSamples) < r.engine.maxSamples {
		r.summary.ErrorSamples = append(r.summary.ErrorSamples, err.Error())
	}
}

func (r *run) emit() {
	if r.progress == nil {
		return
	}
	r.progress(ProgressEvent{
		Status:        r.summary.Status,
		Batches:       r.batches,
		TotalFetched:  r.summary.TotalFetched,
		TotalCreated:  r.summary.TotalCreated,
		TotalUpdated:  r.summary.TotalUpdated,
		TotalEnriched: r.summary.TotalEnriched,
		Errors:        r.summary.Errors,
	})
}

func (r *run) finish(ctx context.Context, err error) {
	e := r.engine
	duration := e.now().Sub(r.summary.StartedAt)
	r.summary.DurationSeconds = duration.Seconds()

	switch {
	case err != nil:
		r.summary.Status = StatusFailed
		r.summary.FatalError = err.Error()
	case r.summary.Errors > 0:
		r.summary.Status = StatusCompletedWithErrors
	default:
		r.summary.Status = StatusCompleted
	}

	if err != nil && !errors.Is(err, ErrClientNotFound) {
		e.log.Error("lead sync failed", "client_id", r.summary.ClientID.String(), "error", err)
	}
	e.log.SyncRun(r.summary.ClientID.String(), string(r.summary.Mode), string(r.summary.Status),
		r.summary.TotalFetched, r.summary.TotalCreated, r.summary.TotalUpdated, r.summary.TotalEnriched,
		r.summary.Errors, duration)

	r.emit()

	if e.bus != nil {
		e.bus.Publish(ctx, events.LeadSyncCompleted{
			BaseEvent:       events.NewBaseEvent(),
			ClientID:        r.summary.ClientID,
			Mode:            string(r.summary.Mode),
			Status:          string(r.summary.Status),
			TotalFetched:    r.summary.TotalFetched,
			TotalCreated:    r.summary.TotalCreated,
			TotalUpdated:    r.summary.TotalUpdated,
			TotalEnriched:   r.summary.TotalEnriched,
			Errors:          r.summary.Errors,
			DurationSeconds: r.summary.DurationSeconds,
		})
	}
}
