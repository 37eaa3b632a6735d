// Package leadsync reconciles client leads from Airtable into Postgres.
// This file defines the module that wires the engine and its trigger routes.
package leadsync

import (
	"fmt"

	"client_portal_backend/internal/airtable"
	"client_portal_backend/internal/events"
	apphttp "client_portal_backend/internal/http"
	"client_portal_backend/internal/lock"
	"client_portal_backend/platform/config"
	"client_portal_backend/platform/logger"
	"client_portal_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ModuleConfig is the configuration the sync module reads.
type ModuleConfig interface {
	config.AirtableConfig
	config.SyncConfig
}

// Module is the lead sync bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	service *Service
	guard   *lock.Guard
}

// NewMapperFromConfig loads the optional alias file and builds the mapper.
func NewMapperFromConfig(cfg ModuleConfig) (*Mapper, error) {
	aliases, err := LoadAliases(cfg.GetAirtableFieldAliasFile())
	if err != nil {
		return nil, err
	}
	mapper, err := NewMapper(cfg.GetPhoneRegion(), aliases)
	if err != nil {
		return nil, fmt.Errorf("build field mapper: %w", err)
	}
	return mapper, nil
}

// NewSyncService wires repository, engine and the per-tenant run guard.
// Every process that runs syncs (API, worker, CLI) builds it the same way.
func NewSyncService(pool *pgxpool.Pool, remote RemoteSource, mapper *Mapper, bus events.Bus, queue Enqueuer, cfg ModuleConfig, log *logger.Logger) (*Service, *lock.Guard) {
	engine := NewEngine(NewRepository(pool), remote, mapper, bus, EngineOptions{
		BatchSize:       cfg.GetSyncBatchSize(),
		MaxErrorSamples: cfg.GetSyncMaxErrorSamples(),
		DefaultTable:    cfg.GetAirtableDefaultTable(),
	}, log)

	guard := lock.New(lock.NewPoolSessions(pool), LockNamespace, log)
	return NewService(engine, guard, queue, log), guard
}

// NewModule creates and initializes the lead sync module.
func NewModule(pool *pgxpool.Pool, remote *airtable.Client, mapper *Mapper, bus events.Bus, queue Enqueuer, val *validator.Validator, cfg ModuleConfig, log *logger.Logger) *Module {
	svc, guard := NewSyncService(pool, remote, mapper, bus, queue, cfg, log)
	return &Module{
		handler: NewHandler(svc, val, log),
		service: svc,
		guard:   guard,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leadsync"
}

// Service returns the sync service for other entry points.
func (m *Module) Service() *Service {
	return m.service
}

// Guard returns the per-tenant run guard so the caller can release it on shutdown.
func (m *Module) Guard() *lock.Guard {
	return m.guard
}

// RegisterRoutes mounts the cron and admin trigger routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Cron.POST("/leads/sync", m.handler.TriggerSync)

	admin := ctx.Admin.Group("/leads/sync")
	admin.POST("", m.handler.TriggerSync)
	admin.GET("/stream", m.handler.StreamSync)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
