// Package leads provides the manual lead editing bounded context module.
// This file defines the module that encapsulates all leads setup and route registration.
package leads

import (
	"client_portal_backend/internal/airtable"
	"client_portal_backend/internal/events"
	apphttp "client_portal_backend/internal/http"
	"client_portal_backend/internal/leads/handler"
	"client_portal_backend/internal/leads/repository"
	"client_portal_backend/internal/leads/service"
	"client_portal_backend/internal/leadsync"
	"client_portal_backend/internal/lock"
	"client_portal_backend/platform/logger"
	"client_portal_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	guard   *lock.Guard
}

// NewModule creates and initializes the leads module with all its dependencies.
func NewModule(pool *pgxpool.Pool, remote *airtable.Client, mapper *leadsync.Mapper, eventBus events.Bus, val *validator.Validator, defaultTable string, log *logger.Logger) *Module {
	repo := repository.New(pool)
	guard := lock.New(lock.NewPoolSessions(pool), service.LockNamespace, log)
	svc := service.New(repo, remote, leadsync.NewRepository(pool), mapper, guard, eventBus, defaultTable, log)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		guard:   guard,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Guard returns the per-lead edit guard so the caller can release it on shutdown.
func (m *Module) Guard() *lock.Guard {
	return m.guard
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// All leads routes require authentication
	leadsGroup := ctx.Protected.Group("/leads")
	m.handler.RegisterRoutes(leadsGroup)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
