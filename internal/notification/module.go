// Package notification pushes domain events to connected portal users.
// This module subscribes to events and inverts the dependency: domain modules
// publish on the bus and never know who is listening.
package notification

import (
	"context"

	"client_portal_backend/internal/events"
	apphttp "client_portal_backend/internal/http"
	"client_portal_backend/internal/notification/sse"
	"client_portal_backend/platform/httpkit"
	"client_portal_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Module is the notification module implementing http.Module and events.Handler.
type Module struct {
	sse *sse.Service
	log *logger.Logger
}

// New creates the notification module.
func New(stream *sse.Service, log *logger.Logger) *Module {
	return &Module{sse: stream, log: log}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterRoutes mounts the tenant event stream.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/events", m.sse.Handler(userID, tenantID))
}

// RegisterHandlers subscribes to all relevant domain events on the event bus.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadSyncCompleted{}.EventName(), m)
	bus.Subscribe(events.LeadUpdated{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadSyncCompleted:
		m.sse.PublishToTenant(e.ClientID, sse.Event{
			Type:     sse.EventSyncCompleted,
			ClientID: e.ClientID,
			Message:  e.Status,
			Data:     e,
		})
	case events.LeadUpdated:
		m.sse.PublishToTenant(e.ClientID, sse.Event{
			Type:     sse.EventLeadUpdated,
			ClientID: e.ClientID,
			LeadID:   e.LeadID,
			Data: map[string]any{
				"changedFields": e.ChangedFields,
				"actorId":       e.ActorID,
				"claimedBy":     e.ClaimedBy,
			},
		})
	default:
		m.log.Debug("notification module ignoring event", "event", event.EventName())
	}
	return nil
}

func userID(c *gin.Context) (uuid.UUID, bool) {
	id := httpkit.GetIdentity(c)
	if !id.IsAuthenticated() {
		return uuid.Nil, false
	}
	return id.UserID(), true
}

func tenantID(c *gin.Context) (uuid.UUID, bool) {
	return httpkit.GetIdentity(c).TenantID()
}

var (
	_ apphttp.Module = (*Module)(nil)
	_ events.Handler = (*Module)(nil)
)
