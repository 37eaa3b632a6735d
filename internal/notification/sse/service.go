// Package sse provides Server-Sent Events support for real-time notifications.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"client_portal_backend/platform/logger"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventSyncCompleted EventType = "sync_completed"
	EventLeadUpdated   EventType = "lead_updated"
)

const clientBuffer = 32

// Event represents an SSE event payload
type Event struct {
	Type     EventType   `json:"type"`
	ClientID uuid.UUID   `json:"clientId"`
	LeadID   uuid.UUID   `json:"leadId,omitempty"`
	Message  string      `json:"message,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// subscriber is one connected browser tab.
type subscriber struct {
	userID   uuid.UUID
	tenantID uuid.UUID
	events   chan Event
}

// Service manages SSE connections and broadcasts per tenant.
type Service struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID][]*subscriber
	closed  bool
	log     *logger.Logger
}

// New creates a new SSE service
func New(log *logger.Logger) *Service {
	return &Service{
		tenants: make(map[uuid.UUID][]*subscriber),
		log:     log,
	}
}

func (s *Service) add(sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.tenants[sub.tenantID] = append(s.tenants[sub.tenantID], sub)
	return true
}

func (s *Service) remove(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.tenants[sub.tenantID]
	for i, other := range subs {
		if other == sub {
			s.tenants[sub.tenantID] = append(subs[:i], subs[i+1:]...)
			close(sub.events)
			break
		}
	}
	if len(s.tenants[sub.tenantID]) == 0 {
		delete(s.tenants, sub.tenantID)
	}
}

// Subscribers returns the number of open connections for a tenant.
func (s *Service) Subscribers(tenantID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants[tenantID])
}

// PublishToTenant sends an event to every connection of the tenant. Slow
// readers drop events instead of blocking the publisher.
func (s *Service) PublishToTenant(tenantID uuid.UUID, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.tenants[tenantID]
	for _, sub := range subs {
		select {
		case sub.events <- event:
		default:
			s.log.Warn("sse buffer full, dropping event", "user_id", sub.userID, "type", event.Type)
		}
	}
	s.log.Debug("sse event published", "type", event.Type, "tenant_id", tenantID, "subscribers", len(subs))
}

// Handler streams the caller's tenant events until the client disconnects.
func (s *Service) Handler(getUserID func(*gin.Context) (uuid.UUID, bool), getTenantID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := getUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		tenantID, ok := getTenantID(c)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "token is not bound to a client"})
			return
		}

		sub := &subscriber{userID: userID, tenantID: tenantID, events: make(chan Event, clientBuffer)}
		if !s.add(sub) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		defer s.remove(sub)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		c.SSEvent("connected", gin.H{"userId": userID, "clientId": tenantID})
		c.Writer.Flush()
		s.log.Debug("sse client connected", "user_id", userID, "tenant_id", tenantID)

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				s.log.Debug("sse client disconnected", "user_id", userID)
				return
			case event, ok := <-sub.events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					s.log.Error("sse event encode failed", "error", err)
					continue
				}
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close ends every open stream and rejects new ones.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, subs := range s.tenants {
		for _, sub := range subs {
			close(sub.events)
		}
	}
	s.tenants = make(map[uuid.UUID][]*subscriber)
}
