package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"client_portal_backend/platform/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func fixed(id uuid.UUID) func(*gin.Context) (uuid.UUID, bool) {
	return func(*gin.Context) (uuid.UUID, bool) { return id, true }
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventsReachOnlyTheirTenant(t *testing.T) {
	svc := New(logger.New("development"))
	tenant, other := uuid.New(), uuid.New()

	engine := gin.New()
	engine.GET("/events", svc.Handler(fixed(uuid.New()), fixed(tenant)))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.ServeHTTP(rec, req)
	}()

	waitFor(t, func() bool { return svc.Subscribers(tenant) == 1 })
	svc.PublishToTenant(other, Event{Type: EventSyncCompleted, Message: "foreign"})
	svc.PublishToTenant(tenant, Event{Type: EventLeadUpdated, ClientID: tenant, Message: "mine"})

	// Give the stream loop a chance to write before disconnecting.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event:connected") {
		t.Fatalf("expected connected event, got %q", body)
	}
	if !strings.Contains(body, "event:lead_updated") || !strings.Contains(body, "mine") {
		t.Fatalf("expected tenant event, got %q", body)
	}
	if strings.Contains(body, "foreign") {
		t.Fatalf("event leaked across tenants: %q", body)
	}
	if svc.Subscribers(tenant) != 0 {
		t.Fatalf("subscriber not removed after disconnect")
	}
}

func TestHandlerRequiresTenant(t *testing.T) {
	svc := New(logger.New("development"))
	engine := gin.New()
	engine.GET("/events", svc.Handler(fixed(uuid.New()), func(*gin.Context) (uuid.UUID, bool) { return uuid.Nil, false }))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCloseEndsStreams(t *testing.T) {
	svc := New(logger.New("development"))
	tenant := uuid.New()
	engine := gin.New()
	engine.GET("/events", svc.Handler(fixed(uuid.New()), fixed(tenant)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))
	}()
	waitFor(t, func() bool { return svc.Subscribers(tenant) == 1 })

	svc.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not end on close")
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after close, got %d", rec.Code)
	}
}
