package leadsync

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"client_portal_backend/internal/lock"
	"client_portal_backend/platform/httpkit"
	"client_portal_backend/platform/logger"
	"client_portal_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgAlreadyRunning   = "a sync for this client is already running"
	msgClientNotFound   = "client not found"
	msgSyncFailed       = "sync failed"
)

// SyncService is what the handler needs from Service.
type SyncService interface {
	Run(ctx context.Context, req RunRequest, progress ProgressFunc) (Summary, error)
	Enqueue(ctx context.Context, req RunRequest) (string, error)
}

// Handler exposes the sync trigger endpoints.
type Handler struct {
	svc SyncService
	val *validator.Validator
	log *logger.Logger
}

// NewHandler creates the trigger handler.
func NewHandler(svc SyncService, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{svc: svc, val: val, log: log}
}

// TriggerSync runs a reconciliation and answers with its summary: 200 when
// clean, 207 with record-level errors, 502 when the run failed.
func (h *Handler) TriggerSync(c *gin.Context) {
	var req TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	runReq, err := toRunRequest(req.ClientID, req.Mode)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}

	if req.Async {
		taskID, err := h.svc.Enqueue(c.Request.Context(), runReq)
		if httpkit.HandleError(c, err) {
			return
		}
		httpkit.JSON(c, http.StatusAccepted, EnqueuedResponse{TaskID: taskID, ClientID: runReq.ClientID.String(), Mode: string(runReq.Mode)})
		return
	}

	summary, err := h.svc.Run(c.Request.Context(), runReq, nil)
	writeSummary(c, summary, err)
}

// StreamSync runs a reconciliation and streams progress as server-sent
// events, ending with a summary or error event.
func (h *Handler) StreamSync(c *gin.Context) {
	var query StreamSyncQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(query); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	runReq, err := toRunRequest(query.ClientID, query.Mode)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}

	type outcome struct {
		summary Summary
		err     error
	}
	updates := make(chan ProgressEvent, 64)
	done := make(chan outcome, 1)

	ctx := c.Request.Context()
	go func() {
		summary, err := h.svc.Run(ctx, runReq, func(ev ProgressEvent) {
			select {
			case updates <- ev:
			default:
			}
		})
		done <- outcome{summary: summary, err: err}
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("sync stream client disconnected", "client_id", runReq.ClientID.String())
			return
		case ev := <-updates:
			c.SSEvent("progress", ev)
			c.Writer.Flush()
		case out := <-done:
			// Drain progress queued before the run returned.
			for drained := false; !drained; {
				select {
				case ev := <-updates:
					c.SSEvent("progress", ev)
				default:
					drained = true
				}
			}
			if out.err != nil {
				c.SSEvent("error", gin.H{"error": errorMessage(out.err), "details": out.summary})
			} else {
				c.SSEvent("summary", out.summary)
			}
			c.Writer.Flush()
			return
		}
	}
}

func toRunRequest(clientID, mode string) (RunRequest, error) {
	id, err := uuid.Parse(clientID)
	if err != nil {
		return RunRequest{}, err
	}
	m, err := ParseMode(mode)
	if err != nil {
		return RunRequest{}, err
	}
	return RunRequest{ClientID: id, Mode: m}, nil
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, lock.ErrLockUnavailable):
		return msgAlreadyRunning
	case errors.Is(err, ErrClientNotFound):
		return msgClientNotFound
	default:
		return msgSyncFailed
	}
}

func writeSummary(c *gin.Context, summary Summary, err error) {
	switch {
	case errors.Is(err, lock.ErrLockUnavailable):
		httpkit.Error(c, http.StatusConflict, msgAlreadyRunning, nil)
	case errors.Is(err, ErrClientNotFound):
		httpkit.Error(c, http.StatusNotFound, msgClientNotFound, nil)
	case err != nil:
		httpkit.Error(c, http.StatusBadGateway, msgSyncFailed, summary)
	case summary.Status == StatusCompletedWithErrors:
		httpkit.JSON(c, http.StatusMultiStatus, summary)
	default:
		httpkit.OK(c, summary)
	}
}
