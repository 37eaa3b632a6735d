package handler

import (
	"context"
	"net/http"

	"client_portal_backend/internal/leads/transport"
	"client_portal_backend/platform/httpkit"
	"client_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgNoTenant         = "token is not bound to a client"
)

// LeadService is implemented by service.Service.
type LeadService interface {
	Get(ctx context.Context, clientID, id uuid.UUID) (transport.LeadResponse, error)
	Update(ctx context.Context, clientID, actorID, id uuid.UUID, req transport.UpdateLeadRequest) (transport.LeadResponse, error)
	Create(ctx context.Context, clientID, actorID uuid.UUID, req transport.CreateLeadRequest) (transport.LeadResponse, error)
}

type Handler struct {
	svc LeadService
	val *validator.Validator
}

func New(svc LeadService, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("/:id", h.Get)
	rg.PATCH("/:id", h.Update)
}

func (h *Handler) Get(c *gin.Context) {
	clientID, ok := tenant(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	lead, err := h.svc.Get(c.Request.Context(), clientID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) Update(c *gin.Context) {
	clientID, ok := tenant(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.UpdateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	identity := httpkit.MustGetIdentity(c)
	lead, err := h.svc.Update(c.Request.Context(), clientID, identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) Create(c *gin.Context) {
	clientID, ok := tenant(c)
	if !ok {
		return
	}

	var req transport.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	identity := httpkit.MustGetIdentity(c)
	lead, err := h.svc.Create(c.Request.Context(), clientID, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, lead)
}

func tenant(c *gin.Context) (uuid.UUID, bool) {
	clientID, ok := httpkit.GetIdentity(c).TenantID()
	if !ok {
		httpkit.Error(c, http.StatusForbidden, msgNoTenant, nil)
		return uuid.Nil, false
	}
	return clientID, true
}
