package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/apperr"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/middleware"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/servicenow"
)

// IncidentGateway runs incident operations for a session.
type IncidentGateway interface {
	ListIncidents(ctx context.Context, sid string) (json.RawMessage, error)
	CreateIncident(ctx context.Context, sid string, fields servicenow.IncidentFields) (json.RawMessage, error)
	UpdateIncident(ctx context.Context, sid, sysID string, fields servicenow.IncidentFields) (json.RawMessage, error)
	DeleteIncident(ctx context.Context, sid, sysID string) (int, error)
}

// IncidentHandler exposes the incident proxy API.
type IncidentHandler struct {
	gateway IncidentGateway
	logger  *slog.Logger
}

// NewIncidentHandler creates a new IncidentHandler.
func NewIncidentHandler(gateway IncidentGateway, logger *slog.Logger) *IncidentHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &IncidentHandler{gateway: gateway, logger: logger}
}

// List returns the upstream list body unchanged.
func (h *IncidentHandler) List(c *gin.Context) {
	sid, _ := middleware.GetSessionID(c)
	body, err := h.gateway.ListIncidents(c.Request.Context(), sid)
	if err != nil {
		writeError(c, middleware.Logger(c, h.logger), err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// Create forwards impact, urgency and short_description as a new incident.
func (h *IncidentHandler) Create(c *gin.Context) {
	fields, ok := h.bindFields(c)
	if !ok {
		return
	}

	sid, _ := middleware.GetSessionID(c)
	result, err := h.gateway.CreateIncident(c.Request.Context(), sid, fields)
	if err != nil {
		writeError(c, middleware.Logger(c, h.logger), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Incident created successfully",
		"result":  result,
	})
}

// Update patches the incident named by :sys_id.
func (h *IncidentHandler) Update(c *gin.Context) {
	fields, ok := h.bindFields(c)
	if !ok {
		return
	}

	sid, _ := middleware.GetSessionID(c)
	result, err := h.gateway.UpdateIncident(c.Request.Context(), sid, c.Param("sys_id"), fields)
	if err != nil {
		writeError(c, middleware.Logger(c, h.logger), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Incident updated successfully",
		"result":  result,
	})
}

// Delete removes the incident named by :sys_id.
func (h *IncidentHandler) Delete(c *gin.Context) {
	sysID := c.Param("sys_id")
	sid, _ := middleware.GetSessionID(c)

	status, err := h.gateway.DeleteIncident(c.Request.Context(), sid, sysID)
	if err != nil {
		writeError(c, middleware.Logger(c, h.logger), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Incident deleted successfully",
		"sys_id":  sysID,
		"status":  status,
	})
}

func (h *IncidentHandler) bindFields(c *gin.Context) (servicenow.IncidentFields, bool) {
	var fields servicenow.IncidentFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		writeError(c, middleware.Logger(c, h.logger), apperr.BadRequest("Malformed JSON body", err))
		return fields, false
	}
	return fields, true
}
