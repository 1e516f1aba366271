package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/projectledger/internal/identity"
	"github.com/jmerrifield20/projectledger/internal/ledger"
)

// ProjectChecker reports whether a project exists. Projects are owned by
// another service; the ledger only refers to them by id.
type ProjectChecker interface {
	Exists(ctx context.Context, projectID string) (bool, error)
}

// LedgerHandler exposes the project ledger over HTTP.
type LedgerHandler struct {
	writer   *ledger.Writer
	reader   *ledger.Reader
	actor    gin.HandlerFunc
	projects ProjectChecker // nil = no existence check
	logger   *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler. Writes take the actor id from the
// X-Actor-ID header until SetActorMiddleware installs token authentication.
func NewLedgerHandler(writer *ledger.Writer, reader *ledger.Reader, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		writer: writer,
		reader: reader,
		actor:  identity.HeaderActor(),
		logger: logger,
	}
}

// SetActorMiddleware replaces the middleware that resolves the writing actor.
func (h *LedgerHandler) SetActorMiddleware(mw gin.HandlerFunc) {
	h.actor = mw
}

// SetProjectChecker enables 404 responses for writes to unknown projects.
func (h *LedgerHandler) SetProjectChecker(pc ProjectChecker) {
	h.projects = pc
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	p := rg.Group("/projects/:id")
	{
		p.POST("/events", h.actor, h.CreateEvent)
		p.GET("/timeline", h.Timeline)
		p.GET("/verify", h.Verify)
	}
}

type createEventRequest struct {
	EventType string          `json:"event_type" binding:"required"`
	Data      json.RawMessage `json:"data"`
}

// CreateEvent handles POST /projects/:id/events.
func (h *LedgerHandler) CreateEvent(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("id")

	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.projects != nil {
		ok, err := h.projects.Exists(ctx, projectID)
		if err != nil {
			h.logger.Error("project lookup", zap.String("project_id", projectID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up project"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
	}

	event, err := h.writer.CreateEvent(ctx, projectID, req.EventType, req.Data, identity.ActorFromCtx(c))
	if err != nil {
		h.writeError(c, "create event", projectID, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// timelineEvent renders an event with its decoded payload in place of the raw bytes.
type timelineEvent struct {
	*ledger.Event
	Data map[string]any `json:"data"`
}

// Timeline handles GET /projects/:id/timeline. Events are oldest first unless
// order=desc is given.
func (h *LedgerHandler) Timeline(c *gin.Context) {
	projectID := c.Param("id")

	order := c.DefaultQuery("order", "asc")
	if order != "asc" && order != "desc" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order must be asc or desc"})
		return
	}

	entries, err := h.reader.GetTimeline(c.Request.Context(), projectID)
	if err != nil {
		h.writeError(c, "timeline", projectID, err)
		return
	}

	events := make([]timelineEvent, 0, len(entries))
	for _, entry := range entries {
		events = append(events, timelineEvent{Event: entry.Event, Data: entry.Data})
	}
	if order == "desc" {
		slices.Reverse(events)
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"events":     events,
	})
}

// Verify handles GET /projects/:id/verify. A broken chain is still a 200;
// the body reports where verification stopped.
func (h *LedgerHandler) Verify(c *gin.Context) {
	projectID := c.Param("id")

	res, err := h.reader.VerifyIntegrity(c.Request.Context(), projectID)
	if err != nil {
		h.writeError(c, "verify", projectID, err)
		return
	}
	RecordVerification(res.Valid)
	c.JSON(http.StatusOK, res)
}

// writeError maps ledger error kinds to HTTP statuses.
func (h *LedgerHandler) writeError(c *gin.Context, op, projectID string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, ledger.ErrEncoding):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		RecordConflict()
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent write to project, retry"})
	default:
		h.logger.Error(op, zap.String("project_id", projectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger storage unavailable"})
	}
}
