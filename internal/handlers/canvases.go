package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/whiteboard/internal/services"
	"github.com/charlesng35/whiteboard/pkg/logger"
	"github.com/charlesng35/whiteboard/pkg/response"
)

// LiveNotifier pushes REST-side changes to connected clients.
type LiveNotifier interface {
	NotifyCanvasShared(userID, canvasID, canvasName string) bool
	PublishCanvasUpdate(snapshot *services.CanvasSnapshot) int
}

// CanvasHandler exposes the canvas REST surface.
type CanvasHandler struct {
	canvases *services.CanvasService
	notifier LiveNotifier
}

// NewCanvasHandler constructs a CanvasHandler. notifier may be nil.
func NewCanvasHandler(canvases *services.CanvasService, notifier LiveNotifier) (*CanvasHandler, error) {
	if canvases == nil {
		return nil, errors.New("canvas handler: canvas service is required")
	}
	return &CanvasHandler{canvases: canvases, notifier: notifier}, nil
}

type createCanvasRequest struct {
	Name string `json:"name" validate:"notblank,max=255"`
}

type updateCanvasRequest struct {
	Elements []json.RawMessage `json:"elements" validate:"required"`
}

type shareCanvasRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ShareResponse reports the outcome of a share grant.
type ShareResponse struct {
	Canvas   *services.CanvasSnapshot `json:"canvas"`
	UserID   string                   `json:"userId"`
	Created  bool                     `json:"created"`
	Notified bool                     `json:"notified"`
}

// GET /api/canvases
func (h *CanvasHandler) List(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	canvases, err := h.canvases.ListForUser(requestContext(c), identity.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, canvases, &response.Meta{Total: len(canvases)})
}

// POST /api/canvases
func (h *CanvasHandler) Create(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req createCanvasRequest
	if !bindAndValidate(c, &req) {
		return
	}

	canvas, err := h.canvases.Create(requestContext(c), identity.UserID, req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, canvas)
}

// GET /api/canvases/:id
func (h *CanvasHandler) Get(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	canvas, err := h.canvases.GetCanvasForIdentity(requestContext(c), identity, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, canvas)
}

// PUT /api/canvases/:id
func (h *CanvasHandler) Update(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req updateCanvasRequest
	if !bindAndValidate(c, &req) {
		return
	}

	canvas, err := h.canvases.SaveElements(requestContext(c), identity, c.Param("id"), req.Elements)
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.notifier != nil {
		h.notifier.PublishCanvasUpdate(canvas)
	}

	response.Success(c, http.StatusOK, canvas)
}

// PUT /api/canvases/:id/share
func (h *CanvasHandler) Share(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req shareCanvasRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.canvases.Share(requestContext(c), identity.UserID, c.Param("id"), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := ShareResponse{Canvas: result.Canvas, UserID: result.Target.UserID, Created: result.Created}
	if result.Created && h.notifier != nil {
		out.Notified = h.notifier.NotifyCanvasShared(result.Target.UserID, result.Canvas.CanvasID, result.Canvas.Name)
	}

	logger.WithModule("http").Info("canvas shared",
		zap.String("canvas_id", result.Canvas.CanvasID),
		zap.String("user_id", identity.UserID),
		zap.String("target_user_id", result.Target.UserID),
		zap.Bool("created", result.Created),
		zap.Bool("notified", out.Notified),
	)

	response.Success(c, http.StatusOK, out)
}
