package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gorm.io/gorm"

	"github.com/charlesng35/whiteboard/internal/auth"
	"github.com/charlesng35/whiteboard/internal/models"
	apperrors "github.com/charlesng35/whiteboard/pkg/errors"
)

const maxCanvasNameLength = 255

// renderOnlyFields are element caches clients rebuild from the element geometry.
var renderOnlyFields = []string{"path", "roughEle"}

// CanvasSnapshot is the full state of a canvas at a point in time.
type CanvasSnapshot struct {
	CanvasID   string            `json:"canvasId"`
	Name       string            `json:"name"`
	OwnerID    string            `json:"ownerId"`
	Elements   []json.RawMessage `json:"elements"`
	SharedWith []string          `json:"sharedWith"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// HasAccess reports whether userID owns the canvas or has been granted access to it.
func (s *CanvasSnapshot) HasAccess(userID string) bool {
	if s == nil || strings.TrimSpace(userID) == "" {
		return false
	}
	return s.OwnerID == userID || containsString(s.SharedWith, userID)
}

// ShareResult describes a completed share grant.
type ShareResult struct {
	Canvas  *CanvasSnapshot
	Target  auth.Identity
	Created bool
}

// CanvasService is the durable canvas repository.
type CanvasService struct {
	db    *gorm.DB
	users *UserService
}

// NewCanvasService constructs a CanvasService.
func NewCanvasService(db *gorm.DB, users *UserService) (*CanvasService, error) {
	if db == nil {
		return nil, errors.New("canvas service: db is required")
	}
	if users == nil {
		return nil, errors.New("canvas service: user service is required")
	}
	return &CanvasService{db: db, users: users}, nil
}

// GetCanvasForIdentity loads a canvas the identity owns or has been shared on.
func (s *CanvasService) GetCanvasForIdentity(ctx context.Context, identity auth.Identity, canvasID string) (*CanvasSnapshot, error) {
	ctx = ensureContext(ctx)

	snapshot, err := s.load(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	if !snapshot.HasAccess(identity.UserID) {
		return nil, apperrors.ErrForbidden.WithMessage("Canvas access denied")
	}
	return snapshot, nil
}

// ReplaceElements overwrites the element list of a canvas wholesale and returns the
// stored result. Concurrent writers are not merged: the last completed write wins.
func (s *CanvasService) ReplaceElements(ctx context.Context, canvasID string, elements []json.RawMessage) (*CanvasSnapshot, error) {
	ctx = ensureContext(ctx)
	canvasID = strings.TrimSpace(canvasID)
	if canvasID == "" {
		return nil, apperrors.NewValidation("canvasId is required")
	}

	encoded, err := models.EncodeElements(elements)
	if err != nil {
		return nil, apperrors.NewValidation("elements must be valid JSON").WithInternal(err)
	}

	result := s.db.WithContext(ctx).
		Model(&models.Canvas{}).
		Where("id = ?", canvasID).
		UpdateColumns(map[string]any{"elements": encoded, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return nil, fmt.Errorf("canvas service: replace elements: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrNotFound.WithMessage("Canvas not found")
	}

	return s.load(ctx, canvasID)
}

// SaveElements replaces the elements of a canvas on behalf of identity, which must
// own the canvas or have been shared on it. Render-only fields are dropped first.
func (s *CanvasService) SaveElements(ctx context.Context, identity auth.Identity, canvasID string, elements []json.RawMessage) (*CanvasSnapshot, error) {
	ctx = ensureContext(ctx)

	if _, err := s.GetCanvasForIdentity(ctx, identity, canvasID); err != nil {
		return nil, err
	}

	cleaned, err := StripRenderState(elements)
	if err != nil {
		return nil, err
	}
	return s.ReplaceElements(ctx, canvasID, cleaned)
}

// StripRenderState removes render-only fields from element objects. Elements
// without them are returned byte for byte.
func StripRenderState(elements []json.RawMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(elements))
	for i, element := range elements {
		if !gjson.ValidBytes(element) {
			return nil, apperrors.NewValidation(fmt.Sprintf("elements[%d] must be valid JSON", i))
		}

		parsed := gjson.ParseBytes(element)
		if !parsed.IsObject() || !hasAnyField(parsed, renderOnlyFields) {
			out = append(out, element)
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(element, &fields); err != nil {
			return nil, apperrors.NewValidation(fmt.Sprintf("elements[%d] must be valid JSON", i)).WithInternal(err)
		}
		for _, name := range renderOnlyFields {
			delete(fields, name)
		}
		cleaned, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("canvas service: encode element: %w", err)
		}
		out = append(out, cleaned)
	}
	return out, nil
}

func hasAnyField(obj gjson.Result, names []string) bool {
	for _, name := range names {
		if obj.Get(name).Exists() {
			return true
		}
	}
	return false
}

// ListForUser returns canvases owned by or shared with userID, most recently updated first.
func (s *CanvasService) ListForUser(ctx context.Context, userID string) ([]CanvasSnapshot, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}

	shared := s.db.Model(&models.CanvasShare{}).Select("canvas_id").Where("user_id = ?", userID)

	var rows []models.Canvas
	if err := s.db.WithContext(ctx).
		Preload("Shares").
		Where("owner_id = ? OR id IN (?)", userID, shared).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("canvas service: list canvases: %w", err)
	}

	out := make([]CanvasSnapshot, 0, len(rows))
	for i := range rows {
		snapshot, err := toSnapshot(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *snapshot)
	}
	return out, nil
}

// Create registers an empty canvas owned by ownerID.
func (s *CanvasService) Create(ctx context.Context, ownerID, name string) (*CanvasSnapshot, error) {
	ctx = ensureContext(ctx)
	ownerID = strings.TrimSpace(ownerID)
	name = strings.TrimSpace(name)
	if ownerID == "" {
		return nil, apperrors.NewValidation("owner id is required")
	}
	if name == "" {
		return nil, apperrors.NewValidation("name is required")
	}
	if len(name) > maxCanvasNameLength {
		return nil, apperrors.NewValidation(fmt.Sprintf("name must be at most %d characters", maxCanvasNameLength))
	}

	canvas := models.Canvas{OwnerID: ownerID, Name: name}
	if err := s.db.WithContext(ctx).Create(&canvas).Error; err != nil {
		return nil, fmt.Errorf("canvas service: create canvas: %w", err)
	}

	return toSnapshot(&canvas)
}

// Share grants the user registered under email access to a canvas owned by ownerID.
// Repeating a grant is a no-op reported with Created == false.
func (s *CanvasService) Share(ctx context.Context, ownerID, canvasID, email string) (*ShareResult, error) {
	ctx = ensureContext(ctx)

	snapshot, err := s.load(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	if snapshot.OwnerID != strings.TrimSpace(ownerID) {
		return nil, apperrors.ErrForbidden.WithMessage("Canvas not found or you do not own this canvas")
	}

	target, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if target.ID == snapshot.OwnerID {
		return nil, apperrors.NewValidation("Cannot share a canvas with its owner")
	}

	result := &ShareResult{Target: auth.Identity{UserID: target.ID, Email: target.Email}}
	if !containsString(snapshot.SharedWith, target.ID) {
		share := models.CanvasShare{CanvasID: snapshot.CanvasID, UserID: target.ID, GrantedBy: snapshot.OwnerID}
		createErr := s.db.WithContext(ctx).Create(&share).Error
		switch {
		case createErr == nil:
			result.Created = true
		case !isUniqueConstraintError(createErr):
			return nil, fmt.Errorf("canvas service: share canvas: %w", createErr)
		}
	}

	if result.Canvas, err = s.load(ctx, snapshot.CanvasID); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *CanvasService) load(ctx context.Context, canvasID string) (*CanvasSnapshot, error) {
	canvasID = strings.TrimSpace(canvasID)
	if canvasID == "" {
		return nil, apperrors.NewValidation("canvasId is required")
	}

	var canvas models.Canvas
	if err := s.db.WithContext(ctx).Preload("Shares").Where("id = ?", canvasID).Take(&canvas).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("Canvas not found")
		}
		return nil, fmt.Errorf("canvas service: load canvas: %w", err)
	}

	return toSnapshot(&canvas)
}

func toSnapshot(canvas *models.Canvas) (*CanvasSnapshot, error) {
	elements, err := canvas.DecodeElements()
	if err != nil {
		return nil, fmt.Errorf("canvas service: %w", err)
	}

	shared := make([]string, 0, len(canvas.Shares))
	for _, share := range canvas.Shares {
		shared = append(shared, share.UserID)
	}

	return &CanvasSnapshot{
		CanvasID:   canvas.ID,
		Name:       canvas.Name,
		OwnerID:    canvas.OwnerID,
		Elements:   elements,
		SharedWith: normaliseIDs(shared),
		UpdatedAt:  canvas.UpdatedAt,
	}, nil
}
