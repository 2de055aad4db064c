package realtime

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/charlesng35/whiteboard/pkg/errors"
	"github.com/charlesng35/whiteboard/pkg/validator"
)

// Client to server events.
const (
	EventAuthenticate = "authenticate"
	EventJoinCanvas   = "joinCanvas"
	EventLeaveCanvas  = "leaveCanvas"
	EventCanvasUpdate = "canvasUpdate"
	EventNotifyShare  = "notifyShare"
)

// Server to client events. EventCanvasUpdate is reused for the room broadcast.
const (
	EventAuthenticationSuccess = "authenticationSuccess"
	EventAuthenticationError   = "authenticationError"
	EventLoadCanvas            = "loadCanvas"
	EventCanvasError           = "canvasError"
	EventUserJoined            = "userJoined"
	EventCanvasLeft            = "canvasLeft"
	EventCanvasUpdateError     = "canvasUpdateError"
	EventCanvasShared          = "canvasShared"
	EventError                 = "error"
)

// Message is the JSON envelope exchanged in both directions.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ErrorPayload is carried by every error event.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// AuthenticationSuccess acknowledges a verified credential.
type AuthenticationSuccess struct {
	UserID string `json:"userId"`
}

// UserJoined tells the existing members of a room about a new member.
type UserJoined struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	CanvasID string `json:"canvasId"`
}

// CanvasLeft confirms an explicit leaveCanvas.
type CanvasLeft struct {
	CanvasID string `json:"canvasId"`
}

// CanvasShared is relayed to a user who was granted access to a canvas.
type CanvasShared struct {
	CanvasID   string    `json:"canvasId"`
	CanvasName string    `json:"canvasName"`
	SharedAt   time.Time `json:"sharedAt"`
}

type canvasRequest struct {
	CanvasID string `json:"canvasId" validate:"notblank,max=64"`
}

type canvasUpdateRequest struct {
	CanvasID string            `json:"canvasId" validate:"notblank,max=64"`
	Elements []json.RawMessage `json:"elements" validate:"required"`
}

type notifyShareRequest struct {
	TargetUserID string `json:"targetUserId" validate:"notblank"`
	CanvasID     string `json:"canvasId" validate:"notblank,max=64"`
	CanvasName   string `json:"canvasName" validate:"max=255"`
}

func parseEnvelope(payload []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, errors.NewValidation("Malformed message").WithInternal(err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return envelope{}, errors.NewValidation("event is required")
	}
	return env, nil
}

// decodeCredential accepts either a bare JWT string or {"token": "<jwt>"}.
func decodeCredential(data json.RawMessage) (string, error) {
	if isEmptyPayload(data) || !gjson.ValidBytes(data) {
		return "", errors.NewAuthentication("JWT must be provided", nil)
	}

	var token string
	switch result := gjson.ParseBytes(data); {
	case result.Type == gjson.String:
		token = result.Str
	case result.IsObject():
		if field := result.Get("token"); field.Type == gjson.String {
			token = field.Str
		}
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.NewAuthentication("JWT must be provided", nil)
	}
	return token, nil
}

func decodePayload(data json.RawMessage, dst any) error {
	if isEmptyPayload(data) {
		return errors.NewValidation("data is required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.NewValidation("Malformed message payload").WithInternal(err)
	}
	if err := validator.ValidateStruct(dst); err != nil {
		return errors.NewValidation(validator.Message(err)).WithInternal(err)
	}
	return nil
}

func isEmptyPayload(data json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(data))
	return trimmed == "" || trimmed == "null"
}

func errorMessage(event string, err *errors.AppError) Message {
	return Message{Event: event, Data: ErrorPayload{Message: err.Message, Code: err.Code}}
}
