package realtime

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/whiteboard/internal/auth"
	"github.com/charlesng35/whiteboard/internal/services"
	"github.com/charlesng35/whiteboard/pkg/errors"
	"github.com/charlesng35/whiteboard/pkg/logger"
	"github.com/charlesng35/whiteboard/pkg/metrics"
)

// TokenVerifier resolves a bearer credential to an identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (auth.Identity, error)
}

// CanvasRepository is the durable canvas store. Errors are *errors.AppError values
// for not found and forbidden; anything else is treated as an internal failure.
type CanvasRepository interface {
	GetCanvasForIdentity(ctx context.Context, identity auth.Identity, canvasID string) (*services.CanvasSnapshot, error)
	ReplaceElements(ctx context.Context, canvasID string, elements []json.RawMessage) (*services.CanvasSnapshot, error)
}

// Stats is a point-in-time view of the live state.
type Stats struct {
	Connections   int  `json:"connections"`
	Authenticated int  `json:"authenticated"`
	Presence      int  `json:"presence"`
	Rooms         int  `json:"rooms"`
	Draining      bool `json:"draining"`
}

type handlerFunc func(ctx context.Context, s *Session, data json.RawMessage) error

// transition binds an event handler to the event used to report its failures.
type transition struct {
	handle  handlerFunc
	failure string
}

// Engine drives every connection session against the verifier and the canvas
// repository. Handle must be called sequentially per session; different sessions
// may be handled concurrently.
type Engine struct {
	verifier TokenVerifier
	canvases CanvasRepository
	presence *Presence
	rooms    *Rooms
	relay    *Relay
	log      *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	draining atomic.Bool

	transitions map[State]map[string]transition
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for relayed timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger overrides the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine constructs the sync engine.
func NewEngine(verifier TokenVerifier, canvases CanvasRepository, opts ...Option) (*Engine, error) {
	if verifier == nil {
		return nil, stdErrors.New("realtime: token verifier is required")
	}
	if canvases == nil {
		return nil, stdErrors.New("realtime: canvas repository is required")
	}

	presence := NewPresence()
	e := &Engine{
		verifier: verifier,
		canvases: canvases,
		presence: presence,
		rooms:    NewRooms(),
		relay:    NewRelay(presence),
		log:      logger.WithModule("realtime"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.transitions = map[State]map[string]transition{
		StateUnauthenticated: {
			EventAuthenticate: {handle: e.authenticate, failure: EventAuthenticationError},
		},
		StateAuthenticated: {
			EventAuthenticate: {handle: e.reauthenticate, failure: EventAuthenticationError},
			EventJoinCanvas:   {handle: e.joinCanvas, failure: EventCanvasError},
			EventLeaveCanvas:  {handle: e.leaveCanvas, failure: EventCanvasError},
			EventCanvasUpdate: {handle: e.canvasUpdate, failure: EventCanvasUpdateError},
			EventNotifyShare:  {handle: e.notifyShare, failure: EventError},
		},
	}

	return e, nil
}

// Presence exposes the presence registry.
func (e *Engine) Presence() *Presence { return e.presence }

// Rooms exposes the room manager.
func (e *Engine) Rooms() *Rooms { return e.rooms }

// Connect registers a new connection in the unauthenticated state. Once Shutdown
// has started the connection is closed and Connect returns nil.
func (e *Engine) Connect(conn Conn) *Session {
	session := newSession(conn)

	e.mu.Lock()
	if e.draining.Load() {
		e.mu.Unlock()
		_ = conn.Close()
		e.log.Debug("connection refused while draining", zap.String("connection_id", conn.ID()))
		return nil
	}
	e.sessions[session.ID()] = session
	e.mu.Unlock()

	metrics.ActiveConnections.Inc()
	e.log.Debug("connection opened", zap.String("connection_id", session.ID()))
	return session
}

// Handle decodes one inbound frame and runs it through the transition table.
func (e *Engine) Handle(ctx context.Context, session *Session, payload []byte) {
	if session == nil {
		return
	}

	state := session.State()
	if state == StateClosed {
		return
	}

	env, err := parseEnvelope(payload)
	if err != nil {
		metrics.RealtimeMessages.WithLabelValues("malformed", "error").Inc()
		e.reply(session, errorMessage(EventError, errors.FromError(err)))
		return
	}

	t, ok := e.transitions[state][env.Event]
	if !ok {
		metrics.RealtimeMessages.WithLabelValues(metricEvent(env.Event), "error").Inc()
		if state == StateUnauthenticated {
			e.reply(session, errorMessage(EventError, errors.ErrUnauthorized))
			return
		}
		e.reply(session, errorMessage(EventError, errors.NewValidation("Unknown event: "+env.Event)))
		return
	}

	if err := t.handle(ctx, session, env.Data); err != nil {
		metrics.RealtimeMessages.WithLabelValues(env.Event, "error").Inc()
		e.fail(session, env.Event, t.failure, err)
		return
	}
	metrics.RealtimeMessages.WithLabelValues(env.Event, "ok").Inc()
}

// Disconnect releases presence and room membership held by session. It is
// idempotent and valid in any state.
func (e *Engine) Disconnect(session *Session) {
	if session == nil {
		return
	}

	identity, authenticated, rooms, ok := session.close()
	if !ok {
		return
	}

	for _, canvasID := range rooms {
		e.rooms.Leave(canvasID, session.ID())
	}
	if authenticated {
		e.presence.Remove(identity.UserID, session.ID())
	}

	e.mu.Lock()
	delete(e.sessions, session.ID())
	e.mu.Unlock()

	metrics.ActiveConnections.Dec()
	e.log.Debug("connection closed",
		zap.String("connection_id", session.ID()),
		zap.String("user_id", identity.UserID),
		zap.Int("rooms", len(rooms)),
	)
}

// NotifyCanvasShared relays a canvasShared event to userID if they are connected.
func (e *Engine) NotifyCanvasShared(userID, canvasID, canvasName string) bool {
	return e.relay.Notify(userID, Message{
		Event: EventCanvasShared,
		Data: CanvasShared{
			CanvasID:   canvasID,
			CanvasName: canvasName,
			SharedAt:   e.now().UTC(),
		},
	})
}

// PublishCanvasUpdate broadcasts snapshot to the canvas room as a canvasUpdate
// event. It is used by writers outside the socket protocol and returns the
// number of members reached.
func (e *Engine) PublishCanvasUpdate(snapshot *services.CanvasSnapshot) int {
	if snapshot == nil {
		return 0
	}
	return e.rooms.Broadcast(snapshot.CanvasID, Message{Event: EventCanvasUpdate, Data: snapshot})
}

// Stats samples the live state.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	stats := Stats{Connections: len(e.sessions)}
	for _, session := range e.sessions {
		if session.State() == StateAuthenticated {
			stats.Authenticated++
		}
	}
	e.mu.RUnlock()

	stats.Presence = e.presence.Len()
	stats.Rooms = e.rooms.Len()
	stats.Draining = e.draining.Load()
	return stats
}

// Draining reports whether Shutdown has been called.
func (e *Engine) Draining() bool { return e.draining.Load() }

// Shutdown closes every open connection and waits for their sessions to be
// released or for ctx to expire. New connections are refused from then on.
func (e *Engine) Shutdown(ctx context.Context) error {
	// Connect checks the flag under the same lock, so no session can be
	// registered after this snapshot.
	e.mu.Lock()
	e.draining.Store(true)
	sessions := make([]*Session, 0, len(e.sessions))
	for _, session := range e.sessions {
		sessions = append(sessions, session)
	}
	e.mu.Unlock()

	var errs error
	for _, session := range sessions {
		errs = multierr.Append(errs, session.Conn().Close())
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if e.openSessions() == 0 {
			return errs
		}
		select {
		case <-ctx.Done():
			return multierr.Append(errs, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Engine) openSessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

func (e *Engine) authenticate(ctx context.Context, s *Session, data json.RawMessage) error {
	token, err := decodeCredential(data)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return err
	}

	identity, err := e.verifier.VerifyToken(ctx, token)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		var appErr *errors.AppError
		if stdErrors.As(err, &appErr) && appErr.Fatal {
			return appErr
		}
		return errors.NewAuthentication("Authentication failed", err)
	}
	if strings.TrimSpace(identity.UserID) == "" {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return errors.NewAuthentication("User not found", nil)
	}

	if !s.authenticate(identity) {
		if s.State() == StateClosed {
			// Disconnected while the token was being verified.
			return nil
		}
		return errors.NewAuthentication("Connection is already authenticated", nil)
	}
	e.presence.Set(identity.UserID, s.Conn())
	metrics.AuthAttempts.WithLabelValues("success").Inc()

	e.log.Info("connection authenticated",
		zap.String("connection_id", s.ID()),
		zap.String("user_id", identity.UserID),
	)
	e.reply(s, Message{Event: EventAuthenticationSuccess, Data: AuthenticationSuccess{UserID: identity.UserID}})
	return nil
}

func (e *Engine) reauthenticate(context.Context, *Session, json.RawMessage) error {
	return errors.NewAuthentication("Connection is already authenticated", nil)
}

func (e *Engine) joinCanvas(ctx context.Context, s *Session, data json.RawMessage) error {
	var req canvasRequest
	if err := decodePayload(data, &req); err != nil {
		return err
	}
	canvasID := strings.TrimSpace(req.CanvasID)
	identity, _ := s.Identity()

	snapshot, err := e.canvases.GetCanvasForIdentity(ctx, identity, canvasID)
	if err != nil {
		return err
	}

	if !s.join(canvasID) && s.State() == StateClosed {
		return nil
	}
	joined := e.rooms.Join(canvasID, s.Conn())
	if s.State() == StateClosed {
		// Disconnect may have released the rooms before this Join landed.
		e.rooms.Leave(canvasID, s.ID())
		return nil
	}

	e.reply(s, Message{Event: EventLoadCanvas, Data: snapshot})
	if joined {
		e.rooms.BroadcastExcept(canvasID, s.ID(), Message{
			Event: EventUserJoined,
			Data:  UserJoined{UserID: identity.UserID, Email: identity.Email, CanvasID: canvasID},
		})
	}
	return nil
}

func (e *Engine) leaveCanvas(_ context.Context, s *Session, data json.RawMessage) error {
	var req canvasRequest
	if err := decodePayload(data, &req); err != nil {
		return err
	}
	canvasID := strings.TrimSpace(req.CanvasID)

	s.leave(canvasID)
	e.rooms.Leave(canvasID, s.ID())
	e.reply(s, Message{Event: EventCanvasLeft, Data: CanvasLeft{CanvasID: canvasID}})
	return nil
}

func (e *Engine) canvasUpdate(ctx context.Context, s *Session, data json.RawMessage) error {
	var req canvasUpdateRequest
	if err := decodePayload(data, &req); err != nil {
		return err
	}
	canvasID := strings.TrimSpace(req.CanvasID)

	if !s.InRoom(canvasID) || !e.rooms.Has(canvasID, s.ID()) {
		return errors.ErrForbidden.WithMessage("Join the canvas before updating it")
	}

	identity, _ := s.Identity()
	if _, err := e.canvases.GetCanvasForIdentity(ctx, identity, canvasID); err != nil {
		return err
	}

	// Read, authorize and write are not atomic: the last write to complete wins.
	snapshot, err := e.canvases.ReplaceElements(ctx, canvasID, req.Elements)
	if err != nil {
		return err
	}

	e.rooms.Broadcast(canvasID, Message{Event: EventCanvasUpdate, Data: snapshot})
	return nil
}

func (e *Engine) notifyShare(_ context.Context, s *Session, data json.RawMessage) error {
	var req notifyShareRequest
	if err := decodePayload(data, &req); err != nil {
		return err
	}

	delivered := e.NotifyCanvasShared(strings.TrimSpace(req.TargetUserID), strings.TrimSpace(req.CanvasID), req.CanvasName)
	e.log.Debug("share notification relayed",
		zap.String("connection_id", s.ID()),
		zap.String("target_user_id", req.TargetUserID),
		zap.String("canvas_id", req.CanvasID),
		zap.Bool("delivered", delivered),
	)
	return nil
}

func (e *Engine) fail(s *Session, event, failureEvent string, err error) {
	appErr := errors.FromError(err)

	fields := []zap.Field{
		zap.String("connection_id", s.ID()),
		zap.String("event", event),
		zap.String("code", appErr.Code),
	}
	if appErr.Code == errors.ErrInternalServer.Code {
		e.log.Error("realtime handler failed", append(fields, zap.Error(err))...)
	} else {
		e.log.Debug("realtime request rejected", append(fields, zap.String("reason", appErr.Message))...)
	}

	e.reply(s, errorMessage(failureEvent, appErr))
	if appErr.Fatal {
		// Close after the error is queued; the writer flushes it before the close frame.
		_ = s.Conn().Close()
	}
}

func (e *Engine) reply(s *Session, msg Message) {
	if err := s.Conn().Send(msg); err != nil {
		e.log.Debug("reply dropped",
			zap.String("connection_id", s.ID()),
			zap.String("event", msg.Event),
			zap.Error(err),
		)
	}
}

func metricEvent(event string) string {
	switch event {
	case EventAuthenticate, EventJoinCanvas, EventLeaveCanvas, EventCanvasUpdate, EventNotifyShare:
		return event
	default:
		return "unknown"
	}
}
