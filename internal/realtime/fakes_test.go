package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/whiteboard/internal/auth"
	"github.com/charlesng35/whiteboard/internal/services"
	"github.com/charlesng35/whiteboard/pkg/errors"
)

type fakeConn struct {
	id string

	mu       sync.Mutex
	messages []Message
	closed   bool
	onClose  func()
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionGone
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()

	if onClose != nil {
		go onClose()
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *fakeConn) events() []string {
	var out []string
	for _, msg := range c.sent() {
		out = append(out, msg.Event)
	}
	return out
}

func (c *fakeConn) last(t *testing.T) Message {
	t.Helper()
	sent := c.sent()
	require.NotEmpty(t, sent, "connection %s received nothing", c.id)
	return sent[len(sent)-1]
}

func (c *fakeConn) count(event string) int {
	n := 0
	for _, msg := range c.sent() {
		if msg.Event == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

type fakeVerifier struct {
	mu     sync.Mutex
	tokens map[string]auth.Identity
	calls  int

	// during runs inside VerifyToken, standing in for a slow identity service.
	during func()
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{tokens: make(map[string]auth.Identity)}
}

func (v *fakeVerifier) add(token, userID, email string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = auth.Identity{UserID: userID, Email: email}
}

func (v *fakeVerifier) VerifyToken(_ context.Context, token string) (auth.Identity, error) {
	if v.during != nil {
		v.during()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	identity, ok := v.tokens[token]
	if !ok {
		return auth.Identity{}, errors.NewAuthentication("Invalid or expired token", nil)
	}
	return identity, nil
}

type fakeCanvas struct {
	name     string
	owner    string
	shared   map[string]struct{}
	elements []json.RawMessage
}

type fakeRepository struct {
	mu       sync.Mutex
	canvases map[string]*fakeCanvas
	failWith error
	writes   int
	onGet    func()
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{canvases: make(map[string]*fakeCanvas)}
}

func (r *fakeRepository) add(canvasID, owner string, shared ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	canvas := &fakeCanvas{name: "canvas " + canvasID, owner: owner, shared: make(map[string]struct{}), elements: []json.RawMessage{}}
	for _, userID := range shared {
		canvas.shared[userID] = struct{}{}
	}
	r.canvases[canvasID] = canvas
}

func (r *fakeRepository) revoke(canvasID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.canvases[canvasID].shared, userID)
}

func (r *fakeRepository) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

func (r *fakeRepository) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *fakeRepository) GetCanvasForIdentity(_ context.Context, identity auth.Identity, canvasID string) (*services.CanvasSnapshot, error) {
	if r.onGet != nil {
		r.onGet()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	canvas, ok := r.canvases[canvasID]
	if !ok {
		return nil, errors.ErrNotFound.WithMessage("Canvas not found")
	}
	snapshot := r.snapshotLocked(canvasID, canvas)
	if !snapshot.HasAccess(identity.UserID) {
		return nil, errors.ErrForbidden.WithMessage("Canvas access denied")
	}
	return snapshot, nil
}

func (r *fakeRepository) ReplaceElements(_ context.Context, canvasID string, elements []json.RawMessage) (*services.CanvasSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	canvas, ok := r.canvases[canvasID]
	if !ok {
		return nil, errors.ErrNotFound.WithMessage("Canvas not found")
	}
	canvas.elements = append([]json.RawMessage{}, elements...)
	r.writes++
	return r.snapshotLocked(canvasID, canvas), nil
}

func (r *fakeRepository) snapshotLocked(canvasID string, canvas *fakeCanvas) *services.CanvasSnapshot {
	shared := make([]string, 0, len(canvas.shared))
	for userID := range canvas.shared {
		shared = append(shared, userID)
	}
	sort.Strings(shared)
	return &services.CanvasSnapshot{
		CanvasID:   canvasID,
		Name:       canvas.name,
		OwnerID:    canvas.owner,
		Elements:   append([]json.RawMessage{}, canvas.elements...),
		SharedWith: shared,
	}
}

type engineFixture struct {
	engine   *Engine
	verifier *fakeVerifier
	repo     *fakeRepository
	now      time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		verifier: newFakeVerifier(),
		repo:     newFakeRepository(),
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	engine, err := NewEngine(f.verifier, f.repo, WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *engineFixture) connect(id string) (*fakeConn, *Session) {
	conn := newFakeConn(id)
	return conn, f.engine.Connect(conn)
}

func (f *engineFixture) send(s *Session, event string, data any) {
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		panic(err)
	}
	f.engine.Handle(context.Background(), s, payload)
}

// login connects and authenticates a user, returning a connection with an empty inbox.
func (f *engineFixture) login(t *testing.T, connID, userID string) (*fakeConn, *Session) {
	t.Helper()

	token := "token-" + userID
	f.verifier.add(token, userID, userID+"@example.com")

	conn, session := f.connect(connID)
	f.send(session, EventAuthenticate, token)
	require.Equal(t, EventAuthenticationSuccess, conn.last(t).Event)
	conn.reset()
	return conn, session
}

func requireError(t *testing.T, msg Message, event, code string) ErrorPayload {
	t.Helper()
	require.Equal(t, event, msg.Event)
	payload, ok := msg.Data.(ErrorPayload)
	require.True(t, ok, "unexpected payload %T", msg.Data)
	require.Equal(t, code, payload.Code)
	require.NotEmpty(t, payload.Message)
	return payload
}

func requireSnapshot(t *testing.T, msg Message, event string) *services.CanvasSnapshot {
	t.Helper()
	require.Equal(t, event, msg.Event)
	snapshot, ok := msg.Data.(*services.CanvasSnapshot)
	require.True(t, ok, "unexpected payload %T", msg.Data)
	return snapshot
}

func elementIDs(t *testing.T, elements []json.RawMessage) []string {
	t.Helper()
	ids := make([]string, 0, len(elements))
	for _, raw := range elements {
		var element struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &element))
		ids = append(ids, element.ID)
	}
	return ids
}
