package realtime

import (
	"sort"
	"sync"

	"github.com/charlesng35/whiteboard/internal/auth"
)

// State is the lifecycle position of a connection session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session tracks one physical connection: its identity, once verified, and the
// rooms it has joined.
type Session struct {
	conn Conn

	mu       sync.RWMutex
	state    State
	identity auth.Identity
	rooms    map[string]struct{}
}

func newSession(conn Conn) *Session {
	return &Session{
		conn:  conn,
		state: StateUnauthenticated,
		rooms: make(map[string]struct{}),
	}
}

// ID returns the transport-assigned connection id.
func (s *Session) ID() string {
	return s.conn.ID()
}

// Conn returns the underlying connection handle.
func (s *Session) Conn() Conn {
	return s.conn
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the verified identity, if any.
func (s *Session) Identity() (auth.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.state == StateAuthenticated
}

// Rooms lists the joined canvas ids in sorted order.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.rooms)
}

// InRoom reports whether the session has joined canvasID.
func (s *Session) InRoom(canvasID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[canvasID]
	return ok
}

// authenticate sets the identity. It fails if the session already has one or is closed.
func (s *Session) authenticate(identity auth.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnauthenticated {
		return false
	}
	s.identity = identity
	s.state = StateAuthenticated
	return true
}

func (s *Session) join(canvasID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return false
	}
	if _, ok := s.rooms[canvasID]; ok {
		return false
	}
	s.rooms[canvasID] = struct{}{}
	return true
}

func (s *Session) leave(canvasID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[canvasID]; !ok {
		return false
	}
	delete(s.rooms, canvasID)
	return true
}

// close moves the session to StateClosed and hands back what must be released.
// Only the first call reports ok.
func (s *Session) close() (identity auth.Identity, authenticated bool, rooms []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return auth.Identity{}, false, nil, false
	}

	authenticated = s.state == StateAuthenticated
	identity = s.identity
	rooms = sortedKeys(s.rooms)

	s.state = StateClosed
	s.rooms = make(map[string]struct{})
	return identity, authenticated, rooms, true
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
