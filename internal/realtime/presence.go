package realtime

import (
	"strings"
	"sync"
)

// Presence maps each user to the one connection that most recently authenticated as them.
type Presence struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewPresence constructs an empty registry.
func NewPresence() *Presence {
	return &Presence{conns: make(map[string]Conn)}
}

// Set records conn as the live connection for userID, replacing any earlier one.
// The replaced connection stays open; it only loses targeted notifications.
func (p *Presence) Set(userID string, conn Conn) {
	userID = strings.TrimSpace(userID)
	if userID == "" || conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[userID] = conn
}

// Get returns the live connection for userID.
func (p *Presence) Get(userID string) (Conn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.conns[strings.TrimSpace(userID)]
	return conn, ok
}

// Remove deletes the entry for userID only while it still points at connID.
func (p *Presence) Remove(userID, connID string) bool {
	userID = strings.TrimSpace(userID)

	p.mu.Lock()
	defer p.mu.Unlock()

	conn, ok := p.conns[userID]
	if !ok || conn.ID() != connID {
		return false
	}
	delete(p.conns, userID)
	return true
}

// Len returns the number of users with a live connection.
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}
