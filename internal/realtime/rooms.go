package realtime

import (
	"sort"
	"strings"
	"sync"

	"github.com/charlesng35/whiteboard/pkg/metrics"
)

// Rooms holds the live membership of every canvas. Rooms are created on first
// join and pruned when their last member leaves.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn
}

// NewRooms constructs an empty room manager.
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[string]Conn)}
}

// Join adds conn to canvasID. It reports false when conn was already a member.
func (r *Rooms) Join(canvasID string, conn Conn) bool {
	canvasID = strings.TrimSpace(canvasID)
	if canvasID == "" || conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[canvasID]
	if members == nil {
		members = make(map[string]Conn)
		r.rooms[canvasID] = members
	}
	if _, exists := members[conn.ID()]; exists {
		return false
	}
	members[conn.ID()] = conn
	return true
}

// Leave removes connID from canvasID and prunes the room when it empties.
func (r *Rooms) Leave(canvasID, connID string) bool {
	canvasID = strings.TrimSpace(canvasID)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(canvasID, connID)
}

func (r *Rooms) leaveLocked(canvasID, connID string) bool {
	members, ok := r.rooms[canvasID]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, canvasID)
	}
	return true
}

// Has reports whether connID is a member of canvasID.
func (r *Rooms) Has(canvasID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[strings.TrimSpace(canvasID)][connID]
	return ok
}

// Broadcast queues msg for every member of canvasID and returns the number of
// members that accepted it.
func (r *Rooms) Broadcast(canvasID string, msg Message) int {
	return r.BroadcastExcept(canvasID, "", msg)
}

// BroadcastExcept is Broadcast without the member identified by skipConnID.
//
// Messages are queued under the write lock so that all members of a room observe
// broadcasts in the same order. Send never blocks, so the lock is held briefly.
func (r *Rooms) BroadcastExcept(canvasID, skipConnID string, msg Message) int {
	canvasID = strings.TrimSpace(canvasID)

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for connID, conn := range r.rooms[canvasID] {
		if connID == skipConnID {
			continue
		}
		if err := conn.Send(msg); err != nil {
			metrics.BroadcastDeliveries.WithLabelValues("dropped").Inc()
			continue
		}
		metrics.BroadcastDeliveries.WithLabelValues("delivered").Inc()
		delivered++
	}
	return delivered
}

// Members lists the connection ids in canvasID, sorted.
func (r *Rooms) Members(canvasID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[strings.TrimSpace(canvasID)]
	out := make([]string, 0, len(members))
	for connID := range members {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of non-empty rooms.
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
