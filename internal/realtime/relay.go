package realtime

import "github.com/charlesng35/whiteboard/pkg/metrics"

// Relay delivers targeted, fire-and-forget events to a user's live connection.
type Relay struct {
	presence *Presence
}

// NewRelay constructs a relay over presence.
func NewRelay(presence *Presence) *Relay {
	return &Relay{presence: presence}
}

// Notify sends msg to userID's current connection. It reports whether the message
// was queued; absent or gone users are dropped silently.
func (r *Relay) Notify(userID string, msg Message) bool {
	if r == nil || r.presence == nil {
		return false
	}

	conn, ok := r.presence.Get(userID)
	if !ok {
		return false
	}
	if err := conn.Send(msg); err != nil {
		metrics.BroadcastDeliveries.WithLabelValues("dropped").Inc()
		return false
	}
	metrics.BroadcastDeliveries.WithLabelValues("delivered").Inc()
	return true
}
