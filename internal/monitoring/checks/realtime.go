package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/whiteboard/internal/monitoring"
	"github.com/charlesng35/whiteboard/internal/realtime"
)

// RealtimeObserver exposes the live counters of the sync engine.
type RealtimeObserver interface {
	Stats() realtime.Stats
}

// Realtime is a liveness probe over the sync engine. A draining engine is degraded.
func Realtime(observer RealtimeObserver) monitoring.Check {
	return monitoring.NewCheck("realtime", func(context.Context) monitoring.ProbeResult {
		if observer == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "realtime engine unavailable"}
		}

		stats := observer.Stats()
		details := fmt.Sprintf("%d connections, %d authenticated, %d rooms", stats.Connections, stats.Authenticated, stats.Rooms)
		if stats.Draining {
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "draining; " + details}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: details}
	})
}
