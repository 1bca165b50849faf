package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Counter is a monotonically increasing counter safe for concurrent use.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Inc() {
	c.n.Add(1)
}

func (c *Counter) Add(delta int64) {
	c.n.Add(delta)
}

func (c *Counter) Value() int64 {
	return c.n.Load()
}

// Anomaly counters. Double releases and invalid transitions are expected
// under duplicated or reordered event delivery; correctness depends on them
// being safe no-ops, so they are counted rather than surfaced to callers.
var (
	DoubleReleases     Counter
	InvalidTransitions Counter
	DroppedEvents      Counter
	CapacityRetries    Counter
	WatchRetries       Counter
)

func Snapshot() map[string]int64 {
	return map[string]int64{
		"double_releases":     DoubleReleases.Value(),
		"invalid_transitions": InvalidTransitions.Value(),
		"dropped_events":      DroppedEvents.Value(),
		"capacity_retries":    CapacityRetries.Value(),
		"watch_retries":       WatchRetries.Value(),
	}
}

// Handler serves the counters as JSON for scraping and debugging.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Snapshot())
	}
}
