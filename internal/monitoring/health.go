package monitoring

import (
	"sync"
	"time"
)

// ComponentStatus is one component's last reported state.
type ComponentStatus struct {
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Health tracks per-component liveness for the /healthz endpoint.
type Health struct {
	mu         sync.RWMutex
	components map[string]ComponentStatus
}

func NewHealth() *Health {
	return &Health{components: make(map[string]ComponentStatus)}
}

func (h *Health) Report(component string, healthy bool, detail string) {
	h.mu.Lock()
	h.components[component] = ComponentStatus{
		Healthy:   healthy,
		Detail:    detail,
		UpdatedAt: time.Now().UTC(),
	}
	h.mu.Unlock()
}

// Snapshot returns a copy of all component states and the overall verdict.
func (h *Health) Snapshot() (map[string]ComponentStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]ComponentStatus, len(h.components))
	ok := true
	for name, st := range h.components {
		out[name] = st
		if !st.Healthy {
			ok = false
		}
	}
	return out, ok
}
