package worker

import (
	"sync/atomic"

	"github.com/diffeo/cogrunner/internal/runtime"
)

// healthHolder publishes a runtime.Health value for concurrent readers —
// the HTTP health-check handler and the predict loop both touch it —
// without taking a lock on the hot predict path.
type healthHolder struct {
	v atomic.Value
}

func (h *healthHolder) set(val runtime.Health) {
	h.v.Store(val)
}

func (h *healthHolder) get() runtime.Health {
	v, _ := h.v.Load().(runtime.Health)
	if v == "" {
		return runtime.HealthUnknown
	}
	return v
}
