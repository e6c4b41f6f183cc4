package incidents

import (
	"sync"
	"time"

	"github.com/technosupport/camguard/internal/metrics"
)

// Registry tracks the one live controller per ACTIVE incident. Start is
// idempotent (a second start replaces the first); Cancel on an unknown id
// is a no-op. It also implements executor.Controls so plan actions can
// reach back into the running loop.
type Registry struct {
	mu    sync.Mutex
	ctrls map[string]*Controller
}

func NewRegistry() *Registry {
	return &Registry{ctrls: make(map[string]*Controller)}
}

func (r *Registry) start(c *Controller) {
	r.mu.Lock()
	prev := r.ctrls[c.incidentID]
	r.ctrls[c.incidentID] = c
	r.mu.Unlock()

	if prev != nil {
		prev.stop()
	} else {
		metrics.ActiveIncidents.Inc()
	}
	go c.run()
}

// Cancel stops and removes an incident's controller.
func (r *Registry) Cancel(incidentID string) {
	r.mu.Lock()
	c := r.ctrls[incidentID]
	delete(r.ctrls, incidentID)
	r.mu.Unlock()

	if c != nil {
		c.stop()
		metrics.ActiveIncidents.Dec()
	}
}

// forget removes a controller that exited on its own (incident left ACTIVE
// state underneath it). Only removes if it is still the registered one.
func (r *Registry) forget(c *Controller) {
	r.mu.Lock()
	current, ok := r.ctrls[c.incidentID]
	if ok && current == c {
		delete(r.ctrls, c.incidentID)
		metrics.ActiveIncidents.Dec()
	}
	r.mu.Unlock()
}

// SetReplanInterval delivers an interval change to the live controller.
// Dropped if the controller is gone or its mailbox is full.
func (r *Registry) SetReplanInterval(incidentID string, d time.Duration) {
	r.deliver(incidentID, command{kind: cmdSetInterval, interval: d})
}

// RequestStrongVerify asks the live controller to schedule a one-shot
// strong-model regrade.
func (r *Registry) RequestStrongVerify(incidentID string) {
	r.deliver(incidentID, command{kind: cmdStrongVerify})
}

func (r *Registry) deliver(incidentID string, cmd command) {
	r.mu.Lock()
	c := r.ctrls[incidentID]
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case c.cmds <- cmd:
	default:
	}
}

// CancelAll stops every live controller. Used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	ctrls := make([]*Controller, 0, len(r.ctrls))
	for _, c := range r.ctrls {
		ctrls = append(ctrls, c)
	}
	r.ctrls = make(map[string]*Controller)
	r.mu.Unlock()

	for _, c := range ctrls {
		c.stop()
		metrics.ActiveIncidents.Dec()
	}
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ctrls)
}
