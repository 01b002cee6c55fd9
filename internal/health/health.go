// Package health aggregates component liveness for the health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Pinger is implemented by components that can verify their own liveness.
// HealthPing returns nil when the component is healthy.
type Pinger interface {
	HealthPing(ctx context.Context) error
}

// Checker probes named components with a shared timeout and reports the
// aggregate.
type Checker struct {
	timeout time.Duration

	mu      sync.Mutex
	pingers map[string]Pinger
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{timeout: timeout, pingers: make(map[string]Pinger)}
}

// Register adds a component. A nil pinger is ignored so optional components
// (vector index, embedding provider) can be wired unconditionally.
func (c *Checker) Register(name string, p Pinger) {
	if p == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingers[name] = p
}

// Check probes every component. The map carries "ok" or the failure text per
// component; ok is true only when all pass.
func (c *Checker) Check(ctx context.Context) (map[string]string, bool) {
	c.mu.Lock()
	pingers := make(map[string]Pinger, len(c.pingers))
	for name, p := range c.pingers {
		pingers[name] = p
	}
	c.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := make(map[string]string, len(pingers))
	ok := true
	for name, p := range pingers {
		if err := p.HealthPing(cctx); err != nil {
			out[name] = err.Error()
			ok = false
			continue
		}
		out[name] = "ok"
	}
	return out, ok
}
