package agent

import (
	"context"
	"fmt"
	"sync"
)

// Registry tracks every agent running in a process by name, so a supervisor
// can bind, subscribe, and tear them down as a group instead of holding a
// hand-written slice per call site.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Add binds a to router and registers it under its own name. Returns an
// error if an agent with that name is already registered.
func (r *Registry) Add(router Router, a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.Name()]; exists {
		return fmt.Errorf("[agent-registry] add %s: already registered", a.Name())
	}
	a.Bind(router)
	r.agents[a.Name()] = a
	return nil
}

// Get looks up a registered agent by name.
func (r *Registry) Get(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("[agent-registry] get %s: not registered", name)
	}
	return a, nil
}

// Remove unregisters the named agent. It does not unsubscribe it from any
// router; callers wanting a clean teardown should call the agent's own
// Unsubscribe first.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[name]; !ok {
		return fmt.Errorf("[agent-registry] remove %s: not registered", name)
	}
	delete(r.agents, name)
	return nil
}

// AutoSubscribeAll calls Subscribe("") on every registered agent, so a
// process can bring its whole fleet onto the router in one call. The first
// error stops the walk; agents already subscribed before the failure remain
// subscribed.
func (r *Registry) AutoSubscribeAll(ctx context.Context) error {
	r.mu.RLock()
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	for _, a := range agents {
		if err := a.Subscribe(ctx, ""); err != nil {
			return fmt.Errorf("[agent-registry] auto_subscribe %s: %w", a.Name(), err)
		}
	}
	return nil
}

// Names returns the names of every registered agent.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}
