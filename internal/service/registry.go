package service

import (
	"fmt"
	"sort"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain"
	"github.com/msingatullin/ccontentcloud-sub000/internal/port/agent"
)

// AgentRegistry maps capability IDs to handlers for one user. A registry is an
// immutable snapshot once built: subscription changes produce a fresh registry
// (copy-on-refresh), never an in-place mutation, so concurrently executing
// tasks keep reading the snapshot they resolved from.
type AgentRegistry struct {
	handlers map[string]agent.Handler
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{handlers: make(map[string]agent.Handler)}
}

// Register binds a capability to a handler. Duplicate registration of the same
// agent ID within one registry is rejected.
func (r *AgentRegistry) Register(agentID string, h agent.Handler) error {
	if _, exists := r.handlers[agentID]; exists {
		return fmt.Errorf("register %q: already registered", agentID)
	}
	r.handlers[agentID] = h
	return nil
}

// Resolve returns the handler for a capability. This is the single gating
// point for pay-per-agent access: a task may not start running unless its
// capability resolves here.
func (r *AgentRegistry) Resolve(agentID string) (agent.Handler, error) {
	h, ok := r.handlers[agentID]
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", agentID, domain.ErrCapabilityNotFound)
	}
	return h, nil
}

// Capabilities returns the sorted capability IDs registered in this snapshot.
func (r *AgentRegistry) Capabilities() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
