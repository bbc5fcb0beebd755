package agent

import (
	"fmt"
	"sync"
)

// Factory is a constructor function that creates a new Handler instance.
type Factory func(config map[string]string) (Handler, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a capability handler factory available by agent ID.
// It is typically called from an init() function in the adapter package.
func Register(agentID string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[agentID]; exists {
		panic(fmt.Sprintf("agent: duplicate registration for %q", agentID))
	}
	factories[agentID] = factory
}

// New creates a new Handler by agent ID using the registered factory.
func New(agentID string, config map[string]string) (Handler, error) {
	mu.RLock()
	factory, ok := factories[agentID]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("agent: unknown capability %q", agentID)
	}
	return factory(config)
}

// Available returns the IDs of all registered capability factories.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
