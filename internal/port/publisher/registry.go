package publisher

import (
	"fmt"
	"sync"
)

// Factory is a constructor function that creates a new Publisher instance.
type Factory func(config map[string]string) (Publisher, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a publisher factory available by platform name.
// It is typically called from an init() function in the adapter package.
func Register(platform string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[platform]; exists {
		panic(fmt.Sprintf("publisher: duplicate registration for %q", platform))
	}
	factories[platform] = factory
}

// New creates a new Publisher by platform name using the registered factory.
func New(platform string, config map[string]string) (Publisher, error) {
	mu.RLock()
	factory, ok := factories[platform]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("publisher: unknown platform %q", platform)
	}
	return factory(config)
}

// Available returns the names of all registered platforms.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
