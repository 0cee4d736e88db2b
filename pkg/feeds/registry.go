package feeds

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var (
	registry = make(map[Type]Factory)
	mu       sync.RWMutex
)

// Register adds a feed factory to the registry
func Register(feedType Type, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[feedType] = factory
}

// Create creates a new feed instance by type
func Create(ctx context.Context, feedType string, config map[string]interface{}) (Feed, error) {
	mu.RLock()
	factory, ok := registry[Type(feedType)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeedType, feedType)
	}

	if config == nil {
		config = make(map[string]interface{})
	}
	return factory(ctx, config)
}

// List returns all registered feed types
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
