package sources

import (
	"fmt"
	"sync"
)

var (
	registry       = make(map[string]Factory)
	quoterRegistry = make(map[string]QuoterFactory)
	mu             sync.RWMutex
)

// Register adds a source factory to the registry
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// RegisterQuoter adds a quoter factory to the registry
func RegisterQuoter(name string, factory QuoterFactory) {
	mu.Lock()
	defer mu.Unlock()
	quoterRegistry[name] = factory
}

// Create creates a new source instance by type and name
func Create(sourceType, name string, config map[string]interface{}) (Source, error) {
	mu.RLock()
	defer mu.RUnlock()

	key := fmt.Sprintf("%s.%s", sourceType, name)
	factory, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, key)
	}

	return factory(config)
}

// CreateQuoter creates a new quoter instance by type and name
func CreateQuoter(sourceType, name string, config map[string]interface{}) (Quoter, error) {
	mu.RLock()
	defer mu.RUnlock()

	key := fmt.Sprintf("%s.%s", sourceType, name)
	factory, ok := quoterRegistry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, key)
	}

	return factory(config)
}

// List returns all registered source names
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry)+len(quoterRegistry))
	for name := range registry {
		names = append(names, name)
	}
	for name := range quoterRegistry {
		names = append(names, name)
	}
	return names
}
