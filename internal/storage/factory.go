package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/consejo-social/veeduria/internal/config"
)

// ErrUnknownBackend is returned by NewStorage for a name nothing registered.
var ErrUnknownBackend = errors.New("unknown storage backend")

// FactoryFunc builds a backend from the full config.
type FactoryFunc func(*config.Config) (Storage, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]FactoryFunc{}
)

// Register makes a backend available under name. It panics on a nil factory
// or a name registered twice, since both are wiring bugs caught at init.
func Register(name string, f FactoryFunc) {
	if f == nil {
		panic("storage: Register factory is nil for " + name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("storage: Register called twice for " + name)
	}
	registry[name] = f
}

// Backends lists the registered names in order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewStorage builds the backend selected by storage.default_backend.
func NewStorage(cfg *config.Config) (Storage, error) {
	name := cfg.Storage.DefaultBackend
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownBackend, name, Backends())
	}
	s, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("storage backend %s: %w", name, err)
	}
	return s, nil
}
