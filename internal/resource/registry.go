package resource

import (
	"fmt"
	"sort"
	"sync"

	ierr "github.com/consejo-social/veeduria/internal/errors"
)

// Registry holds every registered Schema keyed by path. It is filled at
// startup and frozen before the server accepts requests.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
	frozen  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register validates s and adds it under s.Path.
func (r *Registry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen; cannot register %q", s.Path)
	}
	if _, exists := r.schemas[s.Path]; exists {
		return fmt.Errorf("resource %q already registered", s.Path)
	}
	if err := s.build(); err != nil {
		return err
	}
	r.schemas[s.Path] = s
	return nil
}

// MustRegister registers every schema and panics on the first error.
func (r *Registry) MustRegister(schemas ...*Schema) {
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Freeze rejects any further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get returns the schema registered under name, or an UnknownResource error.
func (r *Registry) Get(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[name]
	if !ok {
		return nil, ierr.NewUnknownResource(name)
	}
	return s, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.schemas[name]
	return ok
}

// ByName returns the schema whose singular Name is name, as stored in
// entity references such as archivos.entidad_tipo.
func (r *Registry) ByName(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.schemas {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, ierr.NewUnknownResource(name)
}

// Names lists registered paths in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
