package directory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

var _ Directory = (*Registry)(nil)

// Registry is the in-process directory: a set of service descriptors keyed
// by name.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// registryFile is the on-disk layout. JSON files parse too.
type registryFile struct {
	Services []Service `yaml:"services"`
}

// NewRegistry returns a registry holding the given services.
func NewRegistry(services ...Service) *Registry {
	r := &Registry{services: make(map[string]Service, len(services))}
	for _, s := range services {
		if s.Name != "" {
			r.services[s.Name] = s
		}
	}
	return r
}

// LoadRegistry reads a YAML (or JSON) services file. A missing file yields
// an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("Service file %s not found, starting with an empty directory", path)
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse services file %s: %w", path, err)
	}
	for i, s := range file.Services {
		if s.Name == "" {
			return nil, fmt.Errorf("parse services file %s: entry %d: %w", path, i, ErrEmptyName)
		}
	}
	return NewRegistry(file.Services...), nil
}

// Exists reports whether name is registered.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok, nil
}

// Register adds or replaces a service.
func (r *Registry) Register(s Service) error {
	if s.Name == "" {
		return ErrEmptyName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.Name] = s
	return nil
}

// Remove deletes a service and reports whether it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; !ok {
		return false
	}
	delete(r.services, name)
	return true
}

// List returns all services sorted by name.
func (r *Registry) List() []Service {
	r.mu.RLock()
	out := make([]Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Service) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
