// Package loader makes plugin entry points resolvable inside the running process.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
)

// ErrCodeLoad is fatal: an entry point that cannot be registered must never be enabled.
var ErrCodeLoad = errors.New("plugin code could not be loaded")

// Factory builds the object implementing a plugin's lifecycle hooks.
type Factory func() any

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory links an entry point into the binary. Plugins call it from init().
func RegisterFactory(entryPoint string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[entryPoint] = factory
}

func lookupFactory(entryPoint string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[entryPoint]
	return f, ok
}

// LinkedEntryPoints lists every entry point compiled into the binary.
func LinkedEntryPoints() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CodeRegistry is the capability the lifecycle manager needs from a code loading mechanism.
// Implementations must make Register idempotent and report failures as ErrCodeLoad.
type CodeRegistry interface {
	IsRegistered(entryPoint string) bool
	Register(namespace, path, entryPoint string) error
	Resolve(entryPoint string) (any, bool)
	// Unregister drops the entry point after its plugin's files are gone.
	Unregister(entryPoint string)
}

// StaticRegistry resolves entry points against factories linked into the binary.
type StaticRegistry struct {
	mu         sync.RWMutex
	lookup     func(string) (Factory, bool)
	namespaces map[string]string
	instances  map[string]any
}

// NewStaticRegistry uses the factories registered through RegisterFactory.
func NewStaticRegistry() *StaticRegistry {
	return newStaticRegistry(lookupFactory)
}

// NewStaticRegistryWith uses only the given factories.
func NewStaticRegistryWith(set map[string]Factory) *StaticRegistry {
	return newStaticRegistry(func(entryPoint string) (Factory, bool) {
		f, ok := set[entryPoint]
		return f, ok
	})
}

func newStaticRegistry(lookup func(string) (Factory, bool)) *StaticRegistry {
	return &StaticRegistry{
		lookup:     lookup,
		namespaces: make(map[string]string),
		instances:  make(map[string]any),
	}
}

func (r *StaticRegistry) IsRegistered(entryPoint string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[entryPoint]
	return ok
}

// Register maps namespace to path and instantiates the entry point once.
func (r *StaticRegistry) Register(namespace, path, entryPoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[entryPoint]; ok {
		return nil
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: stat %s: %v", ErrCodeLoad, path, err)
		}
	}
	factory, ok := r.lookup(entryPoint)
	if !ok {
		return fmt.Errorf("%w: no code linked for entry point %s", ErrCodeLoad, entryPoint)
	}
	instance := factory()
	if instance == nil {
		return fmt.Errorf("%w: factory for %s returned nil", ErrCodeLoad, entryPoint)
	}

	r.namespaces[namespace] = path
	r.instances[entryPoint] = instance
	return nil
}

func (r *StaticRegistry) Resolve(entryPoint string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[entryPoint]
	return instance, ok
}

func (r *StaticRegistry) Unregister(entryPoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, entryPoint)
}

// Namespaces returns a copy of the namespace to source path mapping.
func (r *StaticRegistry) Namespaces() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.namespaces))
	for k, v := range r.namespaces {
		out[k] = v
	}
	return out
}
