package adapter

import (
	"fmt"
	"sync"

	"github.com/benchctl/benchctl/internal/obs/errs"
)

// Factory builds an Adapter by name. Registered once at process startup
// (spec §9: "any process-wide state is limited to immutable registries").
type Factory func() Adapter

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds a named adapter factory. Called from the init() of each
// adapter file (postgres, mysql, sqlite). Mock is not registered under any
// name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// New builds the adapter registered under name, or an AdapterConfigError
// if no such adapter is registered (spec §4.1 "AdapterConfigError
// (misconfigured)").
func New(name string) (Adapter, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, errs.AdapterConfigError(fmt.Sprintf("no adapter registered under name %q", name), nil)
	}
	return f(), nil
}

// Names returns the currently registered adapter names, for diagnostics.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
