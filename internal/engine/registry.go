package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the compile-time replacement for the original's runtime
// directory-scan-and-introspect step discovery (spec.md §9). Step kind
// packages call Register from an init() function; configuration selects
// a kind by its registered name via the "_step" option, with aliasing as
// a second lookup layer keyed by the user-chosen step name.
//
// A kind registered via RegisterUncallable stays in the discoverable set
// (Lookup, KindNames, "steps --show") but is refused by MustLookup, the
// lookup configuration loading uses to instantiate a step — this is how
// a legacy kind can be described without being runnable (spec.md §9 Open
// Question 3).
type Registry struct {
	mu         sync.RWMutex
	kinds      map[string]Kind
	uncallable map[string]bool
}

var defaultRegistry = &Registry{kinds: make(map[string]Kind), uncallable: make(map[string]bool)}

// Register adds a step kind to the default registry, callable from
// configuration. Call from an init() function in the package that
// implements the kind.
func Register(kind Kind) {
	defaultRegistry.Register(kind)
}

// RegisterUncallable adds a step kind that is discoverable but can never
// be instantiated from configuration (MustLookup always refuses it).
func RegisterUncallable(kind Kind) {
	defaultRegistry.RegisterUncallable(kind)
}

// Lookup resolves a registered step kind by name from the default
// registry, regardless of whether it is callable.
func Lookup(name string) (Kind, bool) {
	return defaultRegistry.Lookup(name)
}

// KindNames lists all registered step kind names, sorted, regardless of
// whether they are callable.
func KindNames() []string {
	return defaultRegistry.KindNames()
}

func (r *Registry) Register(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind.Name()] = kind
}

func (r *Registry) RegisterUncallable(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind.Name()] = kind
	r.uncallable[kind.Name()] = true
}

func (r *Registry) Lookup(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

func (r *Registry) KindNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MustLookup is Lookup but returns a ConfigurationError instead of the
// boolean when the kind is not registered or is registered uncallable.
func MustLookup(name string) (Kind, error) {
	return defaultRegistry.MustLookup(name)
}

func (r *Registry) MustLookup(name string) (Kind, error) {
	r.mu.RLock()
	k, ok := r.kinds[name]
	uncallable := r.uncallable[name]
	r.mu.RUnlock()
	if !ok || uncallable {
		return nil, fmt.Errorf("%w: unknown step kind %q", ErrConfiguration, name)
	}
	return k, nil
}
