package evaluator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultName is the evaluator used when a run does not name one.
const DefaultName = "synthetic"

// ErrNotRegistered is returned when resolving an unknown evaluator.
var ErrNotRegistered = errors.New("evaluator not registered")

// Entry pairs a registered name with the evaluator's description.
type Entry struct {
	Name string `json:"name"`
	Info Info   `json:"info"`
}

// Registry holds registered evaluators.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

// NewRegistry creates an empty evaluator registry.
func NewRegistry() *Registry {
	return &Registry{
		evaluators: make(map[string]Evaluator),
	}
}

// Register adds an evaluator under the given name, replacing any previous one.
func (r *Registry) Register(name string, e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[name] = e
}

// Resolve returns the evaluator registered under name. An empty name
// resolves to DefaultName.
func (r *Registry) Resolve(name string) (Evaluator, error) {
	if name == "" {
		name = DefaultName
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.evaluators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return e, nil
}

// List returns all registered evaluators sorted by name.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.evaluators))
	for name, e := range r.evaluators {
		entries = append(entries, Entry{Name: name, Info: e.Info()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries
}
