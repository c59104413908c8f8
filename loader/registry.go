package loader

import (
	"sort"
	"sync"

	"github.com/evanphx/nkern/kernel"
)

// Registry maps entry point names to the programs they run.
type Registry struct {
	mu       sync.RWMutex
	programs map[string]kernel.Program
}

func NewRegistry() *Registry {
	return &Registry{
		programs: make(map[string]kernel.Program),
	}
}

func (r *Registry) Register(name string, prog kernel.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.programs[name] = prog
}

func (r *Registry) Lookup(name string) (kernel.Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prog, ok := r.programs[name]
	return prog, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string

	for name := range r.programs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
