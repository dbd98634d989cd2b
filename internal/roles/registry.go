package roles

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

// Registry is the thread-safe role lookup used by the task store and the
// coordinator.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// rolesFile is the on-disk shape of a roles override file.
type rolesFile struct {
	Roles []Role `yaml:"roles"`
}

// NewRegistry creates a registry seeded with the built-in roles.
func NewRegistry() *Registry {
	r := &Registry{roles: make(map[string]Role, len(Defaults))}
	for _, role := range Defaults {
		r.roles[role.Name] = role
	}
	return r
}

// LoadFile merges roles from a YAML file into the registry. Entries with a
// known name override the built-in; new names extend the set.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read roles file: %w", err)
	}

	var file rolesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse roles file %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range file.Roles {
		if role.Name == "" {
			return fmt.Errorf("roles file %s: role without a name", path)
		}
		r.roles[role.Name] = role
	}
	return nil
}

// Valid reports whether name is a registered role. It satisfies the task
// store's owner validator.
func (r *Registry) Valid(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[name]
	return ok
}

// Known reports whether name is a registered role, satisfying the task
// store's owner validator.
func (r *Registry) Known(name string) bool { return r.Valid(name) }

// Get returns the named role.
func (r *Registry) Get(name string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	return role, ok
}

// Timeout returns the per-round wait budget for the named role. Zero means
// no deadline.
func (r *Registry) Timeout(name string) time.Duration {
	role, ok := r.Get(name)
	if !ok {
		return 0
	}
	return time.Duration(role.TimeoutSeconds) * time.Second
}

// Names returns the registered role names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
