package mcpmgr

import (
	"context"
	"sync"
)

// Registry supplies server records. The manager only reads from it; creating,
// updating and deleting records belongs to the registry's owner.
type Registry interface {
	ListServers(ctx context.Context) ([]ServerRecord, error)
}

// RegistryFunc adapts a function to the Registry interface.
type RegistryFunc func(ctx context.Context) ([]ServerRecord, error)

// ListServers implements Registry.
func (f RegistryFunc) ListServers(ctx context.Context) ([]ServerRecord, error) {
	return f(ctx)
}

// StaticRegistry is an in-memory Registry. It is safe for concurrent use and
// is handy for tests and for processes that load their server list once.
type StaticRegistry struct {
	mu      sync.RWMutex
	servers []ServerRecord
}

// NewStaticRegistry returns a registry holding a copy of servers.
func NewStaticRegistry(servers ...ServerRecord) *StaticRegistry {
	r := &StaticRegistry{}
	r.Set(servers...)
	return r
}

// ListServers implements Registry.
func (r *StaticRegistry) ListServers(context.Context) ([]ServerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerRecord, len(r.servers))
	copy(out, r.servers)
	return out, nil
}

// Set replaces the registry contents.
func (r *StaticRegistry) Set(servers ...ServerRecord) {
	cp := make([]ServerRecord, len(servers))
	copy(cp, servers)
	r.mu.Lock()
	r.servers = cp
	r.mu.Unlock()
}

// Upsert inserts rec or replaces the record sharing its ID.
func (r *StaticRegistry) Upsert(rec ServerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.servers {
		if r.servers[i].ID == rec.ID {
			r.servers[i] = rec
			return
		}
	}
	r.servers = append(r.servers, rec)
}

// SetEnabled flips the enabled flag of the record with the given id and
// reports whether it was found.
func (r *StaticRegistry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.servers {
		if r.servers[i].ID == id {
			r.servers[i].Enabled = enabled
			return true
		}
	}
	return false
}
