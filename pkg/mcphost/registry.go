package mcphost

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QualifiedToolName returns the server-qualified alias under which a
// colliding tool stays reachable.
func QualifiedToolName(server, tool string) string {
	return server + "." + tool
}

// CollisionEvent records one observed tool-name collision for observability.
type CollisionEvent struct {
	ID     string
	Tool   string
	Winner string // server keeping the bare name
	Loser  string // server whose tool moved under the alias
	Alias  string
	At     time.Time
}

// RegistryEntry resolves one exposed tool name to its owner. Native is the
// name the owning server declared, which differs from Tool.Name when the
// registry exposed the tool under a collision alias.
type RegistryEntry struct {
	Tool    ToolDescriptor
	Native  string
	Session *Session
}

// Registry merges the tool catalogues of every active session into one
// namespace. Collision policy: the first-registered server wins the bare
// name; later servers' colliding tools are additionally exposed under a
// "server.tool" alias, so no tool ever becomes unreachable. Re-registering a
// server replaces its prior entries atomically — Resolve never observes a
// half-applied catalogue.
type Registry struct {
	logger *slog.Logger

	mu sync.RWMutex
	// order preserves server registration order, which decides bare-name
	// precedence. A server keeps its slot across Failed/reconnect cycles.
	order      []string
	catalogues map[string][]ToolDescriptor
	sessions   map[string]*Session
	entries    map[string]RegistryEntry
	listing    []ToolDescriptor
	collisions []CollisionEvent
	seen       map[string]struct{}
}

// NewRegistry builds an empty registry. A nil logger falls back to
// slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:     logger,
		catalogues: make(map[string][]ToolDescriptor),
		sessions:   make(map[string]*Session),
		entries:    make(map[string]RegistryEntry),
		seen:       make(map[string]struct{}),
	}
}

// Register installs (or wholesale replaces) one server's catalogue. The
// session becomes the resolution target for every tool in the catalogue.
func (r *Registry) Register(session *Session, catalogue []ToolDescriptor) {
	name := session.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.catalogues[name]; !known {
		r.order = append(r.order, name)
	}
	r.catalogues[name] = append([]ToolDescriptor(nil), catalogue...)
	r.sessions[name] = session
	r.rebuildLocked()
}

// Unregister drops a server's entries, for example when its session failed.
// The server keeps its registration slot, so a later re-registration regains
// its original bare-name precedence.
func (r *Registry) Unregister(serverName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.catalogues[serverName]; !known {
		return
	}
	r.catalogues[serverName] = nil
	delete(r.sessions, serverName)
	r.rebuildLocked()
}

// Resolve maps an exposed tool name (bare or server-qualified) to its owning
// session and descriptor.
func (r *Registry) Resolve(toolName string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[toolName]
	return entry, ok
}

// List returns a snapshot of every exposed tool, ordered by server
// registration order and then by each server's declaration order. Descriptor
// names are the exposed names, so a colliding tool appears under its alias.
func (r *Registry) List() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ToolDescriptor(nil), r.listing...)
}

// Collisions returns the collision events observed so far, oldest first.
func (r *Registry) Collisions() []CollisionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]CollisionEvent(nil), r.collisions...)
}

// rebuildLocked recomputes the merged namespace from the per-server
// catalogues. Deriving the whole view from registration order on every
// mutation keeps the collision policy deterministic no matter in which order
// servers connected, failed, or re-announced their catalogues.
func (r *Registry) rebuildLocked() {
	entries := make(map[string]RegistryEntry, len(r.entries))
	listing := make([]ToolDescriptor, 0, len(r.listing))
	for _, serverName := range r.order {
		session := r.sessions[serverName]
		if session == nil {
			continue
		}
		for _, tool := range r.catalogues[serverName] {
			exposed := tool.Name
			if owner, taken := entries[tool.Name]; taken {
				// Requalify until free: the plain alias can itself be taken
				// when a server literally declared a dotted name matching
				// another tool's alias.
				alias := QualifiedToolName(serverName, tool.Name)
				for {
					if _, aliasTaken := entries[alias]; !aliasTaken {
						break
					}
					alias = QualifiedToolName(serverName, alias)
				}
				r.recordCollisionLocked(tool.Name, owner.Tool.Server, serverName, alias)
				exposed = alias
			}
			descriptor := tool
			descriptor.Name = exposed
			entries[exposed] = RegistryEntry{Tool: descriptor, Native: tool.Name, Session: session}
			listing = append(listing, descriptor)
		}
	}
	r.entries = entries
	r.listing = listing
}

func (r *Registry) recordCollisionLocked(tool, winner, loser, alias string) {
	key := winner + "\x00" + loser + "\x00" + tool
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	event := CollisionEvent{
		ID:     uuid.NewString(),
		Tool:   tool,
		Winner: winner,
		Loser:  loser,
		Alias:  alias,
		At:     time.Now(),
	}
	r.collisions = append(r.collisions, event)
	r.logger.Warn("tool name collision",
		"tool", tool, "winner", winner, "loser", loser, "alias", alias)
}
