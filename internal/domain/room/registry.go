package room

import (
	"sort"
	"sync"
)

// Registry maps rooms to the connections currently in them.
//
// A connection belongs to exactly one room for its whole lifetime: once
// joined it cannot join another room until it has left. All methods are
// safe for concurrent use; reads return copies.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{}
	members map[string]string // connection -> room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[string]struct{}),
		members: make(map[string]string),
	}
}

// Join adds connID to room. It reports whether membership changed; joining
// twice, or joining while already a member of another room, is a no-op.
func (r *Registry) Join(room, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[connID]; ok {
		return false
	}

	set, ok := r.rooms[room]
	if !ok {
		set = make(map[string]struct{})
		r.rooms[room] = set
	}
	set[connID] = struct{}{}
	r.members[connID] = room
	return true
}

// Leave removes connID from room. It reports whether membership changed.
func (r *Registry) Leave(room, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.members[connID]; !ok || current != room {
		return false
	}

	set := r.rooms[room]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.rooms, room)
	}
	delete(r.members, connID)
	return true
}

// MembersOf returns a sorted snapshot of the connections in room.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.rooms[room])
}

// RoomOf returns the room connID belongs to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.members[connID]
	return room, ok
}

// Snapshot returns a deep copy of the room table for diagnostics.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.rooms))
	for room, set := range r.rooms {
		out[room] = sortedKeys(set)
	}
	return out
}

// Count returns the total number of members across all rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
