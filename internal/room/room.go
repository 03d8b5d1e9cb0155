// Package room tracks which live connections belong to which fan-out room
// and delivers events to them.
package room

import (
	"sort"
	"sync"

	"github.com/zulandar/huddle/internal/metrics"
)

// ID identifies a room: "thread:<candidateID>" or "user:<userID>".
type ID string

const (
	threadPrefix = "thread:"
	userPrefix   = "user:"
)

// Thread returns the room for a candidate discussion thread.
func Thread(candidateID string) ID { return ID(threadPrefix + candidateID) }

// User returns a user's personal notification room.
func User(userID string) ID { return ID(userPrefix + userID) }

// Event is a named payload pushed to room members.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Subscriber receives room events. Deliver must not block; it reports
// whether the event was accepted. Implementations must be comparable.
type Subscriber interface {
	Deliver(ev Event) bool
}

// Registry maps rooms to their live subscribers. All methods are safe for
// concurrent use. Empty rooms are removed.
type Registry struct {
	mu     sync.Mutex
	rooms  map[ID]map[Subscriber]struct{}
	joined map[Subscriber]map[ID]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[ID]map[Subscriber]struct{}),
		joined: make(map[Subscriber]map[ID]struct{}),
	}
}

// Join adds sub to room. It returns false if sub was already a member.
func (r *Registry) Join(id ID, sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[id]
	if members == nil {
		members = make(map[Subscriber]struct{})
		r.rooms[id] = members
	}
	if _, ok := members[sub]; ok {
		return false
	}
	members[sub] = struct{}{}

	rooms := r.joined[sub]
	if rooms == nil {
		rooms = make(map[ID]struct{})
		r.joined[sub] = rooms
	}
	rooms[id] = struct{}{}
	return true
}

// Leave removes sub from room. It returns false if sub was not a member.
func (r *Registry) Leave(id ID, sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(id, sub)
}

func (r *Registry) leaveLocked(id ID, sub Subscriber) bool {
	members, ok := r.rooms[id]
	if !ok {
		return false
	}
	if _, ok := members[sub]; !ok {
		return false
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(r.rooms, id)
	}
	if rooms := r.joined[sub]; rooms != nil {
		delete(rooms, id)
		if len(rooms) == 0 {
			delete(r.joined, sub)
		}
	}
	return true
}

// Drop removes sub from every room it joined and returns how many rooms
// it left. The cost is proportional to sub's own memberships.
func (r *Registry) Drop(sub Subscriber) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.joined[sub]
	n := 0
	for id := range rooms {
		if r.leaveLocked(id, sub) {
			n++
		}
	}
	delete(r.joined, sub)
	return n
}

// Broadcast delivers ev to the members of room at the time of the call and
// returns how many accepted it. Delivery happens outside the lock, so
// members joining or leaving concurrently may or may not receive ev.
func (r *Registry) Broadcast(id ID, ev Event) int {
	r.mu.Lock()
	members := r.rooms[id]
	snapshot := make([]Subscriber, 0, len(members))
	for sub := range members {
		snapshot = append(snapshot, sub)
	}
	r.mu.Unlock()

	delivered := 0
	for _, sub := range snapshot {
		if sub.Deliver(ev) {
			delivered++
			metrics.EventsDelivered.WithLabelValues(ev.Name).Inc()
		} else {
			metrics.EventsDropped.WithLabelValues(ev.Name).Inc()
		}
	}
	return delivered
}

// Members returns the number of subscribers in room.
func (r *Registry) Members(id ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[id])
}

// IsMember reports whether sub belongs to room.
func (r *Registry) IsMember(id ID, sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[id][sub]
	return ok
}

// Rooms returns the rooms sub belongs to, sorted.
func (r *Registry) Rooms(sub Subscriber) []ID {
	r.mu.Lock()
	ids := make([]ID, 0, len(r.joined[sub]))
	for id := range r.joined[sub] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stats returns the number of non-empty rooms and of subscribers holding
// at least one membership.
func (r *Registry) Stats() (rooms, subscribers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms), len(r.joined)
}

// Len returns the number of non-empty rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
