package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mabdela/Text-Conferencing-App/internal/v1/auth"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/metrics"
)

// Registry errors surfaced to the dispatcher, which translates them into the
// NAK bodies the wire contract fixes.
var (
	ErrRoomExists = errors.New("session already exists")
	ErrNoRoom     = errors.New("session does not exist")
	ErrNotMember  = errors.New("not in session")
)

// Room is a named broadcast group. Members are kept in join order. A room
// never exists empty: the code path removing the last member removes the
// room itself.
type Room struct {
	Name    string
	members []*Conn
}

// Registry is the server's shared room state: rooms by name plus the
// read-only user directory. Every lookup and mutation runs under one mutex;
// the workers all share a single Registry.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	users *auth.Directory
}

// NewRegistry creates an empty Registry over the given user directory.
func NewRegistry(users *auth.Directory) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		users: users,
	}
}

// Users exposes the read-only credential directory.
func (r *Registry) Users() *auth.Directory { return r.users }

// CreateRoom creates a room and inserts c as its first member.
func (r *Registry) CreateRoom(name string, c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[name]; ok {
		return ErrRoomExists
	}
	r.rooms[name] = &Room{Name: name, members: []*Conn{c}}
	c.setRoom(name)

	metrics.ActiveRooms.Inc()
	metrics.RoomMembers.WithLabelValues(name).Set(1)
	return nil
}

// JoinRoom appends c to an existing room's members.
func (r *Registry) JoinRoom(name string, c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[name]
	if !ok {
		return ErrNoRoom
	}
	if !room.contains(c) {
		room.members = append(room.members, c)
	}
	c.setRoom(name)

	metrics.RoomMembers.WithLabelValues(name).Set(float64(len(room.members)))
	return nil
}

// LeaveRoom removes c from the named room, deleting the room when c was its
// last member. Leaving a room that exists but does not contain c is an
// error; the original server silently acknowledged that case.
func (r *Registry) LeaveRoom(name string, c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[name]
	if !ok {
		return ErrNoRoom
	}
	if !room.remove(c) {
		return ErrNotMember
	}
	c.setRoom("")
	r.evictIfEmpty(room)
	return nil
}

// RemoveEverywhere strips c from every room it is a member of, deleting
// rooms left empty. Runs during connection teardown, before the Conn is
// released, so no room ever references a dead connection.
func (r *Registry) RemoveEverywhere(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range r.rooms {
		if room.remove(c) {
			r.evictIfEmpty(room)
		}
	}
	c.setRoom("")
}

// Members returns a snapshot of a room's members and whether c is among
// them. Fan-out sends happen on the snapshot, outside the registry lock.
func (r *Registry) Members(name string, c *Conn) (members []*Conn, isMember bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[name]
	if !ok {
		return nil, false
	}
	members = make([]*Conn, len(room.members))
	copy(members, room.members)
	return members, room.contains(c)
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Listing renders the QUERY response body: one header line per room followed
// by one indented line per member. Rooms are listed in name order, members
// in join order.
func (r *Registry) Listing() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		room := r.rooms[name]
		fmt.Fprintf(&b, "'%s': %d users\n", room.Name, len(room.members))
		for _, member := range room.members {
			fmt.Fprintf(&b, "\t%s\n", member.ClientID())
		}
	}
	return b.String()
}

// evictIfEmpty deletes a room with no members left. Callers hold r.mu. The
// room is evicted under the name captured in the Room itself, not whatever
// the leaving connection still points at.
func (r *Registry) evictIfEmpty(room *Room) {
	if len(room.members) > 0 {
		metrics.RoomMembers.WithLabelValues(room.Name).Set(float64(len(room.members)))
		return
	}
	delete(r.rooms, room.Name)
	metrics.ActiveRooms.Dec()
	metrics.RoomMembers.DeleteLabelValues(room.Name)
}

func (room *Room) contains(c *Conn) bool {
	for _, member := range room.members {
		if member == c {
			return true
		}
	}
	return false
}

// remove deletes c from the member list preserving join order, reporting
// whether c was present.
func (room *Room) remove(c *Conn) bool {
	for i, member := range room.members {
		if member == c {
			room.members = append(room.members[:i], room.members[i+1:]...)
			return true
		}
	}
	return false
}
