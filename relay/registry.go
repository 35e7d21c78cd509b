package relay

import "sync"

// RoomMember describes one local member of a room.
type RoomMember struct {
	ConnectionID string `json:"connectionId"`
	Active       bool   `json:"active"`
}

// RoomSummary is one entry of the world-state answer sent to newly
// connected clients.
type RoomSummary struct {
	RoomID      string       `json:"roomId"`
	MemberCount int          `json:"memberCount"`
	Members     []RoomMember `json:"members"`
}

// Registry is the instance-local bookkeeping of live connections and the
// rooms they belong to. Rooms exist only as long as at least one connection
// has joined them; the first local join and the last local leave are
// reported so the caller can ref-count fabric subscriptions. All mutation
// is serialized behind one mutex.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{} // room id -> member connection ids
	conns map[string]map[string]struct{} // connection id -> joined room ids
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to the room. Idempotent. Reports whether this
// was the first local member of the room.
func (r *Registry) Join(connectionID, roomID string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]struct{})
		first = true
	}
	r.rooms[roomID][connectionID] = struct{}{}

	if r.conns[connectionID] == nil {
		r.conns[connectionID] = make(map[string]struct{})
	}
	r.conns[connectionID][roomID] = struct{}{}
	return first
}

// Leave removes the connection from the room. Idempotent. Reports whether
// the room is now locally empty.
func (r *Registry) Leave(connectionID, roomID string) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connectionID, roomID)
}

func (r *Registry) leaveLocked(connectionID, roomID string) (last bool) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
			last = true
		}
	}
	if rooms, ok := r.conns[connectionID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.conns, connectionID)
		}
	}
	return last
}

// LeaveAll removes the connection from every room it joined. Returns the
// rooms departed and the subset that are now locally empty.
func (r *Registry) LeaveAll(connectionID string) (departed, emptied []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.conns[connectionID] {
		departed = append(departed, roomID)
		if r.leaveLocked(connectionID, roomID) {
			emptied = append(emptied, roomID)
		}
	}
	return departed, emptied
}

// Rooms returns the room ids the connection has joined.
func (r *Registry) Rooms(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]string, 0, len(r.conns[connectionID]))
	for roomID := range r.conns[connectionID] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Members returns the local member connection ids of the room.
func (r *Registry) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]string, 0, len(r.rooms[roomID]))
	for connectionID := range r.rooms[roomID] {
		members = append(members, connectionID)
	}
	return members
}

// ListRooms summarizes every locally-known room. active reports whether a
// member's connection is still live; a member whose socket is tearing down
// can linger here until its disconnect bookkeeping runs.
func (r *Registry) ListRooms(active func(connectionID string) bool) []RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summaries := make([]RoomSummary, 0, len(r.rooms))
	for roomID, members := range r.rooms {
		summary := RoomSummary{
			RoomID:      roomID,
			MemberCount: len(members),
			Members:     make([]RoomMember, 0, len(members)),
		}
		for connectionID := range members {
			summary.Members = append(summary.Members, RoomMember{
				ConnectionID: connectionID,
				Active:       active(connectionID),
			})
		}
		summaries = append(summaries, summary)
	}
	return summaries
}
