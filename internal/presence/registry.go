// Package presence tracks which users have live realtime connections and
// which connections are subscribed to which rooms. State lives only in
// process memory and starts empty.
package presence

// Registry maps a user id to the set of that user's live connection ids.
// A user is online while the set is non-empty. Mutations are linearizable
// per user; different users never contend.
type Registry struct {
	users keyedSet
}

func NewRegistry() *Registry { return &Registry{} }

// Register adds connID to userID's connections and reports whether this
// was the user's first connection (offline to online).
func (r *Registry) Register(userID, connID string) bool {
	_, first := r.users.add(userID, connID)
	return first
}

// Unregister removes connID and reports whether the user has no
// connections left (online to offline). Unknown ids are a no-op.
func (r *Registry) Unregister(userID, connID string) bool {
	_, emptied := r.users.remove(userID, connID)
	return emptied
}

// ConnectionsFor returns a snapshot of userID's connection ids.
func (r *Registry) ConnectionsFor(userID string) []string {
	return r.users.members(userID)
}

func (r *Registry) Online(userID string) bool { return r.users.has(userID) }

// OnlineUsers returns the ids of every user with at least one connection.
func (r *Registry) OnlineUsers() []string { return r.users.keys() }

// Rooms maps room ids to subscribed connection ids, with a reverse index so
// a closing connection can leave every room it joined.
type Rooms struct {
	rooms  keyedSet // roomID -> connIDs
	joined keyedSet // connID -> roomIDs
}

func NewRooms() *Rooms { return &Rooms{} }

// Join subscribes connID to roomID. It reports false if it was already a member.
func (r *Rooms) Join(roomID, connID string) bool {
	added, _ := r.rooms.add(roomID, connID)
	r.joined.add(connID, roomID)
	return added
}

// Leave unsubscribes connID from roomID. It reports whether connID was a member.
func (r *Rooms) Leave(roomID, connID string) bool {
	removed, _ := r.rooms.remove(roomID, connID)
	r.joined.remove(connID, roomID)
	return removed
}

// Members returns a snapshot of the connections subscribed to roomID.
func (r *Rooms) Members(roomID string) []string { return r.rooms.members(roomID) }

// RoomsOf returns the rooms connID is subscribed to.
func (r *Rooms) RoomsOf(connID string) []string { return r.joined.members(connID) }

// LeaveAll removes connID from every room it joined.
func (r *Rooms) LeaveAll(connID string) {
	for _, roomID := range r.joined.members(connID) {
		r.rooms.remove(roomID, connID)
		r.joined.remove(connID, roomID)
	}
}
