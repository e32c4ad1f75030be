package realtime

import (
	"sort"
	"strings"
	"sync"
)

const (
	personalPrefix     = "user:"
	conversationPrefix = "conversation:"
)

// PersonalRoom is the room every connection of userID joins on connect.
func PersonalRoom(userID string) string { return personalPrefix + userID }

func ConversationRoom(conversationID string) string { return conversationPrefix + conversationID }

// RoomKey derives the rendezvous room of two users from their sorted ids.
func RoomKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// isSignalingRoom excludes the personal and conversation rooms.
func isSignalingRoom(roomID string) bool {
	return !strings.HasPrefix(roomID, personalPrefix) && !strings.HasPrefix(roomID, conversationPrefix)
}

// Rooms tracks room membership of live clients. Membership is never
// persisted; it is rebuilt as clients join.
type Rooms struct {
	mu       sync.RWMutex
	members  map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members:  map[string]map[*Client]struct{}{},
		byClient: map[*Client]map[string]struct{}{},
	}
}

// Join adds c to roomID and reports whether it was not already a member.
func (r *Rooms) Join(c *Client, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[roomID]
	if !ok {
		set = map[*Client]struct{}{}
		r.members[roomID] = set
	}
	if _, in := set[c]; in {
		return false
	}
	set[c] = struct{}{}
	mine, ok := r.byClient[c]
	if !ok {
		mine = map[string]struct{}{}
		r.byClient[c] = mine
	}
	mine[roomID] = struct{}{}
	return true
}

func (r *Rooms) Leave(c *Client, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(c, roomID)
}

// LeaveAll removes c from every room and returns the rooms it was in.
func (r *Rooms) LeaveAll(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var left []string
	for roomID := range r.byClient[c] {
		if r.leaveLocked(c, roomID) {
			left = append(left, roomID)
		}
	}
	delete(r.byClient, c)
	sort.Strings(left)
	return left
}

func (r *Rooms) leaveLocked(c *Client, roomID string) bool {
	set, ok := r.members[roomID]
	if !ok {
		return false
	}
	if _, in := set[c]; !in {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.members, roomID)
	}
	if mine := r.byClient[c]; mine != nil {
		delete(mine, roomID)
	}
	return true
}

func (r *Rooms) Has(c *Client, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[roomID][c]
	return ok
}

// Clients returns a snapshot of the room's members.
func (r *Rooms) Clients(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.members[roomID]))
	for c := range r.members[roomID] {
		out = append(out, c)
	}
	return out
}

// Members returns the distinct user ids in the room, sorted.
func (r *Rooms) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	out := []string{}
	for c := range r.members[roomID] {
		if !seen[c.UserID] {
			seen[c.UserID] = true
			out = append(out, c.UserID)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Rooms) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[roomID])
}
