// Package directory answers identity and room-membership questions owned by
// the wider chat platform.
package directory

import (
	"context"
	"sort"
	"sync"
)

// Role names of a room member. Keep these stable; they are stored in room_members.role.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// IsAdminRole reports whether role may manage calls in the room.
func IsAdminRole(role string) bool { return role == RoleOwner || role == RoleAdmin }

type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Name is the best human-readable label for p.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Username != "" {
		return p.Username
	}
	return p.ID
}

type Directory interface {
	// Profiles returns the known profiles among ids; unknown ids are omitted.
	Profiles(ctx context.Context, ids []string) (map[string]Profile, error)
	IsRoomAdmin(ctx context.Context, roomID, userID string) (bool, error)
	RoomMemberIDs(ctx context.Context, roomID string) ([]string, error)
}

// Memory is an in-memory Directory for tests and local runs.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	rooms    map[string]map[string]string // room -> user -> role
}

func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]Profile),
		rooms:    make(map[string]map[string]string),
	}
}

func (m *Memory) AddProfile(p Profile) {
	m.mu.Lock()
	m.profiles[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) AddMember(roomID, userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]string)
		m.rooms[roomID] = members
	}
	members[userID] = role
}

func (m *Memory) Profiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Profile, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *Memory) IsRoomAdmin(ctx context.Context, roomID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return IsAdminRole(m.rooms[roomID][userID]), nil
}

func (m *Memory) RoomMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	m.mu.RLock()
	out := make([]string, 0, len(m.rooms[roomID]))
	for uid := range m.rooms[roomID] {
		out = append(out, uid)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}
