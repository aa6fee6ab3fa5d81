package presence

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"chat-platform/internal/events"
	"chat-platform/pkg/logger"
)

// Channel is a live duplex connection to one client.
// Send must not block; a non-nil error means the frame was not accepted and
// the registry will drop the connection.
//
// Handles are matched with ==, so implementations must be comparable
// (normally a pointer type). Connect refuses any other kind.
type Channel interface {
	Send(data []byte) error
	Close() error
}

// UserInfo is presentation data supplied by the caller at connect time.
type UserInfo struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type connection struct {
	ch          Channel
	info        UserInfo
	connectedAt time.Time
}

type target struct {
	userID string
	ch     Channel
}

// Registry tracks which users are reachable right now and which single room
// each of them currently occupies.
//
// One mutex guards the connection map and both room indices. Sends, Close and
// disconnect hooks always run after the lock is released.
type Registry struct {
	mu          sync.Mutex
	conns       map[string]*connection
	roomMembers map[string]map[string]struct{}
	userRooms   map[string]string
	hooks       []func(userID string)

	clock func() time.Time
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		conns:       make(map[string]*connection),
		roomMembers: make(map[string]map[string]struct{}),
		userRooms:   make(map[string]string),
		clock:       time.Now,
		log:         logger.Component(log, "presence"),
	}
}

// OnDisconnect registers fn to run after a user's connection is removed.
func (r *Registry) OnDisconnect(fn func(userID string)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Connect registers ch for userID, replacing and closing any previous handle.
// Everyone else is told the user joined; the new connection gets the online list.
func (r *Registry) Connect(userID string, ch Channel, info UserInfo) {
	if userID == "" || ch == nil {
		return
	}
	if !reflect.TypeOf(ch).Comparable() {
		r.log.Error("connection refused, channel type is not comparable", "user_id", userID, "type", fmt.Sprintf("%T", ch))
		return
	}
	info.ID = userID

	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = &connection{ch: ch, info: info, connectedAt: r.clock()}
	r.mu.Unlock()

	if prev != nil && prev.ch != ch {
		r.log.Info("connection replaced", "user_id", userID)
		_ = prev.ch.Close()
	} else {
		r.log.Info("user connected", "user_id", userID)
	}

	now := r.clock()
	r.Broadcast(UserPresenceEvent{
		Envelope:    events.NewEnvelope(events.UserJoined, now),
		UserID:      userID,
		Username:    info.Username,
		DisplayName: info.DisplayName,
	}, userID)

	r.sendIf(userID, ch, OnlineUsersEvent{
		Envelope: events.NewEnvelope(events.OnlineUsers, now),
		Users:    r.OnlineUsers(),
	})
}

// Disconnect removes userID and its room membership. No-op when absent.
func (r *Registry) Disconnect(userID string) {
	r.disconnect(userID, nil)
}

// Release disconnects userID only while ch is still its registered handle.
// Transports call it when their read loop exits so that a stale connection
// cannot evict the one that replaced it.
func (r *Registry) Release(userID string, ch Channel) {
	if ch == nil {
		return
	}
	r.disconnect(userID, ch)
}

func (r *Registry) disconnect(userID string, only Channel) bool {
	r.mu.Lock()
	c, ok := r.conns[userID]
	if !ok || (only != nil && c.ch != only) {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	r.removeFromRoomLocked(userID)
	hooks := make([]func(string), len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()

	_ = c.ch.Close()
	r.log.Info("user disconnected", "user_id", userID, "connected_for", r.clock().Sub(c.connectedAt).String())

	r.Broadcast(UserPresenceEvent{
		Envelope:    events.NewEnvelope(events.UserLeft, r.clock()),
		UserID:      userID,
		Username:    c.info.Username,
		DisplayName: c.info.DisplayName,
	}, "")

	for _, h := range hooks {
		h(userID)
	}
	return true
}

// SendPersonal delivers payload to one user. It reports false when the user
// is offline or the send failed; a failed send also disconnects the user.
func (r *Registry) SendPersonal(userID string, payload any) bool {
	r.mu.Lock()
	c, ok := r.conns[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.sendIf(userID, c.ch, payload)
}

func (r *Registry) sendIf(userID string, ch Channel, payload any) bool {
	data, err := events.Encode(payload)
	if err != nil {
		r.log.Error("encode event failed", "user_id", userID, "err", err)
		return false
	}
	if err := ch.Send(data); err != nil {
		r.log.Debug("send failed", "user_id", userID, "err", err)
		r.disconnect(userID, ch)
		return false
	}
	return true
}

// Broadcast delivers payload to every connection except exclude and returns
// how many accepted it.
func (r *Registry) Broadcast(payload any, exclude string) int {
	r.mu.Lock()
	targets := make([]target, 0, len(r.conns))
	for uid, c := range r.conns {
		if uid == exclude {
			continue
		}
		targets = append(targets, target{userID: uid, ch: c.ch})
	}
	r.mu.Unlock()

	return r.fanout(targets, payload)
}

// BroadcastToRoom is Broadcast scoped to the current members of roomID.
func (r *Registry) BroadcastToRoom(roomID string, payload any, exclude string) int {
	r.mu.Lock()
	members := r.roomMembers[roomID]
	if len(members) == 0 {
		r.mu.Unlock()
		return 0
	}
	targets := make([]target, 0, len(members))
	for uid := range members {
		if uid == exclude {
			continue
		}
		if c, ok := r.conns[uid]; ok {
			targets = append(targets, target{userID: uid, ch: c.ch})
		}
	}
	r.mu.Unlock()

	return r.fanout(targets, payload)
}

// fanout sends to a snapshot. Failed recipients are disconnected only once
// the whole snapshot has been attempted.
func (r *Registry) fanout(targets []target, payload any) int {
	if len(targets) == 0 {
		return 0
	}
	data, err := events.Encode(payload)
	if err != nil {
		r.log.Error("encode event failed", "err", err)
		return 0
	}

	var failed []target
	for _, t := range targets {
		if err := t.ch.Send(data); err != nil {
			r.log.Debug("send failed", "user_id", t.userID, "err", err)
			failed = append(failed, t)
		}
	}
	for _, t := range failed {
		r.disconnect(t.userID, t.ch)
	}
	return len(targets) - len(failed)
}

// JoinRoom moves a connected user into roomID, leaving any previous room.
// It reports false when the user is not connected.
func (r *Registry) JoinRoom(userID, roomID string) bool {
	if roomID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[userID]; !ok {
		return false
	}
	if cur, ok := r.userRooms[userID]; ok {
		if cur == roomID {
			return true
		}
		r.removeFromRoomLocked(userID)
	}
	members, ok := r.roomMembers[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.roomMembers[roomID] = members
	}
	members[userID] = struct{}{}
	r.userRooms[userID] = roomID
	return true
}

// LeaveRoom removes userID from roomID. No-op unless that is the user's current room.
func (r *Registry) LeaveRoom(userID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.userRooms[userID]; !ok || cur != roomID {
		return false
	}
	r.removeFromRoomLocked(userID)
	return true
}

func (r *Registry) removeFromRoomLocked(userID string) {
	roomID, ok := r.userRooms[userID]
	if !ok {
		return
	}
	delete(r.userRooms, userID)
	if members, ok := r.roomMembers[roomID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.roomMembers, roomID)
		}
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[userID]
	return ok
}

// OnlineUsers returns every connected user sorted by id.
func (r *Registry) OnlineUsers() []UserInfo {
	r.mu.Lock()
	out := make([]UserInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.info)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomMembers returns the ids currently in roomID, sorted.
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.roomMembers[roomID]))
	for uid := range r.roomMembers[roomID] {
		out = append(out, uid)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

func (r *Registry) RoomOf(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.userRooms[userID]
	return roomID, ok
}

// Close drops every connection and then runs the disconnect hooks for each
// removed user, so call state is settled before shutdown continues. Presence
// is not broadcast since nobody is left to receive it.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connection)
	r.roomMembers = make(map[string]map[string]struct{})
	r.userRooms = make(map[string]string)
	hooks := make([]func(string), len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.ch.Close()
	}
	for userID := range conns {
		for _, h := range hooks {
			h(userID)
		}
	}
	r.log.Info("registry closed", "connections", len(conns))
}
