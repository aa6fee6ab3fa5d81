package presence

import "chat-platform/internal/events"

// UserPresenceEvent is sent as user_joined / user_left when a connection
// appears or goes away.
type UserPresenceEvent struct {
	events.Envelope
	UserID      string `json:"user_id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type OnlineUsersEvent struct {
	events.Envelope
	Users []UserInfo `json:"users"`
}

// RoomEvent acknowledges a join_room / leave_room request.
type RoomEvent struct {
	events.Envelope
	RoomID  string   `json:"room_id"`
	Members []string `json:"members,omitempty"`
}
