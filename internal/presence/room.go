package presence

// RoomFanout scopes delivery to the members of a single room.
type RoomFanout struct {
	reg *Registry
}

func NewRoomFanout(reg *Registry) *RoomFanout {
	return &RoomFanout{reg: reg}
}

// Broadcast sends payload to every member of roomID except exclude.
func (f *RoomFanout) Broadcast(roomID string, payload any, exclude string) int {
	return f.reg.BroadcastToRoom(roomID, payload, exclude)
}

func (f *RoomFanout) Members(roomID string) []string {
	return f.reg.RoomMembers(roomID)
}

func (f *RoomFanout) Join(userID, roomID string) bool {
	return f.reg.JoinRoom(userID, roomID)
}

func (f *RoomFanout) Leave(userID, roomID string) bool {
	return f.reg.LeaveRoom(userID, roomID)
}
