package wsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-platform/internal/auth"
	"chat-platform/internal/calls"
	"chat-platform/internal/directory"
	"chat-platform/internal/presence"
	"chat-platform/internal/signaling"
	"chat-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type fakeRinger struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRinger) RingCall(ctx context.Context, callID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, callID+"/"+userID)
	return f.err
}

type fakeSignals struct {
	mu      sync.Mutex
	toRoom  []signaling.Message
	toUser  []signaling.Message
	roomErr error
}

func (f *fakeSignals) RelayToRoom(ctx context.Context, m signaling.Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toRoom = append(f.toRoom, m)
	return 1, f.roomErr
}

func (f *fakeSignals) RelayToUser(ctx context.Context, m signaling.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toUser = append(f.toUser, m)
	return true, nil
}

type harness struct {
	srv     *httptest.Server
	reg     *presence.Registry
	ringer  *fakeRinger
	signals *fakeSignals
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := presence.NewRegistry(logger.Discard())
	dir := directory.NewMemory()
	dir.AddProfile(directory.Profile{ID: "alice", Username: "alice", DisplayName: "Alice A"})

	h := &harness{reg: reg, ringer: &fakeRinger{}, signals: &fakeSignals{}}
	handler := NewHandler(Deps{
		Registry:  reg,
		Rooms:     presence.NewRoomFanout(reg),
		Directory: dir,
		Calls:     h.ringer,
		Signals:   h.signals,
		Options:   Options{PingPeriod: time.Second, WriteTimeout: 500 * time.Millisecond},
		Log:       logger.Discard(),
	})

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		// Tests name the user in a query param instead of a token.
		uid := c.Query("user")
		if uid == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), uid, uid))
		c.Next()
	}, handler.Serve)

	h.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		h.srv.Close()
		reg.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?user=" + user
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

type frame struct {
	Type        string          `json:"type"`
	Error       string          `json:"error"`
	Ref         string          `json:"ref"`
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
	RoomID      string          `json:"room_id"`
	Members     []string        `json:"members"`
	Users       json.RawMessage `json:"users"`
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestServe_PresenceFrames(t *testing.T) {
	h := newHarness(t)

	a := h.dial(t, "alice")
	if f := readFrame(t, a); f.Type != "online_users" {
		t.Fatalf("expected online_users first, got %+v", f)
	}

	b := h.dial(t, "bob")
	if f := readFrame(t, b); f.Type != "online_users" || !strings.Contains(string(f.Users), `"alice"`) {
		t.Fatalf("bob should see alice online, got %+v", f)
	}
	if f := readFrame(t, a); f.Type != "user_joined" || f.UserID != "bob" {
		t.Fatalf("alice should be told bob joined, got %+v", f)
	}

	_ = b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if f := readFrame(t, a); f.Type != "user_left" || f.UserID != "bob" {
		t.Fatalf("alice should be told bob left, got %+v", f)
	}
	waitFor(t, func() bool { return !h.reg.IsOnline("bob") })
	if !h.reg.IsOnline("alice") {
		t.Fatalf("alice must stay online")
	}
}

func TestServe_DisplayNameFromDirectory(t *testing.T) {
	h := newHarness(t)
	b := h.dial(t, "bob")
	readFrame(t, b)

	a := h.dial(t, "alice")
	readFrame(t, a)
	if f := readFrame(t, b); f.Type != "user_joined" || f.DisplayName != "Alice A" {
		t.Fatalf("expected display name from profile, got %+v", f)
	}
}

func TestServe_PingAndRooms(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t, "alice")
	readFrame(t, a)

	send(t, a, map[string]string{"type": "ping"})
	if f := readFrame(t, a); f.Type != "pong" {
		t.Fatalf("expected pong, got %+v", f)
	}

	send(t, a, map[string]string{"type": "join_room", "room_id": "r1"})
	if f := readFrame(t, a); f.Type != "room_joined" || f.RoomID != "r1" || len(f.Members) != 1 {
		t.Fatalf("unexpected join reply %+v", f)
	}
	if room, ok := h.reg.RoomOf("alice"); !ok || room != "r1" {
		t.Fatalf("registry should place alice in r1, got %q %v", room, ok)
	}

	send(t, a, map[string]string{"type": "leave_room", "room_id": "r1"})
	if f := readFrame(t, a); f.Type != "room_left" {
		t.Fatalf("unexpected leave reply %+v", f)
	}
	send(t, a, map[string]string{"type": "leave_room", "room_id": "r1"})
	if f := readFrame(t, a); f.Type != "error" || f.Ref != "leave_room" {
		t.Fatalf("second leave should fail, got %+v", f)
	}
}

func TestServe_UnknownAndMalformedFrames(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t, "alice")
	readFrame(t, a)

	send(t, a, map[string]string{"type": "dance"})
	if f := readFrame(t, a); f.Type != "error" || f.Ref != "dance" {
		t.Fatalf("expected error for unknown type, got %+v", f)
	}

	_ = a.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if f := readFrame(t, a); f.Type != "error" {
		t.Fatalf("expected error for malformed frame, got %+v", f)
	}
	if !h.reg.IsOnline("alice") {
		t.Fatalf("bad frames must not drop the connection")
	}
}

func TestServe_SignalFramesRouteToRelay(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t, "alice")
	readFrame(t, a)

	send(t, a, map[string]any{"type": "webrtc_offer", "call_id": "c1", "target_user": "bob", "offer": map[string]string{"sdp": "v=0"}})
	send(t, a, map[string]any{"type": "ice_candidate", "call_id": "c1", "payload": map[string]string{"candidate": "x"}})

	waitFor(t, func() bool {
		h.signals.mu.Lock()
		defer h.signals.mu.Unlock()
		return len(h.signals.toUser) == 1 && len(h.signals.toRoom) == 1
	})

	h.signals.mu.Lock()
	defer h.signals.mu.Unlock()
	u := h.signals.toUser[0]
	if u.From != "alice" || u.Target != "bob" || string(u.Payload) != `{"sdp":"v=0"}` {
		t.Fatalf("unexpected targeted message %+v", u)
	}
	r := h.signals.toRoom[0]
	if r.Kind != "ice_candidate" || r.From != "alice" || string(r.Payload) != `{"candidate":"x"}` {
		t.Fatalf("unexpected room message %+v", r)
	}
}

func TestServe_RelayErrorsReturnErrorFrame(t *testing.T) {
	h := newHarness(t)
	h.signals.roomErr = calls.ErrNotPermitted
	a := h.dial(t, "alice")
	readFrame(t, a)

	send(t, a, map[string]any{"type": "webrtc_signal", "call_id": "c1", "signal": map[string]string{"k": "v"}})
	if f := readFrame(t, a); f.Type != "error" || f.Error != "not permitted" {
		t.Fatalf("expected not permitted error, got %+v", f)
	}
}

func TestServe_CallRinging(t *testing.T) {
	h := newHarness(t)
	h.ringer.err = calls.ErrInvalidState
	a := h.dial(t, "alice")
	readFrame(t, a)

	send(t, a, map[string]string{"type": "call_ringing", "call_id": "c9"})
	if f := readFrame(t, a); f.Type != "error" || f.Error != "invalid call state" {
		t.Fatalf("expected invalid state error, got %+v", f)
	}
	h.ringer.mu.Lock()
	defer h.ringer.mu.Unlock()
	if len(h.ringer.calls) != 1 || h.ringer.calls[0] != "c9/alice" {
		t.Fatalf("unexpected ring calls %v", h.ringer.calls)
	}
}

func TestErrorText_NamesNotConnected(t *testing.T) {
	if got := errorText(calls.ErrNotConnected); got != "not connected" {
		t.Fatalf("expected not connected, got %q", got)
	}
	if got := errorText(calls.ErrInvalidState); got != "invalid call state" {
		t.Fatalf("expected invalid call state, got %q", got)
	}
}

func TestServe_ReconnectReplacesOldSocket(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t, "alice")
	readFrame(t, first)

	second := h.dial(t, "alice")
	readFrame(t, second)

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// The old read loop exiting must not evict the new connection.
	time.Sleep(50 * time.Millisecond)
	if !h.reg.IsOnline("alice") {
		t.Fatalf("replacement connection should stay registered")
	}
	send(t, second, map[string]string{"type": "ping"})
	if f := readFrame(t, second); f.Type != "pong" {
		t.Fatalf("expected pong on new socket, got %+v", f)
	}
}

func TestServe_RequiresIdentity(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without identity")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestConn_SendAfterCloseAndBackpressure(t *testing.T) {
	c := &Conn{send: make(chan []byte, 1), done: make(chan struct{})}
	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send([]byte("b")); err != ErrBackpressure {
		t.Fatalf("expected backpressure, got %v", err)
	}
	_ = c.Close()
	_ = c.Close()
	if err := c.Send([]byte("c")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
