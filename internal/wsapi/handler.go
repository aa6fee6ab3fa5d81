// Package wsapi is the websocket transport: it registers each authenticated
// client with the presence registry and dispatches the frames it sends.
package wsapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chat-platform/internal/auth"
	"chat-platform/internal/calls"
	"chat-platform/internal/directory"
	"chat-platform/internal/events"
	"chat-platform/internal/presence"
	"chat-platform/internal/signaling"
	"chat-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const frameTimeout = 5 * time.Second

// Ringer acknowledges call invitations.
type Ringer interface {
	RingCall(ctx context.Context, callID, userID string) error
}

type Signals interface {
	RelayToRoom(ctx context.Context, m signaling.Message) (int, error)
	RelayToUser(ctx context.Context, m signaling.Message) (bool, error)
}

type Deps struct {
	Registry  *presence.Registry
	Rooms     *presence.RoomFanout
	Directory directory.Directory
	Calls     Ringer
	Signals   Signals
	Options   Options
	Log       *slog.Logger
}

type Handler struct {
	deps     Deps
	opts     Options
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		deps: d,
		opts: d.Options.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients authenticate with a token, so any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.Component(d.Log, "ws"),
	}
}

// inbound is the union of every frame a client may send.
type inbound struct {
	Type       events.Type     `json:"type"`
	RoomID     string          `json:"room_id"`
	CallID     string          `json:"call_id"`
	TargetUser string          `json:"target_user"`
	Payload    json.RawMessage `json:"payload"`
	Signal     json.RawMessage `json:"signal"`
	Candidate  json.RawMessage `json:"candidate"`
	Offer      json.RawMessage `json:"offer"`
	Answer     json.RawMessage `json:"answer"`
}

func (f inbound) signalPayload() json.RawMessage {
	var p json.RawMessage
	switch f.Type {
	case events.WebRTCSignal:
		p = f.Signal
	case events.ICECandidate:
		p = f.Candidate
	case events.WebRTCOffer:
		p = f.Offer
	case events.WebRTCAnswer:
		p = f.Answer
	}
	if len(p) == 0 {
		return f.Payload
	}
	return p
}

// Serve upgrades the request and blocks until the client goes away.
func (h *Handler) Serve(c *gin.Context) {
	ctx := c.Request.Context()
	userID, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	info := h.userInfo(ctx, userID)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logger.FromGin(c).Warn("ws upgrade failed", "user_id", userID, "err", err)
		return
	}

	log := h.log.With("user_id", userID)
	conn := newConn(ws, h.opts)
	go conn.writePump(log)

	h.deps.Registry.Connect(userID, conn, info)
	h.readPump(context.WithoutCancel(ctx), userID, conn, log)
}

func (h *Handler) userInfo(ctx context.Context, userID string) presence.UserInfo {
	info := presence.UserInfo{ID: userID, Username: auth.Username(ctx)}
	if h.deps.Directory == nil {
		return info
	}
	profiles, err := h.deps.Directory.Profiles(ctx, []string{userID})
	if err != nil {
		h.log.Warn("profile lookup failed", "user_id", userID, "err", err)
		return info
	}
	if p, ok := profiles[userID]; ok {
		if p.Username != "" {
			info.Username = p.Username
		}
		info.DisplayName = p.DisplayName
	}
	return info
}

func (h *Handler) readPump(ctx context.Context, userID string, conn *Conn, log *slog.Logger) {
	defer func() {
		h.deps.Registry.Release(userID, conn)
		_ = conn.Close()
	}()

	ws := conn.ws
	ws.SetReadLimit(h.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.pongWait()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.pongWait()))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("ws read failed", "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.pongWait()))
		h.handleFrame(ctx, userID, conn, data)
	}
}

func (h *Handler) handleFrame(parent context.Context, userID string, conn *Conn, data []byte) {
	var f inbound
	if err := json.Unmarshal(data, &f); err != nil {
		h.reply(conn, events.NewError(time.Now(), "", "malformed frame"))
		return
	}

	ctx, cancel := context.WithTimeout(parent, frameTimeout)
	defer cancel()
	now := time.Now()

	switch f.Type {
	case "ping":
		h.reply(conn, events.NewEnvelope(events.Pong, now))

	case "join_room":
		if !h.deps.Rooms.Join(userID, f.RoomID) {
			h.reply(conn, events.NewError(now, f.Type, "cannot join room"))
			return
		}
		h.reply(conn, presence.RoomEvent{
			Envelope: events.NewEnvelope(events.RoomJoined, now),
			RoomID:   f.RoomID,
			Members:  h.deps.Rooms.Members(f.RoomID),
		})

	case "leave_room":
		if !h.deps.Rooms.Leave(userID, f.RoomID) {
			h.reply(conn, events.NewError(now, f.Type, "not in room"))
			return
		}
		h.reply(conn, presence.RoomEvent{Envelope: events.NewEnvelope(events.RoomLeft, now), RoomID: f.RoomID})

	case events.CallRinging:
		if err := h.deps.Calls.RingCall(ctx, f.CallID, userID); err != nil {
			h.reply(conn, events.NewError(now, f.Type, errorText(err)))
		}

	case events.WebRTCSignal, events.ICECandidate, events.WebRTCOffer, events.WebRTCAnswer:
		m := signaling.Message{Kind: f.Type, CallID: f.CallID, From: userID, Target: f.TargetUser, Payload: f.signalPayload()}
		var err error
		if m.Target != "" {
			_, err = h.deps.Signals.RelayToUser(ctx, m)
		} else {
			_, err = h.deps.Signals.RelayToRoom(ctx, m)
		}
		if err != nil {
			h.reply(conn, events.NewError(now, f.Type, errorText(err)))
		}

	default:
		h.reply(conn, events.NewError(now, f.Type, "unknown frame type"))
	}
}

func (h *Handler) reply(conn *Conn, v any) {
	b, err := events.Encode(v)
	if err != nil {
		h.log.Error("encode reply failed", "err", err)
		return
	}
	_ = conn.Send(b)
}

func errorText(err error) string {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		return "call not found"
	case errors.Is(err, calls.ErrNotPermitted):
		return "not permitted"
	case errors.Is(err, calls.ErrNotConnected):
		return "not connected"
	case errors.Is(err, calls.ErrInvalidState):
		return "invalid call state"
	case errors.Is(err, calls.ErrInvalidArgument):
		return "invalid request"
	default:
		return "internal error"
	}
}
