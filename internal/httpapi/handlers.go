package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"chat-platform/internal/auth"
	"chat-platform/internal/calls"
	"chat-platform/internal/events"
	"chat-platform/internal/notify"
	"chat-platform/internal/presence"
	"chat-platform/internal/reporting"
	"chat-platform/internal/signaling"
	"chat-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

// CallService is the call lifecycle as seen by HTTP clients.
type CallService interface {
	InitiateCall(ctx context.Context, req calls.InitiateRequest) (calls.CallSession, error)
	RingCall(ctx context.Context, callID, userID string) error
	JoinCall(ctx context.Context, callID, userID string) error
	LeaveCall(ctx context.Context, callID, userID string) error
	RejectCall(ctx context.Context, callID, userID string) error
	EndCall(ctx context.Context, callID, userID string) error
	Call(ctx context.Context, callID string) (calls.CallSession, []calls.CallParticipant, error)
	ActiveCalls(ctx context.Context, userID string) ([]calls.CallView, error)
	CallHistory(ctx context.Context, userID string, limit int) ([]calls.CallView, error)
}

type Signals interface {
	RelayToRoom(ctx context.Context, m signaling.Message) (int, error)
	RelayToUser(ctx context.Context, m signaling.Message) (bool, error)
}

type Presence interface {
	OnlineUsers() []presence.UserInfo
	RoomMembers(roomID string) []string
}

type Reports interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
}

type Notifications interface {
	List(ctx context.Context, userID string, limit int) ([]notify.Notification, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth          *auth.Manager
	Calls         CallService
	Signals       Signals
	Presence      Presence
	Notifications Notifications
	Reports       Reports

	// AllowDevLogin enables token issuance without credentials. Never in production.
	AllowDevLogin bool
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login issues a JWT token pair.
//
// NOTE: users are managed elsewhere; this endpoint exists for local development.
func (h Handlers) Login(c *gin.Context) {
	if !h.AllowDevLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	h.issue(c, req.UserID, req.Username)
}

// Refresh exchanges a refresh token for a new pair.
func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	h.issue(c, claims.UserID, claims.Username)
}

func (h Handlers) issue(c *gin.Context, userID, username string) {
	pair, err := h.Auth.IssuePair(time.Now(), userID, username)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "username": auth.Username(c.Request.Context())})
}

// --- Calls ---

type initiateCallRequest struct {
	CallType       string   `json:"call_type"`
	RoomID         string   `json:"room_id"`
	ParticipantIDs []string `json:"participant_ids"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CallType == "" {
		req.CallType = string(calls.CallTypeAudio)
	}

	sess, err := h.Calls.InitiateCall(c.Request.Context(), calls.InitiateRequest{
		CallerID:       uid,
		CallType:       calls.CallType(req.CallType),
		RoomID:         req.RoomID,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h Handlers) GetCall(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	sess, rows, err := h.Calls.Call(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	member := false
	for _, p := range rows {
		if p.UserID == uid {
			member = true
			break
		}
	}
	if !member {
		abortWithError(c, calls.ErrNotPermitted)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": sess, "participants": rows})
}

// callAction adapts a (callID, userID) service operation to a handler.
func (h Handlers) callAction(op func(ctx context.Context, callID, userID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := requireUser(c)
		if !ok {
			return
		}
		callID := c.Param("call_id")
		if err := op(c.Request.Context(), callID, uid); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "call_id": callID})
	}
}

func (h Handlers) JoinCall() gin.HandlerFunc   { return h.callAction(h.Calls.JoinCall) }
func (h Handlers) RingCall() gin.HandlerFunc   { return h.callAction(h.Calls.RingCall) }
func (h Handlers) LeaveCall() gin.HandlerFunc  { return h.callAction(h.Calls.LeaveCall) }
func (h Handlers) RejectCall() gin.HandlerFunc { return h.callAction(h.Calls.RejectCall) }
func (h Handlers) EndCall() gin.HandlerFunc    { return h.callAction(h.Calls.EndCall) }

func (h Handlers) ActiveCalls(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	views, err := h.Calls.ActiveCalls(c.Request.Context(), uid)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": nonNil(views)})
}

func (h Handlers) CallHistory(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	views, err := h.Calls.CallHistory(c.Request.Context(), uid, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": nonNil(views)})
}

// defaultSummaryWindow applies when the summary request has no "from".
const defaultSummaryWindow = 30 * 24 * time.Hour

// CallsSummary aggregates the caller's calls between ?from= and ?to= (RFC 3339).
func (h Handlers) CallsSummary(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	to := time.Now().UTC()
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		to = t
	}
	from := to.Add(-defaultSummaryWindow)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		from = t
	}

	sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		UserID: uid,
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Signaling ---

type signalRequest struct {
	TargetUser string          `json:"target_user"`
	Payload    json.RawMessage `json:"payload"`
}

// Signal relays a negotiation payload of the given kind for the call in the path.
func (h Handlers) Signal(kind events.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := requireUser(c)
		if !ok {
			return
		}
		var req signalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		m := signaling.Message{
			Kind:    kind,
			CallID:  c.Param("call_id"),
			From:    uid,
			Target:  req.TargetUser,
			Payload: req.Payload,
		}

		ctx := c.Request.Context()
		if m.Target != "" {
			delivered, err := h.Signals.RelayToUser(ctx, m)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"delivered": delivered})
			return
		}
		n, err := h.Signals.RelayToRoom(ctx, m)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"delivered_to": n})
	}
}

// --- Presence ---

func (h Handlers) OnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": nonNil(h.Presence.OnlineUsers())})
}

func (h Handlers) RoomMembers(c *gin.Context) {
	roomID := c.Param("room_id")
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "members": nonNil(h.Presence.RoomMembers(roomID))})
}

// --- Notifications ---

func (h Handlers) ListNotifications(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	if limit <= 0 {
		limit = 50
	}
	list, err := h.Notifications.List(c.Request.Context(), uid, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": nonNil(list)})
}

// --- helpers ---

func requireUser(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", false
	}
	return uid, true
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	if code := errorCode(err); code != "" {
		body["code"] = code
	}
	c.AbortWithStatusJSON(status, body)
}

// errorCode names failures that share a status with other errors.
func errorCode(err error) string {
	if errors.Is(err, calls.ErrNotConnected) {
		return "not_connected"
	}
	return ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, calls.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, calls.ErrInvalidArgument), errors.Is(err, notify.ErrInvalidNotification):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// nonNil keeps empty lists as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
