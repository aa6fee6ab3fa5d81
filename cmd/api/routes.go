package main

import (
	"context"
	"net/http"
	"time"

	"chat-platform/internal/events"
	"chat-platform/internal/httpapi"
	"chat-platform/internal/rbac"
	"chat-platform/internal/wsapi"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	authMW   gin.HandlerFunc
	handlers httpapi.Handlers
	ws       *wsapi.Handler
	rooms    rbac.RoomAccess
	ready    func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := d.ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	// Websocket upgrade. The token may ride in the access_token query param.
	r.GET("/ws", d.authMW, d.ws.Serve)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	{
		v1.GET("/me", h.Me)

		// CALLS routes
		calls := v1.Group("/calls")
		{
			calls.POST("", h.InitiateCall)
			calls.GET("/active", h.ActiveCalls)
			calls.GET("/history", h.CallHistory)
			calls.GET("/summary", h.CallsSummary)
			calls.GET("/:call_id", h.GetCall)
			calls.POST("/:call_id/ring", h.RingCall())
			calls.POST("/:call_id/join", h.JoinCall())
			calls.POST("/:call_id/leave", h.LeaveCall())
			calls.POST("/:call_id/reject", h.RejectCall())
			calls.POST("/:call_id/end", h.EndCall())

			// SIGNALING routes
			calls.POST("/:call_id/signal", h.Signal(events.WebRTCSignal))
			calls.POST("/:call_id/ice-candidate", h.Signal(events.ICECandidate))
			calls.POST("/:call_id/offer", h.Signal(events.WebRTCOffer))
			calls.POST("/:call_id/answer", h.Signal(events.WebRTCAnswer))
		}

		// PRESENCE routes
		v1.GET("/presence/online", h.OnlineUsers)
		v1.GET("/rooms/:room_id/members", rbac.RequireRoomMember(d.rooms, "room_id"), h.RoomMembers)

		v1.GET("/notifications", h.ListNotifications)
	}
}
