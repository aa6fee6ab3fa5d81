// Package rbac guards room-scoped routes using room membership held by the
// directory.
package rbac

import (
	"context"
	"net/http"
	"slices"

	"chat-platform/internal/auth"
	"chat-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RoomAccess lists the members of a room.
type RoomAccess interface {
	RoomMemberIDs(ctx context.Context, roomID string) ([]string, error)
}

// RequireRoomMember allows access only to members of the room named by the
// path parameter param.
func RequireRoomMember(access RoomAccess, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, roomID, ok := roomRequest(c, param)
		if !ok {
			return
		}
		members, err := access.RoomMemberIDs(c.Request.Context(), roomID)
		if err != nil {
			logger.FromGin(c).Error("room membership lookup failed", "room_id", roomID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !slices.Contains(members, uid) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func roomRequest(c *gin.Context, param string) (string, string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", "", false
	}
	roomID := c.Param(param)
	if roomID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": param + " required"})
		return "", "", false
	}
	return uid, roomID, true
}
