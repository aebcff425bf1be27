package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nurture-app/nurture-backend/internal/services"
)

const defaultRoomHistory = 30 * 24 * time.Hour

type ChatRoomHandler struct {
	chatService services.ChatService
}

func NewChatRoomHandler(chatService services.ChatService) *ChatRoomHandler {
	return &ChatRoomHandler{chatService: chatService}
}

func (rh *ChatRoomHandler) GetToday(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	room, err := rh.chatService.GetOrCreateTodayRoom(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to load chat room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatRoom": room})
}

// ListRooms accepts ?from and ?to as RFC 3339 timestamps or YYYY-MM-DD dates.
// The default range is the last 30 days.
func (rh *ChatRoomHandler) ListRooms(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	now := time.Now()
	from, err := parseRangeParam(c.Query("from"), now.Add(-defaultRoomHistory))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	to, err := parseRangeParam(c.Query("to"), now.Add(time.Minute))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	rooms, err := rh.chatService.ListRooms(c.Request.Context(), userID, from, to)
	if err != nil {
		respondError(c, err, "Failed to load chat rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatRooms": rooms})
}

func (rh *ChatRoomHandler) ListTurns(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	turns, err := rh.chatService.ListTurns(c.Request.Context(), userID, roomID)
	if err != nil {
		respondError(c, err, "Failed to load conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns})
}

// Bootstrap makes sure the room has an upstream conversation id.
func (rh *ChatRoomHandler) Bootstrap(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	convID, err := rh.chatService.EnsureConversationID(c.Request.Context(), userID, roomID)
	if err != nil {
		respondError(c, err, "Failed to start conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": convID})
}

func parseRangeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
