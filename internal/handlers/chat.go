package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/relay"
	"github.com/nurture-app/nurture-backend/internal/requestdata"
	"github.com/nurture-app/nurture-backend/internal/services"
)

type ChatHandler struct {
	log         *logger.Logger
	upstream    services.ChatUpstreamService
	chatService services.ChatService
}

func NewChatHandler(log *logger.Logger, upstream services.ChatUpstreamService, chatService services.ChatService) *ChatHandler {
	return &ChatHandler{
		log:         log.With("handler", "ChatHandler"),
		upstream:    upstream,
		chatService: chatService,
	}
}

type chatRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id"`
	User           string `json:"user"`
	ChatRoomID     string `json:"chat_room_id"`
}

// Chat relays one streamed answer from the upstream assistant. Once the
// stream reports completion the turn is saved in the background when the
// request names a chat room.
func (ch *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query is required"})
		return
	}

	ctx := c.Request.Context()
	userID := requestdata.UserID(ctx)

	var roomID uuid.UUID
	if req.ChatRoomID != "" {
		id, err := uuid.Parse(req.ChatRoomID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat_room_id"})
			return
		}
		roomID = id
	}

	user := req.User
	if user == "" && userID != uuid.Nil {
		user = userID.String()
	}
	inputs := map[string]interface{}{}
	if userID != uuid.Nil {
		inputs = ch.chatService.UserInfo(ctx, userID).Inputs()
	}

	conversationID := req.ConversationID
	if conversationID == "" && roomID != uuid.Nil && userID != uuid.Nil {
		id, err := ch.chatService.EnsureConversationID(ctx, userID, roomID)
		if err != nil {
			respondError(c, err, err.Error())
			return
		}
		conversationID = id
	}

	body, err := ch.upstream.StreamChat(ctx, services.ChatRequest{
		Inputs:         inputs,
		Query:          req.Query,
		User:           user,
		ConversationID: conversationID,
	})
	if err != nil {
		ch.log.Warn("Failed to open upstream stream", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer body.Close()

	var onTerminal func(relay.Result)
	if roomID != uuid.Nil && userID != uuid.Nil {
		onTerminal = func(res relay.Result) {
			convID := res.ConversationID
			if convID == "" {
				convID = conversationID
			}
			_, err := ch.chatService.EnqueueSaveTurn(services.TurnInput{
				ChatRoomID:     roomID,
				UserID:         userID,
				Query:          req.Query,
				Response:       res.Answer,
				ConversationID: convID,
			})
			if err != nil {
				ch.log.Error("Failed to enqueue conversation save", "roomID", roomID, "error", err)
			}
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	r := relay.New(c.Writer, onTerminal, ch.log)
	if err := r.Run(body); err != nil {
		ch.log.Debug("Chat stream ended early", "state", r.State(), "error", err)
	}
}
