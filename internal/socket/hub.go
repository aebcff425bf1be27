package socket

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nurture-app/nurture-backend/internal/logger"
)

// Notification events pushed to a user's channel.
const (
	EventCalendarUpdated        = "calendar_updated"
	EventConversationSaved      = "conversation_saved"
	EventConversationSaveFailed = "conversation_save_failed"
)

// Message is the envelope sent to websocket clients and over Redis.
type Message struct {
	Channel string      `json:"channel"`
	Event   string      `json:"event"`
	Data    interface{} `json:"data,omitempty"`
	// Origin identifies the publishing hub so it can skip its own Redis echo.
	Origin string `json:"origin,omitempty"`
}

func UserChannel(userID uuid.UUID) string {
	return "user:" + userID.String()
}

type Hub struct {
	id       string
	log      *logger.Logger
	mu       sync.RWMutex
	channels map[string]map[uuid.UUID]*Client

	fanout *RedisFanout
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		id:       uuid.NewString(),
		log:      log.With("component", "Hub"),
		channels: make(map[string]map[uuid.UUID]*Client),
	}
}

// SetFanout makes Notify reach clients connected to other instances.
func (h *Hub) SetFanout(f *RedisFanout) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fanout = f
}

func (h *Hub) Subscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		if h.channels[ch] == nil {
			h.channels[ch] = make(map[uuid.UUID]*Client)
		}
		h.channels[ch][client.ID] = client
	}
	h.log.Debug("Client subscribed", "client", client.ID, "channels", channels)
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, clientsMap := range h.channels {
		if _, ok := clientsMap[client.ID]; ok {
			delete(clientsMap, client.ID)
			if len(clientsMap) == 0 {
				delete(h.channels, ch)
			}
		}
	}
	h.log.Debug("Client unsubscribed from all channels", "client", client.ID)
}

func (h *Hub) UnsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clientsMap, ok := h.channels[channel]; ok {
		delete(clientsMap, client.ID)
		if len(clientsMap) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Subscribers reports how many local clients listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) localBroadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientsMap, ok := h.channels[msg.Channel]
	if !ok {
		return
	}
	msg.Origin = ""
	for _, client := range clientsMap {
		select {
		case client.Outbound <- msg:
		default:
			h.log.Warn("Dropping message to client; outbound buffer full", "client", client.ID, "channel", msg.Channel)
		}
	}
}

// receiveRemote delivers a message that arrived over Redis, ignoring our own echo.
func (h *Hub) receiveRemote(msg Message) {
	if msg.Origin == h.id {
		return
	}
	h.localBroadcast(msg)
}

// BroadcastGlobal delivers msg to local subscribers and, when Redis is
// configured, publishes it for every other instance.
func (h *Hub) BroadcastGlobal(ctx context.Context, msg Message) {
	h.localBroadcast(msg)

	h.mu.RLock()
	f := h.fanout
	h.mu.RUnlock()
	if f != nil {
		msg.Origin = h.id
		if err := f.Publish(ctx, msg); err != nil {
			h.log.Warn("Failed to publish to Redis", "error", err)
		}
	}
}

// Notify sends event to every connection of userID.
func (h *Hub) Notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) {
	h.BroadcastGlobal(ctx, Message{
		Channel: UserChannel(userID),
		Event:   event,
		Data:    data,
	})
}
