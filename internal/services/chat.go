package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nurture-app/nurture-backend/internal/errordata"
	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/recurrence"
	"github.com/nurture-app/nurture-backend/internal/repos"
	"github.com/nurture-app/nurture-backend/internal/socket"
	"github.com/nurture-app/nurture-backend/internal/tasks"
	"github.com/nurture-app/nurture-backend/internal/types"
)

const roomTitleLayout = "January 2, 2006"

// Notifier pushes an event to a user's websocket channel.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data interface{})
}

// TurnInput is a finished exchange waiting to be stored.
type TurnInput struct {
	ChatRoomID     uuid.UUID
	UserID         uuid.UUID
	Query          string
	Response       string
	ConversationID string
}

type ChatService interface {
	GetOrCreateTodayRoom(ctx context.Context, userID uuid.UUID) (*types.ChatRoom, error)
	GetRoom(ctx context.Context, userID, roomID uuid.UUID) (*types.ChatRoom, error)
	ListRooms(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]types.ChatRoom, error)
	ListTurns(ctx context.Context, userID, roomID uuid.UUID) ([]types.ConversationTurn, error)

	EnsureConversationID(ctx context.Context, userID, roomID uuid.UUID) (string, error)
	UserInfo(ctx context.Context, userID uuid.UUID) types.UserInfo

	SaveTurn(ctx context.Context, tx *gorm.DB, in TurnInput) (*types.ConversationTurn, error)
	// EnqueueSaveTurn stores the turn in the background and reports the
	// outcome on the user's channel.
	EnqueueSaveTurn(in TurnInput) (*tasks.Ticket, error)
}

type chatService struct {
	log              *logger.Logger
	txRunner         repos.TxRunner
	chatRoomRepo     repos.ChatRoomRepo
	conversationRepo repos.ConversationRepo
	profileRepo      repos.ProfileRepo
	upstream         ChatUpstreamService
	queue            *tasks.Queue
	notifier         Notifier
	loc              *time.Location
	now              func() time.Time
}

func NewChatService(
	log *logger.Logger,
	txRunner repos.TxRunner,
	chatRoomRepo repos.ChatRoomRepo,
	conversationRepo repos.ConversationRepo,
	profileRepo repos.ProfileRepo,
	upstream ChatUpstreamService,
	queue *tasks.Queue,
	notifier Notifier,
	loc *time.Location,
) ChatService {
	if loc == nil {
		loc = time.UTC
	}
	return &chatService{
		log:              log.With("service", "ChatService"),
		txRunner:         txRunner,
		chatRoomRepo:     chatRoomRepo,
		conversationRepo: conversationRepo,
		profileRepo:      profileRepo,
		upstream:         upstream,
		queue:            queue,
		notifier:         notifier,
		loc:              loc,
		now:              time.Now,
	}
}

// GetOrCreateTodayRoom returns the user's room for the current local day.
// Two concurrent first requests can both create a room; the earliest wins on
// later lookups.
func (cs *chatService) GetOrCreateTodayRoom(ctx context.Context, userID uuid.UUID) (*types.ChatRoom, error) {
	today := recurrence.DayWindow(cs.now(), cs.loc)
	tomorrow := today.Start.AddDate(0, 0, 1)
	rooms, err := cs.chatRoomRepo.GetInRange(ctx, nil, userID, today.Start, tomorrow)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to load chat room")
		return nil, fmt.Errorf("failed to load today's chat room: %w", err)
	}
	if len(rooms) > 0 {
		return &rooms[0], nil
	}

	room := &types.ChatRoom{
		UserID:    userID,
		Title:     today.Start.Format(roomTitleLayout),
		CreatedAt: cs.now(),
	}
	created, err := cs.chatRoomRepo.Create(ctx, nil, room)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to create chat room")
		return nil, fmt.Errorf("failed to create chat room: %w", err)
	}
	cs.log.Info("Chat room created", "roomID", created.ID, "userID", userID)
	return created, nil
}

func (cs *chatService) GetRoom(ctx context.Context, userID, roomID uuid.UUID) (*types.ChatRoom, error) {
	room, err := cs.chatRoomRepo.GetByID(ctx, nil, userID, roomID)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to load chat room")
		return nil, fmt.Errorf("failed to load chat room: %w", err)
	}
	if room == nil {
		errordata.SetMessage(ctx, "Chat room not found")
		return nil, ErrNotFound
	}
	return room, nil
}

func (cs *chatService) ListRooms(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]types.ChatRoom, error) {
	if !to.After(from) {
		errordata.SetMessage(ctx, "to must be after from")
		return nil, fmt.Errorf("%w: empty range", ErrValidation)
	}
	rooms, err := cs.chatRoomRepo.GetInRange(ctx, nil, userID, from, to)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to load chat rooms")
		return nil, fmt.Errorf("failed to load chat rooms: %w", err)
	}
	return rooms, nil
}

func (cs *chatService) ListTurns(ctx context.Context, userID, roomID uuid.UUID) ([]types.ConversationTurn, error) {
	if _, err := cs.GetRoom(ctx, userID, roomID); err != nil {
		return nil, err
	}
	turns, err := cs.conversationRepo.GetByChatRoomID(ctx, nil, roomID)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to load conversation")
		return nil, fmt.Errorf("failed to load conversation turns: %w", err)
	}
	return turns, nil
}

// EnsureConversationID returns the room's upstream conversation id, asking the
// upstream for one when the room has none yet.
func (cs *chatService) EnsureConversationID(ctx context.Context, userID, roomID uuid.UUID) (string, error) {
	room, err := cs.GetRoom(ctx, userID, roomID)
	if err != nil {
		return "", err
	}
	if room.HasConversation() {
		return *room.ConversationID, nil
	}

	convID, err := cs.upstream.FetchConversationID(ctx, userID.String(), cs.UserInfo(ctx, userID).Inputs())
	if err != nil {
		cs.log.Warn("Conversation bootstrap failed", "roomID", roomID, "error", err)
		errordata.SetMessage(ctx, "Failed to start conversation")
		return "", err
	}
	updated, err := cs.chatRoomRepo.SetConversationID(ctx, nil, roomID, convID)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to save conversation")
		return "", fmt.Errorf("failed to save conversation id: %w", err)
	}
	if !updated {
		// Someone else set it first; theirs is the one the room keeps.
		room, err = cs.GetRoom(ctx, userID, roomID)
		if err != nil {
			return "", err
		}
		if room.HasConversation() {
			return *room.ConversationID, nil
		}
	}
	cs.log.Info("Conversation bootstrapped", "roomID", roomID, "conversationID", convID)
	return convID, nil
}

// UserInfo returns the profile snapshot for userID. A missing or unreadable
// profile yields an empty snapshot.
func (cs *chatService) UserInfo(ctx context.Context, userID uuid.UUID) types.UserInfo {
	profile, err := cs.profileRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		cs.log.Warn("Failed to load profile for snapshot", "userID", userID, "error", err)
		return types.UserInfo{}
	}
	return profile.Snapshot()
}

func (cs *chatService) SaveTurn(ctx context.Context, tx *gorm.DB, in TurnInput) (*types.ConversationTurn, error) {
	if tx == nil {
		var out *types.ConversationTurn
		err := cs.txRunner.Transaction(ctx, func(innerTx *gorm.DB) error {
			turn, sErr := cs.saveTurnLogic(ctx, innerTx, in)
			if sErr != nil {
				return sErr
			}
			out = turn
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return cs.saveTurnLogic(ctx, tx, in)
}

func (cs *chatService) saveTurnLogic(ctx context.Context, tx *gorm.DB, in TurnInput) (*types.ConversationTurn, error) {
	if in.ChatRoomID == uuid.Nil || in.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: chat room and user are required", ErrValidation)
	}
	info, err := json.Marshal(cs.UserInfo(ctx, in.UserID))
	if err != nil {
		return nil, fmt.Errorf("failed to encode user info: %w", err)
	}
	turn := &types.ConversationTurn{
		ChatRoomID:     in.ChatRoomID,
		UserID:         in.UserID,
		Query:          in.Query,
		Response:       in.Response,
		ConversationID: in.ConversationID,
		UserInfo:       datatypes.JSON(info),
	}
	created, err := cs.conversationRepo.Create(ctx, tx, turn)
	if err != nil {
		return nil, fmt.Errorf("failed to store conversation turn: %w", err)
	}
	if in.ConversationID != "" {
		if _, err := cs.chatRoomRepo.SetConversationID(ctx, tx, in.ChatRoomID, in.ConversationID); err != nil {
			return nil, fmt.Errorf("failed to save conversation id: %w", err)
		}
	}
	return created, nil
}

// EnqueueSaveTurn never blocks the caller. When the queue cannot take the job
// the user is told the save failed.
func (cs *chatService) EnqueueSaveTurn(in TurnInput) (*tasks.Ticket, error) {
	ticket, err := cs.queue.Enqueue("save-turn", func(ctx context.Context) error {
		turn, err := cs.SaveTurn(ctx, nil, in)
		if err != nil {
			cs.log.Error("Failed to persist conversation turn", "roomID", in.ChatRoomID, "userID", in.UserID, "error", err)
			cs.notify(ctx, in.UserID, socket.EventConversationSaveFailed, map[string]string{
				"chat_room_id": in.ChatRoomID.String(),
				"error":        "Failed to save conversation",
			})
			return err
		}
		cs.log.Debug("Conversation turn persisted", "turnID", turn.ID, "roomID", in.ChatRoomID)
		cs.notify(ctx, in.UserID, socket.EventConversationSaved, map[string]string{
			"chat_room_id": in.ChatRoomID.String(),
			"turn_id":      turn.ID.String(),
		})
		return nil
	})
	if err != nil {
		cs.notify(context.Background(), in.UserID, socket.EventConversationSaveFailed, map[string]string{
			"chat_room_id": in.ChatRoomID.String(),
			"error":        "Failed to save conversation",
		})
		return nil, err
	}
	return ticket, nil
}

func (cs *chatService) notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) {
	if cs.notifier == nil {
		return
	}
	cs.notifier.Notify(context.WithoutCancel(ctx), userID, event, data)
}
