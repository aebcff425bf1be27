package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/types"
)

type ChatRoomRepo interface {
	Create(ctx context.Context, tx *gorm.DB, room *types.ChatRoom) (*types.ChatRoom, error)
	GetByID(ctx context.Context, tx *gorm.DB, userID, roomID uuid.UUID) (*types.ChatRoom, error)
	GetInRange(ctx context.Context, tx *gorm.DB, userID uuid.UUID, from, to time.Time) ([]types.ChatRoom, error)
	SetConversationID(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, conversationID string) (bool, error)
}

type chatRoomRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRoomRepo(db *gorm.DB, baseLog *logger.Logger) ChatRoomRepo {
	return &chatRoomRepo{
		db:  db,
		log: baseLog.With("repo", "ChatRoomRepo"),
	}
}

func (cr *chatRoomRepo) Create(ctx context.Context, tx *gorm.DB, room *types.ChatRoom) (*types.ChatRoom, error) {
	if tx == nil {
		tx = cr.db
	}
	if err := tx.WithContext(ctx).Create(room).Error; err != nil {
		cr.log.Error("failed to create chat room", "error", err)
		return nil, err
	}
	return room, nil
}

func (cr *chatRoomRepo) GetByID(ctx context.Context, tx *gorm.DB, userID, roomID uuid.UUID) (*types.ChatRoom, error) {
	if tx == nil {
		tx = cr.db
	}
	var room types.ChatRoom
	res := tx.WithContext(ctx).
		Where("id = ? AND user_id = ?", roomID, userID).
		Limit(1).
		Find(&room)
	if res.Error != nil {
		cr.log.Error("failed to get chat room by ID", "roomID", roomID, "error", res.Error)
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &room, nil
}

// GetInRange lists rooms created in [from, to), oldest first.
func (cr *chatRoomRepo) GetInRange(ctx context.Context, tx *gorm.DB, userID uuid.UUID, from, to time.Time) ([]types.ChatRoom, error) {
	if tx == nil {
		tx = cr.db
	}
	var rooms []types.ChatRoom
	if err := tx.WithContext(ctx).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Order("created_at ASC").
		Find(&rooms).Error; err != nil {
		cr.log.Error("failed to get chat rooms in range", "userID", userID, "error", err)
		return nil, err
	}
	return rooms, nil
}

// SetConversationID stores the upstream conversation id unless the room already
// has one. It reports whether the row was updated.
func (cr *chatRoomRepo) SetConversationID(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, conversationID string) (bool, error) {
	if tx == nil {
		tx = cr.db
	}
	res := tx.WithContext(ctx).
		Model(&types.ChatRoom{}).
		Where("id = ? AND (conversation_id IS NULL OR conversation_id = '')", roomID).
		Update("conversation_id", conversationID)
	if res.Error != nil {
		cr.log.Error("failed to set conversation ID", "roomID", roomID, "error", res.Error)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
