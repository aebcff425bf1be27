package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/types"
)

// ConversationRepo is insert-only; turns are never updated or deleted by the app.
type ConversationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, turn *types.ConversationTurn) (*types.ConversationTurn, error)
	GetByChatRoomID(ctx context.Context, tx *gorm.DB, roomID uuid.UUID) ([]types.ConversationTurn, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{
		db:  db,
		log: baseLog.With("repo", "ConversationRepo"),
	}
}

func (cvr *conversationRepo) Create(ctx context.Context, tx *gorm.DB, turn *types.ConversationTurn) (*types.ConversationTurn, error) {
	if tx == nil {
		tx = cvr.db
	}
	if err := tx.WithContext(ctx).Create(turn).Error; err != nil {
		cvr.log.Error("failed to create conversation turn", "chatRoomID", turn.ChatRoomID, "error", err)
		return nil, err
	}
	return turn, nil
}

func (cvr *conversationRepo) GetByChatRoomID(ctx context.Context, tx *gorm.DB, roomID uuid.UUID) ([]types.ConversationTurn, error) {
	if tx == nil {
		tx = cvr.db
	}
	var turns []types.ConversationTurn
	if err := tx.WithContext(ctx).
		Where("chat_room_id = ?", roomID).
		Order("created_at ASC").
		Find(&turns).Error; err != nil {
		cvr.log.Error("failed to get conversation turns by chatRoomID", "chatRoomID", roomID, "error", err)
		return nil, err
	}
	return turns, nil
}
