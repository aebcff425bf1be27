package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/types"
)

type ProfileRepo interface {
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.PregnancyProfile, error)
	GetRemindersEnabled(ctx context.Context, tx *gorm.DB) ([]types.PregnancyProfile, error)
	Upsert(ctx context.Context, tx *gorm.DB, profile *types.PregnancyProfile) (*types.PregnancyProfile, error)
}

type profileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	return &profileRepo{
		db:  db,
		log: baseLog.With("repo", "ProfileRepo"),
	}
}

func (pr *profileRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.PregnancyProfile, error) {
	if tx == nil {
		tx = pr.db
	}
	var p types.PregnancyProfile
	res := tx.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&p)
	if res.Error != nil {
		pr.log.Error("failed to get profile by userID", "userID", userID, "error", res.Error)
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &p, nil
}

func (pr *profileRepo) GetRemindersEnabled(ctx context.Context, tx *gorm.DB) ([]types.PregnancyProfile, error) {
	if tx == nil {
		tx = pr.db
	}
	var profiles []types.PregnancyProfile
	if err := tx.WithContext(ctx).
		Where("reminders_enabled = ?", true).
		Find(&profiles).Error; err != nil {
		pr.log.Error("failed to get reminder-enabled profiles", "error", err)
		return nil, err
	}
	return profiles, nil
}

// Upsert inserts the profile or overwrites the user's existing row. Last write wins.
func (pr *profileRepo) Upsert(ctx context.Context, tx *gorm.DB, profile *types.PregnancyProfile) (*types.PregnancyProfile, error) {
	if tx == nil {
		tx = pr.db
	}
	profile.UpdatedAt = time.Now()
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"nickname", "due_date", "current_week", "is_high_risk", "gender",
				"notify_email", "notify_phone", "reminders_enabled", "updated_at",
			}),
		}).
		Create(profile).Error; err != nil {
		pr.log.Error("failed to upsert profile", "userID", profile.UserID, "error", err)
		return nil, err
	}
	return profile, nil
}
