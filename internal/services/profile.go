package services

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"github.com/nurture-app/nurture-backend/internal/errordata"
	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/repos"
	"github.com/nurture-app/nurture-backend/internal/types"
)

const (
	fullTermWeeks = 40
	maxWeek       = 42
)

// E.164, the format Twilio expects.
var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

type ProfileInput struct {
	Nickname         string  `json:"nickname"`
	DueDate          *string `json:"due_date,omitempty"`
	CurrentWeek      *int    `json:"current_week,omitempty"`
	IsHighRisk       bool    `json:"is_high_risk"`
	Gender           string  `json:"gender"`
	NotifyEmail      *string `json:"notify_email,omitempty"`
	NotifyPhone      *string `json:"notify_phone,omitempty"`
	RemindersEnabled bool    `json:"reminders_enabled"`
}

type ProfileService interface {
	Get(ctx context.Context, userID uuid.UUID) (*types.PregnancyProfile, error)
	Upsert(ctx context.Context, userID uuid.UUID, in ProfileInput) (*types.PregnancyProfile, error)
}

type profileService struct {
	log         *logger.Logger
	profileRepo repos.ProfileRepo
	loc         *time.Location
	now         func() time.Time
}

func NewProfileService(log *logger.Logger, profileRepo repos.ProfileRepo, loc *time.Location) ProfileService {
	if loc == nil {
		loc = time.UTC
	}
	return &profileService{
		log:         log.With("service", "ProfileService"),
		profileRepo: profileRepo,
		loc:         loc,
		now:         time.Now,
	}
}

func (ps *profileService) Get(ctx context.Context, userID uuid.UUID) (*types.PregnancyProfile, error) {
	p, err := ps.profileRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to load profile")
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if p == nil {
		errordata.SetMessage(ctx, "Profile not found")
		return nil, ErrNotFound
	}
	return p, nil
}

func (ps *profileService) Upsert(ctx context.Context, userID uuid.UUID, in ProfileInput) (*types.PregnancyProfile, error) {
	if err := validateProfileInput(&in); err != nil {
		errordata.SetMessage(ctx, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	p := &types.PregnancyProfile{
		UserID:           userID,
		Nickname:         strings.TrimSpace(in.Nickname),
		IsHighRisk:       in.IsHighRisk,
		Gender:           in.Gender,
		NotifyEmail:      blankToNil(in.NotifyEmail),
		NotifyPhone:      blankToNil(in.NotifyPhone),
		RemindersEnabled: in.RemindersEnabled,
	}
	if p.Gender == "" {
		p.Gender = "unknown"
	}
	if in.DueDate != nil && *in.DueDate != "" {
		due, _ := time.ParseInLocation("2006-01-02", *in.DueDate, ps.loc)
		p.DueDate = &due
	}
	switch {
	case in.CurrentWeek != nil:
		p.CurrentWeek = *in.CurrentWeek
	case p.DueDate != nil:
		p.CurrentWeek = WeekFromDueDate(*p.DueDate, ps.now(), ps.loc)
	}

	saved, err := ps.profileRepo.Upsert(ctx, nil, p)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to save profile")
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	ps.log.Info("Profile saved", "userID", userID, "week", saved.CurrentWeek)
	return saved, nil
}

// WeekFromDueDate derives the pregnancy week from a due date, clamped to
// [0, 42]. Days are counted between local calendar dates.
func WeekFromDueDate(due, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	d := due.In(loc)
	n := now.In(loc)
	dueDay := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	days := dueDay.Sub(today).Hours() / 24

	week := fullTermWeeks - int(math.Ceil(days/7))
	if week < 0 {
		return 0
	}
	if week > maxWeek {
		return maxWeek
	}
	return week
}

func validateProfileInput(in *ProfileInput) error {
	genders := make([]interface{}, len(types.Genders))
	for i, g := range types.Genders {
		genders[i] = g
	}
	return validation.ValidateStruct(in,
		validation.Field(&in.Nickname, validation.Length(0, 30)),
		validation.Field(&in.DueDate, validation.Date("2006-01-02")),
		validation.Field(&in.CurrentWeek, validation.Min(0), validation.Max(maxWeek)),
		validation.Field(&in.Gender, validation.In(genders...)),
		validation.Field(&in.NotifyEmail, is.EmailFormat),
		validation.Field(&in.NotifyPhone, validation.Match(phonePattern)),
	)
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
