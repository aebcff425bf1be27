package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/recurrence"
	"github.com/nurture-app/nurture-backend/internal/repos"
	"github.com/nurture-app/nurture-backend/internal/templates"
	"github.com/nurture-app/nurture-backend/internal/types"
)

const DefaultReminderCron = "0 7 * * *"

type ReminderConfig struct {
	// Schedule is a five-field cron spec evaluated in the calendar location.
	Schedule    string
	Concurrency int
	// SendsPerSecond throttles provider calls across all users.
	SendsPerSecond float64
}

type ReminderStats struct {
	Profiles int
	Emails   int
	Texts    int
	Skipped  int
	Failed   int
}

type ReminderService interface {
	Start() error
	// Stop halts the scheduler. The returned context is done once a running
	// job has finished.
	Stop() context.Context
	SendDailyAgendas(ctx context.Context, day time.Time) (ReminderStats, error)
}

type reminderService struct {
	log         *logger.Logger
	profileRepo repos.ProfileRepo
	calendar    CalendarService
	email       EmailService
	text        TextService
	loc         *time.Location
	schedule    string
	concurrency int
	limiter     *rate.Limiter
	cron        *cron.Cron
	now         func() time.Time
}

// NewReminderService wires the agenda job. email and text may be nil, which
// disables that channel.
func NewReminderService(log *logger.Logger, profileRepo repos.ProfileRepo, calendar CalendarService, email EmailService, text TextService, cfg ReminderConfig) ReminderService {
	serviceLog := log.With("service", "ReminderService")
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultReminderCron
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.SendsPerSecond <= 0 {
		cfg.SendsPerSecond = 5
	}
	if email == nil {
		serviceLog.Warn("Email channel disabled for reminders")
	}
	if text == nil {
		serviceLog.Warn("SMS channel disabled for reminders")
	}
	loc := calendar.Location()
	return &reminderService{
		log:         serviceLog,
		profileRepo: profileRepo,
		calendar:    calendar,
		email:       email,
		text:        text,
		loc:         loc,
		schedule:    cfg.Schedule,
		concurrency: cfg.Concurrency,
		limiter:     rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), 1),
		cron:        cron.New(cron.WithLocation(loc)),
		now:         time.Now,
	}
}

func (rs *reminderService) Start() error {
	_, err := rs.cron.AddFunc(rs.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		stats, err := rs.SendDailyAgendas(ctx, rs.now())
		if err != nil {
			rs.log.Error("Daily agenda run failed", "error", err)
			return
		}
		rs.log.Info("Daily agenda run finished",
			"profiles", stats.Profiles, "emails", stats.Emails, "texts", stats.Texts,
			"skipped", stats.Skipped, "failed", stats.Failed)
	})
	if err != nil {
		return fmt.Errorf("invalid REMINDER_CRON %q: %w", rs.schedule, err)
	}
	rs.cron.Start()
	rs.log.Info("Reminder scheduler started", "schedule", rs.schedule, "location", rs.loc.String())
	return nil
}

func (rs *reminderService) Stop() context.Context {
	return rs.cron.Stop()
}

// SendDailyAgendas sends every opted-in user the occurrences on day. A failure
// for one user is counted and logged without stopping the others.
func (rs *reminderService) SendDailyAgendas(ctx context.Context, day time.Time) (ReminderStats, error) {
	profiles, err := rs.profileRepo.GetRemindersEnabled(ctx, nil)
	if err != nil {
		return ReminderStats{}, fmt.Errorf("failed to load reminder profiles: %w", err)
	}

	var emails, texts, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rs.concurrency)
	for _, p := range profiles {
		p := p
		g.Go(func() error {
			e, t, err := rs.sendAgenda(gctx, p, day)
			switch {
			case err != nil:
				rs.log.Warn("Failed to send agenda", "userID", p.UserID, "error", err)
				failed.Add(1)
			case e+t == 0:
				skipped.Add(1)
			}
			emails.Add(int64(e))
			texts.Add(int64(t))
			return nil
		})
	}
	_ = g.Wait()

	return ReminderStats{
		Profiles: len(profiles),
		Emails:   int(emails.Load()),
		Texts:    int(texts.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
	}, ctx.Err()
}

func (rs *reminderService) sendAgenda(ctx context.Context, p types.PregnancyProfile, day time.Time) (emails, texts int, err error) {
	w := recurrence.DayWindow(day, rs.loc)
	occurrences, err := rs.calendar.ListOccurrencesInWindow(ctx, p.UserID, w)
	if err != nil {
		return 0, 0, err
	}
	if len(occurrences) == 0 {
		return 0, 0, nil
	}
	data := rs.agendaData(p, w, occurrences)
	plain := templates.RenderAgendaText(data)

	if rs.email != nil && p.NotifyEmail != nil {
		html, err := templates.RenderAgendaHTML(data)
		if err != nil {
			return emails, texts, fmt.Errorf("failed to render agenda: %w", err)
		}
		if err := rs.limiter.Wait(ctx); err != nil {
			return emails, texts, err
		}
		if err := rs.email.SendEmail(ctx, *p.NotifyEmail, "Today: "+data.Date, plain, html); err != nil {
			return emails, texts, err
		}
		emails++
	}
	if rs.text != nil && p.NotifyPhone != nil {
		if err := rs.limiter.Wait(ctx); err != nil {
			return emails, texts, err
		}
		if err := rs.text.SendText(ctx, *p.NotifyPhone, plain); err != nil {
			return emails, texts, err
		}
		texts++
	}
	return emails, texts, nil
}

func (rs *reminderService) agendaData(p types.PregnancyProfile, w recurrence.Window, occurrences []types.Occurrence) templates.AgendaEmailData {
	week := p.CurrentWeek
	if week == 0 && p.DueDate != nil {
		week = WeekFromDueDate(*p.DueDate, w.Start, rs.loc)
	}
	data := templates.AgendaEmailData{
		Nickname: p.Nickname,
		Date:     w.Start.Format("Monday, January 2"),
		Week:     week,
	}
	for _, occ := range occurrences {
		label := occ.StartTime.In(rs.loc).Format("15:04")
		if occ.AllDay || occ.StartTime.Before(w.Start) {
			label = "All day"
		}
		color := "gray"
		if occ.Color != nil && *occ.Color != "" {
			color = *occ.Color
		}
		data.Items = append(data.Items, templates.AgendaItem{Time: label, Title: occ.Title, Color: color})
	}
	return data
}
