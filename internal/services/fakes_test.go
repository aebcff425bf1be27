package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/nurture-app/nurture-backend/internal/types"
)

// fakeTx runs fn without a real transaction; repos below ignore the handle.
type fakeTx struct {
	calls int
}

func (f *fakeTx) Transaction(_ context.Context, fn func(tx *gorm.DB) error) error {
	f.calls++
	return fn(nil)
}

func cloneEvent(ev *types.Event) *types.Event {
	cp := *ev
	if ev.ExceptionDates != nil {
		cp.ExceptionDates = append(pq.StringArray(nil), ev.ExceptionDates...)
	}
	return &cp
}

// memEventRepo keeps events in memory.
type memEventRepo struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*types.Event
	// saveErr, when set, is returned by Save.
	saveErr error
}

func newMemEventRepo(seed ...types.Event) *memEventRepo {
	r := &memEventRepo{events: make(map[uuid.UUID]*types.Event)}
	for i := range seed {
		r.events[seed[i].ID] = cloneEvent(&seed[i])
	}
	return r
}

func (r *memEventRepo) all() []types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Event, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, *cloneEvent(ev))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (r *memEventRepo) get(id uuid.UUID) *types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ev, ok := r.events[id]; ok {
		return cloneEvent(ev)
	}
	return nil
}

func (r *memEventRepo) overridesOf(headID uuid.UUID) []types.Event {
	var out []types.Event
	for _, ev := range r.all() {
		if ev.RecurringEventID != nil && *ev.RecurringEventID == headID {
			out = append(out, ev)
		}
	}
	return out
}

func (r *memEventRepo) Create(_ context.Context, _ *gorm.DB, ev *types.Event) (*types.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	now := time.Now()
	ev.CreatedAt, ev.UpdatedAt = now, now
	r.events[ev.ID] = cloneEvent(ev)
	return ev, nil
}

func (r *memEventRepo) GetByID(_ context.Context, _ *gorm.DB, userID, eventID uuid.UUID) (*types.Event, error) {
	ev := r.get(eventID)
	if ev == nil || ev.UserID != userID {
		return nil, nil
	}
	return ev, nil
}

func (r *memEventRepo) GetByUserID(_ context.Context, _ *gorm.DB, userID uuid.UUID) ([]types.Event, error) {
	var out []types.Event
	for _, ev := range r.all() {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *memEventRepo) GetInWindow(_ context.Context, _ *gorm.DB, userID uuid.UUID, from, to time.Time) ([]types.Event, error) {
	var out []types.Event
	for _, ev := range r.all() {
		if ev.UserID != userID {
			continue
		}
		end := ev.StartTime
		if ev.EndTime != nil {
			end = *ev.EndTime
		}
		if (ev.IsSeriesHead() && !ev.StartTime.After(to)) || (!ev.StartTime.After(to) && !end.Before(from)) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *memEventRepo) GetOverrides(_ context.Context, _ *gorm.DB, headID uuid.UUID) ([]types.Event, error) {
	return r.overridesOf(headID), nil
}

func (r *memEventRepo) GetOverrideInRange(_ context.Context, _ *gorm.DB, headID uuid.UUID, from, to time.Time) (*types.Event, error) {
	for _, ev := range r.overridesOf(headID) {
		if ev.OriginalStartTime != nil && !ev.OriginalStartTime.Before(from) && !ev.OriginalStartTime.After(to) {
			e := ev
			return &e, nil
		}
	}
	return nil, nil
}

func (r *memEventRepo) Save(_ context.Context, _ *gorm.DB, ev *types.Event) (*types.Event, error) {
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.UpdatedAt = time.Now()
	r.events[ev.ID] = cloneEvent(ev)
	return ev, nil
}

func (r *memEventRepo) ReassignOverrides(_ context.Context, _ *gorm.DB, fromHeadID, toHeadID uuid.UUID, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, ev := range r.events {
		if ev.RecurringEventID != nil && *ev.RecurringEventID == fromHeadID &&
			ev.OriginalStartTime != nil && !ev.OriginalStartTime.Before(since) {
			id := toHeadID
			ev.RecurringEventID = &id
			n++
		}
	}
	return n, nil
}

func (r *memEventRepo) DeleteByID(_ context.Context, _ *gorm.DB, eventID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, eventID)
	return nil
}

func (r *memEventRepo) DeleteOverrides(_ context.Context, _ *gorm.DB, headID uuid.UUID) (int64, error) {
	return r.deleteWhere(func(ev *types.Event) bool {
		return ev.RecurringEventID != nil && *ev.RecurringEventID == headID
	}), nil
}

func (r *memEventRepo) DeleteOverridesSince(_ context.Context, _ *gorm.DB, headID uuid.UUID, since time.Time) (int64, error) {
	return r.deleteWhere(func(ev *types.Event) bool {
		return ev.RecurringEventID != nil && *ev.RecurringEventID == headID &&
			ev.OriginalStartTime != nil && !ev.OriginalStartTime.Before(since)
	}), nil
}

func (r *memEventRepo) deleteWhere(match func(*types.Event) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, ev := range r.events {
		if match(ev) {
			delete(r.events, id)
			n++
		}
	}
	return n
}

// memChatRoomRepo keeps rooms in memory.
type memChatRoomRepo struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*types.ChatRoom
}

func newMemChatRoomRepo() *memChatRoomRepo {
	return &memChatRoomRepo{rooms: make(map[uuid.UUID]*types.ChatRoom)}
}

func (r *memChatRoomRepo) Create(_ context.Context, _ *gorm.DB, room *types.ChatRoom) (*types.ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	cp := *room
	r.rooms[room.ID] = &cp
	return room, nil
}

func (r *memChatRoomRepo) GetByID(_ context.Context, _ *gorm.DB, userID, roomID uuid.UUID) (*types.ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok || room.UserID != userID {
		return nil, nil
	}
	cp := *room
	return &cp, nil
}

func (r *memChatRoomRepo) GetInRange(_ context.Context, _ *gorm.DB, userID uuid.UUID, from, to time.Time) ([]types.ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ChatRoom
	for _, room := range r.rooms {
		if room.UserID == userID && !room.CreatedAt.Before(from) && room.CreatedAt.Before(to) {
			out = append(out, *room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memChatRoomRepo) SetConversationID(_ context.Context, _ *gorm.DB, roomID uuid.UUID, conversationID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok || room.HasConversation() {
		return false, nil
	}
	id := conversationID
	room.ConversationID = &id
	return true, nil
}

// memConversationRepo keeps turns in memory.
type memConversationRepo struct {
	mu        sync.Mutex
	turns     []types.ConversationTurn
	createErr error
}

func (r *memConversationRepo) Create(_ context.Context, _ *gorm.DB, turn *types.ConversationTurn) (*types.ConversationTurn, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	turn.CreatedAt = time.Now()
	r.turns = append(r.turns, *turn)
	return turn, nil
}

func (r *memConversationRepo) GetByChatRoomID(_ context.Context, _ *gorm.DB, roomID uuid.UUID) ([]types.ConversationTurn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ConversationTurn
	for _, t := range r.turns {
		if t.ChatRoomID == roomID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memConversationRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

// memProfileRepo keeps profiles in memory, keyed by user.
type memProfileRepo struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*types.PregnancyProfile
}

func newMemProfileRepo(seed ...types.PregnancyProfile) *memProfileRepo {
	r := &memProfileRepo{profiles: make(map[uuid.UUID]*types.PregnancyProfile)}
	for i := range seed {
		p := seed[i]
		r.profiles[p.UserID] = &p
	}
	return r
}

func (r *memProfileRepo) GetByUserID(_ context.Context, _ *gorm.DB, userID uuid.UUID) (*types.PregnancyProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *memProfileRepo) GetRemindersEnabled(_ context.Context, _ *gorm.DB) ([]types.PregnancyProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.PregnancyProfile
	for _, p := range r.profiles {
		if p.RemindersEnabled {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

func (r *memProfileRepo) Upsert(_ context.Context, _ *gorm.DB, profile *types.PregnancyProfile) (*types.PregnancyProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.profiles[profile.UserID]; ok {
		profile.ID = existing.ID
	} else if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	cp := *profile
	r.profiles[profile.UserID] = &cp
	return profile, nil
}
