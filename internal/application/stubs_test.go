package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/scoring"
)

var testNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func sequenceIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type syncEventRepoStub struct {
	mu        sync.Mutex
	events    map[string]SyncEvent
	createErr error
	updateErr error
	listErr   error
	updates   int
}

func newSyncEventRepoStub(events ...SyncEvent) *syncEventRepoStub {
	repo := &syncEventRepoStub{events: make(map[string]SyncEvent)}
	for _, event := range events {
		repo.events[event.ID] = event
	}
	return repo
}

func (r *syncEventRepoStub) CreateSyncEvent(ctx context.Context, event SyncEvent) (SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return SyncEvent{}, r.createErr
	}
	r.events[event.ID] = event
	return event, nil
}

func (r *syncEventRepoStub) GetSyncEvent(ctx context.Context, userID, id string) (SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok || event.UserID != userID {
		return SyncEvent{}, persistence.ErrNotFound
	}
	return event, nil
}

func (r *syncEventRepoStub) UpdateSyncEvent(ctx context.Context, event SyncEvent, expected SyncStatus) (SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return SyncEvent{}, err
	}
	if r.updateErr != nil {
		return SyncEvent{}, r.updateErr
	}
	current, ok := r.events[event.ID]
	if !ok || current.Status != expected {
		return SyncEvent{}, persistence.ErrNotFound
	}
	r.updates++
	r.events[event.ID] = event
	return event, nil
}

func (r *syncEventRepoStub) ListSyncEvents(ctx context.Context, userID string, status SyncStatus) ([]SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []SyncEvent
	for _, event := range r.events {
		if event.UserID != userID {
			continue
		}
		if status != "" && event.Status != status {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (r *syncEventRepoStub) CountSyncEvents(ctx context.Context, userID string) (map[SyncStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[SyncStatus]int)
	for _, event := range r.events {
		if event.UserID == userID {
			counts[event.Status]++
		}
	}
	return counts, nil
}

func (r *syncEventRepoStub) DeleteSyncEvent(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok || event.UserID != userID {
		return persistence.ErrNotFound
	}
	delete(r.events, id)
	return nil
}

func (r *syncEventRepoStub) get(id string) SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id]
}

func (r *syncEventRepoStub) all() []SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SyncEvent, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event)
	}
	return out
}

// providerStub answers free/busy and create calls from queued responses.
// When a queue is exhausted the last entry repeats.
type providerStub struct {
	mu          sync.Mutex
	freeBusy    []freeBusyReply
	create      []createReply
	freeCalls   int
	createCalls int
	tokens      []string
	created     []calendar.NewEvent
	busyFor     func(start, end time.Time) []calendar.Interval
	onCreate    func(ctx context.Context) (calendar.CreatedEvent, error)
}

type freeBusyReply struct {
	busy []calendar.Interval
	err  error
}

type createReply struct {
	event calendar.CreatedEvent
	err   error
}

func (p *providerStub) FreeBusy(ctx context.Context, cred calendar.Credential, timeMin, timeMax time.Time, calendarIDs []string) (calendar.FreeBusyResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeCalls++
	p.tokens = append(p.tokens, cred.AccessToken)
	if p.busyFor != nil {
		return calendar.FreeBusyResponse{Calendars: map[string][]calendar.Interval{"primary": p.busyFor(timeMin, timeMax)}}, nil
	}
	if len(p.freeBusy) == 0 {
		return calendar.FreeBusyResponse{}, nil
	}
	reply := p.freeBusy[0]
	if len(p.freeBusy) > 1 {
		p.freeBusy = p.freeBusy[1:]
	}
	if reply.err != nil {
		return calendar.FreeBusyResponse{}, reply.err
	}
	return calendar.FreeBusyResponse{Calendars: map[string][]calendar.Interval{"primary": reply.busy}}, nil
}

func (p *providerStub) CreateEvent(ctx context.Context, cred calendar.Credential, event calendar.NewEvent) (calendar.CreatedEvent, error) {
	p.mu.Lock()
	p.createCalls++
	p.tokens = append(p.tokens, cred.AccessToken)
	p.created = append(p.created, event)
	onCreate := p.onCreate
	if onCreate != nil {
		p.mu.Unlock()
		return onCreate(ctx)
	}
	defer p.mu.Unlock()
	if len(p.create) == 0 {
		return calendar.CreatedEvent{ID: fmt.Sprintf("evt-%d", p.createCalls), HTMLLink: "https://calendar.example/evt"}, nil
	}
	reply := p.create[0]
	if len(p.create) > 1 {
		p.create = p.create[1:]
	}
	return reply.event, reply.err
}

func (p *providerStub) calls() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeCalls, p.createCalls
}

type refresherStub struct {
	mu    sync.Mutex
	cred  calendar.Credential
	err   error
	calls int
}

func (r *refresherStub) Refresh(ctx context.Context, cred calendar.Credential) (calendar.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return calendar.Credential{}, r.err
	}
	return r.cred, nil
}

type outcomeRecorderStub struct {
	mu       sync.Mutex
	recorded []Outcome
	err      error
}

func (o *outcomeRecorderStub) RecordOutcome(ctx context.Context, userID string, start time.Time, outcome Outcome) (SlotStat, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return SlotStat{}, o.err
	}
	o.recorded = append(o.recorded, outcome)
	return SlotStat{UserID: userID}, nil
}

type statsStoreStub struct {
	mu        sync.Mutex
	stats     map[string]SlotStat
	learning  map[string]bool
	listErr   error
	incrementErr error
	listCalls int
}

func newStatsStoreStub() *statsStoreStub {
	return &statsStoreStub{stats: make(map[string]SlotStat), learning: make(map[string]bool)}
}

func statKey(userID string, bucket scoring.BucketID) string {
	return userID + "/" + bucket.String()
}

func (s *statsStoreStub) GetSlotStat(ctx context.Context, userID string, bucket scoring.BucketID) (SlotStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stat, ok := s.stats[statKey(userID, bucket)]
	if !ok {
		return SlotStat{}, persistence.ErrNotFound
	}
	return stat, nil
}

func (s *statsStoreStub) IncrementSlotStat(ctx context.Context, userID string, bucket scoring.BucketID, outcome Outcome, at time.Time) (SlotStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incrementErr != nil {
		return SlotStat{}, s.incrementErr
	}
	key := statKey(userID, bucket)
	stat, ok := s.stats[key]
	if !ok {
		stat = SlotStat{UserID: userID, Bucket: bucket}
	}
	switch outcome {
	case OutcomeScheduled:
		stat.TotalScheduled++
	case OutcomeCompleted:
		stat.TotalCompleted++
	case OutcomeCancelled:
		stat.TotalCancelled++
	}
	stat.SuccessRate = scoring.SuccessRate(stat.TotalCompleted, stat.TotalScheduled)
	stat.LastUsed = &at
	stat.UpdatedAt = at
	s.stats[key] = stat
	return stat, nil
}

func (s *statsStoreStub) ListSlotStats(ctx context.Context, userID string) ([]SlotStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []SlotStat
	for _, stat := range s.stats {
		if stat.UserID == userID {
			out = append(out, stat)
		}
	}
	return out, nil
}

func (s *statsStoreStub) DeleteSlotStats(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, stat := range s.stats {
		if stat.UserID == userID {
			delete(s.stats, key)
		}
	}
	return nil
}

func (s *statsStoreStub) GetLearningEnabled(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled, ok := s.learning[userID]
	if !ok {
		return false, persistence.ErrNotFound
	}
	return enabled, nil
}

func (s *statsStoreStub) SetLearningEnabled(ctx context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learning[userID] = enabled
	return nil
}

type slotFinderStub struct {
	slots []availability.TimeSlot
	err   error
	query availability.Query
	calls int
}

func (f *slotFinderStub) Find(ctx context.Context, cred calendar.Credential, q availability.Query) ([]availability.TimeSlot, error) {
	f.calls++
	f.query = q
	return f.slots, f.err
}
