package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/recurrence"
)

var testNow = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// asUser stands in for RequireJWT.
func asUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

type finderStub struct {
	gotUserID   string
	gotCred     calendar.Credential
	gotDate     time.Time
	gotDuration int
	gotHorizon  int
	slots       []availability.TimeSlot
	err         error
}

func (f *finderStub) FindAvailableSlots(ctx context.Context, userID string, cred calendar.Credential, date time.Time, durationMinutes, horizonDays int) ([]availability.TimeSlot, error) {
	f.gotUserID = userID
	f.gotCred = cred
	f.gotDate = date
	f.gotDuration = durationMinutes
	f.gotHorizon = horizonDays
	return f.slots, f.err
}

type rankerStub struct {
	enabled     bool
	gotEnabled  bool
	gotAdjacent []string
	called      bool
}

func (r *rankerStub) RankSlots(ctx context.Context, userID string, slots []availability.TimeSlot, learningEnabled bool, adjacentBucketIDs []string) ([]availability.TimeSlot, error) {
	r.called = true
	r.gotEnabled = learningEnabled
	r.gotAdjacent = adjacentBucketIDs
	ranked := make([]availability.TimeSlot, len(slots))
	for i, slot := range slots {
		slot.Score = 90 - i
		slot.IsRecommended = i == 0
		ranked[i] = slot
	}
	return ranked, nil
}

func (r *rankerStub) LearningEnabled(ctx context.Context, userID string) (bool, error) {
	return r.enabled, nil
}

type bookingStub struct {
	gotReq       application.BookingRequest
	gotRule      recurrence.Rule
	gotCred      calendar.Credential
	result       application.BookingResult
	recurring    application.RecurringBookingResult
	err          error
	recurringErr error
}

func (b *bookingStub) BookSlot(ctx context.Context, userID string, cred calendar.Credential, req application.BookingRequest) (application.BookingResult, error) {
	b.gotReq = req
	b.gotCred = cred
	return b.result, b.err
}

func (b *bookingStub) BookRecurring(ctx context.Context, userID string, cred calendar.Credential, req application.BookingRequest, rule recurrence.Rule) (application.RecurringBookingResult, error) {
	b.gotReq = req
	b.gotRule = rule
	b.gotCred = cred
	return b.recurring, b.recurringErr
}

type ledgerStub struct {
	gotStatus  application.SyncStatus
	gotDelete  string
	events     []application.SyncEvent
	counts     application.StatusCounts
	deleteErr  error
	gotRetryID string
	retry      application.BookingResult
	retryErr   error
	retried    []application.SyncEvent
}

func (l *ledgerStub) ListByStatus(ctx context.Context, userID string, status application.SyncStatus) ([]application.SyncEvent, error) {
	l.gotStatus = status
	return l.events, nil
}

func (l *ledgerStub) Counts(ctx context.Context, userID string) (application.StatusCounts, error) {
	return l.counts, nil
}

func (l *ledgerStub) Delete(ctx context.Context, userID, id string) error {
	l.gotDelete = id
	return l.deleteErr
}

func (l *ledgerStub) Retry(ctx context.Context, userID string, cred calendar.Credential, id string) (application.BookingResult, error) {
	l.gotRetryID = id
	return l.retry, l.retryErr
}

func (l *ledgerStub) RetryFailed(ctx context.Context, userID string, cred calendar.Credential) ([]application.SyncEvent, error) {
	return l.retried, nil
}

type learningStub struct {
	enabled    bool
	setEnabled *bool
	reset      bool
	gotStart   time.Time
	gotOutcome application.Outcome
	stat       application.SlotStat
	stats      []application.SlotStat
	err        error
}

func (l *learningStub) RecordOutcome(ctx context.Context, userID string, start time.Time, outcome application.Outcome) (application.SlotStat, error) {
	l.gotStart = start
	l.gotOutcome = outcome
	return l.stat, l.err
}

func (l *learningStub) ListStats(ctx context.Context, userID string) ([]application.SlotStat, error) {
	return l.stats, nil
}

func (l *learningStub) ResetStats(ctx context.Context, userID string) error {
	l.reset = true
	return nil
}

func (l *learningStub) LearningEnabled(ctx context.Context, userID string) (bool, error) {
	return l.enabled, nil
}

func (l *learningStub) SetLearningEnabled(ctx context.Context, userID string, enabled bool) error {
	l.setEnabled = &enabled
	return nil
}

type pingStub struct {
	err error
}

func (p pingStub) Ping(context.Context) error { return p.err }

func serve(t *testing.T, handler http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}
