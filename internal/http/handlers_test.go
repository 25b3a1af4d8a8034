package http

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/recurrence"
)

func credentialHeaders() map[string]string {
	return map[string]string{HeaderAccessToken: "access", HeaderRefreshToken: "refresh"}
}

func TestSlotHandlers(t *testing.T) {
	t.Parallel()

	slots := []availability.TimeSlot{
		{Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour), DurationMinutes: 60, Label: "Morning"},
		{Start: testNow.Add(4 * time.Hour), End: testNow.Add(5 * time.Hour), DurationMinutes: 60, Label: "Lunch"},
	}

	newRouter := func(finder *finderStub, ranker *rankerStub) http.Handler {
		var r slotRanker
		if ranker != nil {
			r = ranker
		}
		return NewRouter(RouterConfig{
			Slots: NewSlotHandler(finder, r, time.UTC, func() time.Time { return testNow }, discardLogger()),
			Auth:  asUser("user-1"),
		})
	}

	t.Run("passes the query and credentials to the finder", func(t *testing.T) {
		t.Parallel()

		finder := &finderStub{slots: slots}
		ranker := &rankerStub{enabled: true}
		rec := serve(t, newRouter(finder, ranker), http.MethodGet, "/v1/slots?date=2025-03-11&duration=60&horizon=3&adjacent=tue-09,%20wed-10", "", credentialHeaders())
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		if finder.gotUserID != "user-1" || finder.gotCred.AccessToken != "access" || finder.gotCred.RefreshToken != "refresh" {
			t.Fatalf("unexpected caller %q %+v", finder.gotUserID, finder.gotCred)
		}
		if want := time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC); !finder.gotDate.Equal(want) {
			t.Fatalf("expected date %v, got %v", want, finder.gotDate)
		}
		if finder.gotDuration != 60 || finder.gotHorizon != 3 {
			t.Fatalf("expected duration 60 and horizon 3, got %d and %d", finder.gotDuration, finder.gotHorizon)
		}
		if !ranker.called || !ranker.gotEnabled {
			t.Fatalf("expected ranking with learning enabled, got called=%v enabled=%v", ranker.called, ranker.gotEnabled)
		}
		if len(ranker.gotAdjacent) != 2 || ranker.gotAdjacent[1] != "wed-10" {
			t.Fatalf("unexpected adjacent buckets %v", ranker.gotAdjacent)
		}

		body := decode[slotsResponse](t, rec)
		if !body.FetchedAt.Equal(testNow) {
			t.Fatalf("expected fetched_at %v, got %v", testNow, body.FetchedAt)
		}
		if !body.Ranked || body.LearningEnabled == nil || !*body.LearningEnabled {
			t.Fatalf("expected ranked response with learning enabled, got %+v", body)
		}
		if len(body.Slots) != 2 || body.Slots[0].Score != 90 || !body.Slots[0].IsRecommended {
			t.Fatalf("unexpected slots %+v", body.Slots)
		}
	})

	t.Run("defaults the duration and skips ranking on request", func(t *testing.T) {
		t.Parallel()

		finder := &finderStub{slots: slots}
		ranker := &rankerStub{}
		rec := serve(t, newRouter(finder, ranker), http.MethodGet, "/v1/slots?rank=false", "", credentialHeaders())
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if finder.gotDuration != defaultDurationMinutes || !finder.gotDate.IsZero() {
			t.Fatalf("expected default duration and zero date, got %d %v", finder.gotDuration, finder.gotDate)
		}
		if ranker.called {
			t.Fatal("expected ranking to be skipped")
		}
		if body := decode[slotsResponse](t, rec); body.Ranked || body.LearningEnabled != nil {
			t.Fatalf("expected unranked response, got %+v", body)
		}
	})

	t.Run("rejects malformed query parameters", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newRouter(&finderStub{}, nil), http.MethodGet, "/v1/slots?date=11-03-2025&duration=long&rank=maybe", "", nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		body := decode[errorResponse](t, rec)
		for _, field := range []string{"date", "duration", "rank"} {
			if body.Errors[field] == "" {
				t.Fatalf("expected error for %s, got %v", field, body.Errors)
			}
		}
	})

	t.Run("maps upstream failures", func(t *testing.T) {
		t.Parallel()

		finder := &finderStub{err: &application.Error{Kind: application.KindTimeout, Message: "slow", Retryable: true, Err: errors.New("raw upstream body")}}
		rec := serve(t, newRouter(finder, nil), http.MethodGet, "/v1/slots", "", credentialHeaders())
		if rec.Code != http.StatusGatewayTimeout {
			t.Fatalf("expected 504, got %d", rec.Code)
		}
		body := decode[errorResponse](t, rec)
		if body.ErrorCode != "TIMEOUT" || !body.Retryable || body.Message != "slow" {
			t.Fatalf("unexpected error body %+v", body)
		}
	})
}

func TestBookingHandlers(t *testing.T) {
	t.Parallel()

	start := testNow.Add(2 * time.Hour)
	body := fmt.Sprintf(`{"slot_start":%q,"slot_end":%q,"title":"Review","fetched_at":%q,"calendar_ids":["work"],"reminder_minutes":[10]}`,
		start.Format(time.RFC3339), start.Add(time.Hour).Format(time.RFC3339), testNow.Format(time.RFC3339))

	newRouter := func(service *bookingStub) http.Handler {
		return NewRouter(RouterConfig{
			Bookings: NewBookingHandler(service, time.UTC, discardLogger()),
			Auth:     asUser("user-1"),
		})
	}

	t.Run("creates a booking", func(t *testing.T) {
		t.Parallel()

		service := &bookingStub{result: application.BookingResult{
			Success:         true,
			Status:          application.SyncStatusSynced,
			SyncEventID:     "sync-1",
			ProviderEventID: "evt-1",
			HTMLLink:        "https://calendar.example/event/evt-1",
		}}
		rec := serve(t, newRouter(service), http.MethodPost, "/v1/bookings", body, credentialHeaders())
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if !service.gotReq.SlotStart.Equal(start) || service.gotReq.Title != "Review" || !service.gotReq.FetchedAt.Equal(testNow) {
			t.Fatalf("unexpected request %+v", service.gotReq)
		}
		if len(service.gotReq.CalendarIDs) != 1 || service.gotReq.ReminderMinutes[0] != 10 {
			t.Fatalf("unexpected calendars or reminders %+v", service.gotReq)
		}
		if rec.Header().Get(HeaderAccessToken) != "" {
			t.Fatal("expected no credential header without a refresh")
		}

		got := decode[bookingResponse](t, rec)
		if !got.Success || got.SyncEventID != "sync-1" || got.ProviderEventID != "evt-1" || got.Status != "synced" {
			t.Fatalf("unexpected response %+v", got)
		}
	})

	t.Run("reports a failed attempt with its sync event", func(t *testing.T) {
		t.Parallel()

		expiry := testNow.Add(time.Hour)
		conflict := &application.Error{Kind: application.KindSlotConflict, Message: "taken"}
		service := &bookingStub{
			result: application.BookingResult{
				Status:      application.SyncStatusConflict,
				SyncEventID: "sync-2",
				Error:       conflict,
				Credential:  &calendar.Credential{AccessToken: "fresh", Expiry: expiry},
			},
			err: conflict,
		}
		rec := serve(t, newRouter(service), http.MethodPost, "/v1/bookings", body, credentialHeaders())
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		if rec.Header().Get(HeaderAccessToken) != "fresh" || rec.Header().Get(HeaderTokenExpiry) != expiry.Format(time.RFC3339) {
			t.Fatalf("expected refreshed credential headers, got %v", rec.Header())
		}

		got := decode[bookingResponse](t, rec)
		if got.Success || got.SyncEventID != "sync-2" || got.Status != "conflict" {
			t.Fatalf("unexpected response %+v", got)
		}
		if got.Error == nil || got.Error.ErrorCode != "SLOT_CONFLICT" || got.Error.Message != "taken" {
			t.Fatalf("unexpected error %+v", got.Error)
		}
	})

	t.Run("maps validation errors", func(t *testing.T) {
		t.Parallel()

		service := &bookingStub{err: &application.ValidationError{FieldErrors: map[string]string{"title": "title is required"}}}
		rec := serve(t, newRouter(service), http.MethodPost, "/v1/bookings", body, credentialHeaders())
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		if got := decode[errorResponse](t, rec); got.Errors["title"] != "title is required" {
			t.Fatalf("unexpected error body %+v", got)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newRouter(&bookingStub{}), http.MethodPost, "/v1/bookings", "{", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if got := decode[errorResponse](t, rec); got.ErrorCode != "BAD_REQUEST" {
			t.Fatalf("unexpected error body %+v", got)
		}
	})

	t.Run("books a recurring pattern", func(t *testing.T) {
		t.Parallel()

		service := &bookingStub{recurring: application.RecurringBookingResult{
			Booked:  []application.BookingResult{{Success: true, SyncEventID: "sync-1", Status: application.SyncStatusSynced}},
			Skipped: []application.SkippedOccurrence{{Start: start.AddDate(0, 0, 7), End: start.AddDate(0, 0, 7).Add(time.Hour), SyncEventID: "sync-2", Reason: application.KindSlotConflict}},
		}}
		recurring := `{"slot_start":"2025-03-10T10:00:00Z","slot_end":"2025-03-10T11:00:00Z","title":"1:1","fetched_at":"2025-03-10T08:00:00Z",` +
			`"recurrence":{"frequency":"weekly","weekdays":["mon","Thursday"],"until":"2025-04-30"}}`
		rec := serve(t, newRouter(service), http.MethodPost, "/v1/bookings/recurring", recurring, credentialHeaders())
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		rule := service.gotRule
		if rule.Frequency != recurrence.FrequencyWeekly || len(rule.Weekdays) != 2 || rule.Weekdays[1] != time.Thursday {
			t.Fatalf("unexpected rule %+v", rule)
		}
		if rule.Until == nil || !rule.Until.Equal(time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected until %v", rule.Until)
		}
		if service.gotReq.Title != "1:1" {
			t.Fatalf("unexpected request %+v", service.gotReq)
		}

		got := decode[recurringBookingResponse](t, rec)
		if len(got.Booked) != 1 || len(got.Skipped) != 1 || got.Skipped[0].Reason != "slot_conflict" || got.Failed == nil {
			t.Fatalf("unexpected response %+v", got)
		}
	})

	t.Run("validates the recurrence before booking", func(t *testing.T) {
		t.Parallel()

		service := &bookingStub{}
		recurring := `{"title":"x","recurrence":{"frequency":"monthly","weekdays":["someday"],"until":"soon","count":-1}}`
		rec := serve(t, newRouter(service), http.MethodPost, "/v1/bookings/recurring", recurring, credentialHeaders())
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		got := decode[errorResponse](t, rec)
		for _, field := range []string{"recurrence.frequency", "recurrence.weekdays", "recurrence.until", "recurrence.count"} {
			if got.Errors[field] == "" {
				t.Fatalf("expected error for %s, got %v", field, got.Errors)
			}
		}
		if service.gotReq.Title != "" {
			t.Fatal("expected the service not to be called")
		}
	})
}

func TestSyncEventHandlers(t *testing.T) {
	t.Parallel()

	newRouter := func(ledger *ledgerStub) http.Handler {
		return NewRouter(RouterConfig{
			SyncEvents: NewSyncEventHandler(ledger, ledger, discardLogger()),
			Auth:       asUser("user-1"),
		})
	}

	t.Run("lists events filtered by status", func(t *testing.T) {
		t.Parallel()

		ledger := &ledgerStub{events: []application.SyncEvent{{ID: "sync-1", Status: application.SyncStatusError, ErrorKind: application.KindTimeout, RetryCount: 2}}}
		rec := serve(t, newRouter(ledger), http.MethodGet, "/v1/sync-events?status=ERROR", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if ledger.gotStatus != application.SyncStatusError {
			t.Fatalf("expected error filter, got %q", ledger.gotStatus)
		}
		got := decode[syncEventsResponse](t, rec)
		if len(got.SyncEvents) != 1 || got.SyncEvents[0].ErrorKind != "timeout" || got.SyncEvents[0].RetryCount != 2 || got.SyncEvents[0].CalendarIDs == nil {
			t.Fatalf("unexpected events %+v", got.SyncEvents)
		}
	})

	t.Run("rejects unknown statuses", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, newRouter(&ledgerStub{}), http.MethodGet, "/v1/sync-events?status=done", "", nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("reports counts", func(t *testing.T) {
		t.Parallel()

		ledger := &ledgerStub{counts: application.StatusCounts{Pending: 1, Synced: 3, Error: 2}}
		rec := serve(t, newRouter(ledger), http.MethodGet, "/v1/sync-events/counts", "", nil)
		got := decode[countsResponse](t, rec)
		if got.Synced != 3 || got.Error != 2 || got.Total != 6 {
			t.Fatalf("unexpected counts %+v", got)
		}
	})

	t.Run("retries one event by id", func(t *testing.T) {
		t.Parallel()

		ledger := &ledgerStub{retry: application.BookingResult{Success: true, SyncEventID: "sync-7", Status: application.SyncStatusSynced}}
		rec := serve(t, newRouter(ledger), http.MethodPost, "/v1/sync-events/retry/sync-7", "", credentialHeaders())
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if ledger.gotRetryID != "sync-7" {
			t.Fatalf("expected sync-7, got %q", ledger.gotRetryID)
		}
	})

	t.Run("reports a failed retry with its sync event", func(t *testing.T) {
		t.Parallel()

		ledger := &ledgerStub{
			retry:    application.BookingResult{SyncEventID: "sync-7", Status: application.SyncStatusError},
			retryErr: &application.Error{Kind: application.KindUpstreamUnavailable, Retryable: true},
		}
		rec := serve(t, newRouter(ledger), http.MethodPost, "/v1/sync-events/retry/sync-7", "", credentialHeaders())
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rec.Code)
		}
		got := decode[bookingResponse](t, rec)
		if got.SyncEventID != "sync-7" || got.Error == nil || got.Error.ErrorCode != "UPSTREAM_UNAVAILABLE" {
			t.Fatalf("unexpected response %+v", got)
		}
	})

	t.Run("retries every failed event", func(t *testing.T) {
		t.Parallel()

		ledger := &ledgerStub{retried: []application.SyncEvent{{ID: "sync-1", Status: application.SyncStatusSynced}}}
		rec := serve(t, newRouter(ledger), http.MethodPost, "/v1/sync-events/retry", "", credentialHeaders())
		got := decode[syncEventsResponse](t, rec)
		if rec.Code != http.StatusOK || len(got.SyncEvents) != 1 || got.SyncEvents[0].Status != "synced" {
			t.Fatalf("unexpected response %d %+v", rec.Code, got)
		}
	})

	t.Run("maps delete errors", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			err  error
			want int
		}{
			{name: "deleted", want: http.StatusNoContent},
			{name: "missing", err: application.ErrNotFound, want: http.StatusNotFound},
			{name: "pending", err: fmt.Errorf("%w: pending", application.ErrInvalidTransition), want: http.StatusConflict},
			{name: "storage", err: errors.New("disk full"), want: http.StatusInternalServerError},
		}
		for _, tc := range tests {
			ledger := &ledgerStub{deleteErr: tc.err}
			rec := serve(t, newRouter(ledger), http.MethodDelete, "/v1/sync-events/sync-9", "", nil)
			if rec.Code != tc.want {
				t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
			}
			if ledger.gotDelete != "sync-9" {
				t.Fatalf("%s: expected sync-9, got %q", tc.name, ledger.gotDelete)
			}
		}
	})
}

func TestStatsHandlers(t *testing.T) {
	t.Parallel()

	newRouter := func(service *learningStub) http.Handler {
		return NewRouter(RouterConfig{
			Stats: NewStatsHandler(service, discardLogger()),
			Auth:  asUser("user-1"),
		})
	}

	t.Run("records an outcome", func(t *testing.T) {
		t.Parallel()

		service := &learningStub{stat: application.SlotStat{TotalScheduled: 2, TotalCompleted: 1, SuccessRate: 50}}
		service.stat.Bucket.Weekday = time.Tuesday
		service.stat.Bucket.Hour = 9
		rec := serve(t, newRouter(service), http.MethodPost, "/v1/stats/outcomes", `{"start":"2025-03-11T09:00:00Z","outcome":"completed"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if service.gotOutcome != application.OutcomeCompleted || service.gotStart.Hour() != 9 {
			t.Fatalf("unexpected outcome call %v %v", service.gotOutcome, service.gotStart)
		}
		if got := decode[slotStatDTO](t, rec); got.BucketID != "tue-09" || got.SuccessRate != 50 {
			t.Fatalf("unexpected stat %+v", got)
		}
	})

	t.Run("lists and resets stats", func(t *testing.T) {
		t.Parallel()

		service := &learningStub{stats: []application.SlotStat{{TotalScheduled: 1}}}
		rec := serve(t, newRouter(service), http.MethodGet, "/v1/stats", "", nil)
		if got := decode[statsResponse](t, rec); len(got.Stats) != 1 {
			t.Fatalf("unexpected stats %+v", got)
		}

		rec = serve(t, newRouter(service), http.MethodDelete, "/v1/stats", "", nil)
		if rec.Code != http.StatusNoContent || !service.reset {
			t.Fatalf("expected reset with 204, got %d reset=%v", rec.Code, service.reset)
		}
	})

	t.Run("reads and stores the learning preference", func(t *testing.T) {
		t.Parallel()

		service := &learningStub{enabled: true}
		rec := serve(t, newRouter(service), http.MethodGet, "/v1/preferences/learning", "", nil)
		if got := decode[learningPreference](t, rec); got.Enabled == nil || !*got.Enabled {
			t.Fatalf("expected enabled preference, got %+v", got)
		}

		rec = serve(t, newRouter(service), http.MethodPut, "/v1/preferences/learning", `{"enabled":false}`, nil)
		if rec.Code != http.StatusOK || service.setEnabled == nil || *service.setEnabled {
			t.Fatalf("expected preference to be disabled, got %d %v", rec.Code, service.setEnabled)
		}

		rec = serve(t, newRouter(service), http.MethodPut, "/v1/preferences/learning", `{}`, nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 without enabled, got %d", rec.Code)
		}
	})
}

func TestRouter(t *testing.T) {
	t.Parallel()

	t.Run("health reflects storage", func(t *testing.T) {
		t.Parallel()

		rec := serve(t, NewRouter(RouterConfig{Health: pingStub{}}), http.MethodGet, "/healthz", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		rec = serve(t, NewRouter(RouterConfig{Health: pingStub{err: errors.New("down")}, Logger: discardLogger()}), http.MethodGet, "/healthz", "", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})

	t.Run("unknown routes and methods answer with JSON", func(t *testing.T) {
		t.Parallel()

		router := NewRouter(RouterConfig{Stats: NewStatsHandler(&learningStub{}, nil), Logger: discardLogger()})
		rec := serve(t, router, http.MethodGet, "/v1/unknown", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		rec = serve(t, router, http.MethodPatch, "/v1/stats", "", nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", rec.Code)
		}
		if got := decode[errorResponse](t, rec); got.ErrorCode != "METHOD_NOT_ALLOWED" {
			t.Fatalf("unexpected body %+v", got)
		}
	})

	t.Run("handlers require a user", func(t *testing.T) {
		t.Parallel()

		router := NewRouter(RouterConfig{Stats: NewStatsHandler(&learningStub{}, discardLogger())})
		rec := serve(t, router, http.MethodGet, "/v1/stats", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("applies middleware outermost first", func(t *testing.T) {
		t.Parallel()

		var order []string
		mark := func(name string) func(http.Handler) http.Handler {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}
		router := NewRouter(RouterConfig{Middleware: []func(http.Handler) http.Handler{mark("first"), nil, mark("second")}})
		serve(t, router, http.MethodGet, "/healthz", "", nil)
		if len(order) != 2 || order[0] != "first" || order[1] != "second" {
			t.Fatalf("unexpected middleware order %v", order)
		}
	})
}
