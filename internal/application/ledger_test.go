package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := [][2]SyncStatus{
		{SyncStatusPending, SyncStatusSynced},
		{SyncStatusPending, SyncStatusError},
		{SyncStatusPending, SyncStatusConflict},
		{SyncStatusError, SyncStatusPending},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	rejected := [][2]SyncStatus{
		{SyncStatusSynced, SyncStatusPending},
		{SyncStatusSynced, SyncStatusError},
		{SyncStatusConflict, SyncStatusPending},
		{SyncStatusError, SyncStatusSynced},
		{SyncStatusPending, SyncStatusPending},
	}
	for _, pair := range rejected {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}
}

func TestLedger_StartRecordsPendingRow(t *testing.T) {
	t.Parallel()

	repo := newSyncEventRepoStub()
	ledger := NewLedger(repo, func() string { return "sync-1" }, fixedClock)

	start := testNow.Add(2 * time.Hour)
	event, err := ledger.Start(context.Background(), "user-1", BookingRequest{
		Title:       "  Weekly sync ",
		SlotStart:   start,
		SlotEnd:     start.Add(time.Hour),
		CalendarIDs: []string{"primary"},
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if event.ID != "sync-1" || event.Status != SyncStatusPending {
		t.Fatalf("expected pending row sync-1, got %+v", event)
	}
	if event.Title != "Weekly sync" {
		t.Fatalf("expected trimmed title, got %q", event.Title)
	}
	if !event.CreatedAt.Equal(testNow) || !event.UpdatedAt.Equal(testNow) {
		t.Fatalf("expected timestamps from clock, got %v / %v", event.CreatedAt, event.UpdatedAt)
	}
	if stored := repo.get("sync-1"); stored.Status != SyncStatusPending {
		t.Fatalf("expected stored pending row, got %+v", stored)
	}
}

func TestLedger_TransitionRejectsInvalidMoves(t *testing.T) {
	t.Parallel()

	synced := SyncEvent{ID: "sync-1", UserID: "user-1", Status: SyncStatusSynced}
	repo := newSyncEventRepoStub(synced)
	ledger := NewLedger(repo, nil, fixedClock)

	_, err := ledger.Transition(context.Background(), synced, SyncStatusPending)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if repo.updates != 0 {
		t.Fatalf("expected no repository update, got %d", repo.updates)
	}
}

func TestLedger_TransitionDetectsConcurrentChange(t *testing.T) {
	t.Parallel()

	stored := SyncEvent{ID: "sync-1", UserID: "user-1", Status: SyncStatusSynced}
	repo := newSyncEventRepoStub(stored)
	ledger := NewLedger(repo, nil, fixedClock)

	stale := stored
	stale.Status = SyncStatusPending
	_, err := ledger.Transition(context.Background(), stale, SyncStatusError)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for concurrent change, got %v", err)
	}
	if got := repo.get("sync-1").Status; got != SyncStatusSynced {
		t.Fatalf("expected stored status to remain synced, got %s", got)
	}
}

func TestLedger_FailRecordsCause(t *testing.T) {
	t.Parallel()

	pending := SyncEvent{ID: "sync-1", UserID: "user-1", Status: SyncStatusPending}
	repo := newSyncEventRepoStub(pending)
	ledger := NewLedger(repo, nil, fixedClock)

	cause := newError(KindUpstreamUnavailable, true, errors.New(strings.Repeat("x", 2000)))
	updated, err := ledger.Fail(context.Background(), pending, SyncStatusError, cause, true)
	if err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	if updated.Status != SyncStatusError || updated.ErrorKind != KindUpstreamUnavailable {
		t.Fatalf("expected error row with kind, got %+v", updated)
	}
	if updated.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", updated.RetryCount)
	}
	if len(updated.ErrorMessage) != maxErrorMessageLength {
		t.Fatalf("expected message truncated to %d, got %d", maxErrorMessageLength, len(updated.ErrorMessage))
	}

	again, err := ledger.Transition(context.Background(), updated, SyncStatusPending)
	if err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}
	if again.ErrorKind != "" || again.ErrorMessage != "" {
		t.Fatalf("expected error details cleared on pending, got %+v", again)
	}
	if again.RetryCount != 1 {
		t.Fatalf("expected retry count preserved, got %d", again.RetryCount)
	}
}

func TestLedger_FailKeepsMessageValidUTF8(t *testing.T) {
	t.Parallel()

	pending := SyncEvent{ID: "sync-1", UserID: "user-1", Status: SyncStatusPending}
	ledger := NewLedger(newSyncEventRepoStub(pending), nil, fixedClock)

	cause := newError(KindUpstreamUnavailable, true, errors.New(strings.Repeat("a", 999)+"é: upstream said no"))
	updated, err := ledger.Fail(context.Background(), pending, SyncStatusError, cause, false)
	if err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	if !utf8.ValidString(updated.ErrorMessage) {
		t.Fatalf("expected valid UTF-8 message, got %q", updated.ErrorMessage[len(updated.ErrorMessage)-4:])
	}
	if updated.ErrorMessage != strings.Repeat("a", 999) {
		t.Fatalf("expected the split rune to be dropped, got %d bytes", len(updated.ErrorMessage))
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		value string
		limit int
		want  string
	}{
		{name: "short", value: "abc", limit: 5, want: "abc"},
		{name: "exact", value: "abcde", limit: 5, want: "abcde"},
		{name: "ascii cut", value: "abcdef", limit: 5, want: "abcde"},
		{name: "two byte rune", value: "abcdé", limit: 5, want: "abcd"},
		{name: "rune on boundary", value: "abcéx", limit: 5, want: "abcé"},
		{name: "four byte rune", value: "ab😀cd", limit: 4, want: "ab"},
		{name: "leading rune", value: "😀", limit: 2, want: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tc.value, tc.limit)
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("expected valid UTF-8, got %q", got)
			}
		})
	}
}

func TestLedger_ListByStatusOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	repo := newSyncEventRepoStub(
		SyncEvent{ID: "b", UserID: "user-1", Status: SyncStatusError, CreatedAt: testNow.Add(2 * time.Minute)},
		SyncEvent{ID: "a", UserID: "user-1", Status: SyncStatusError, CreatedAt: testNow},
		SyncEvent{ID: "c", UserID: "user-1", Status: SyncStatusSynced, CreatedAt: testNow},
		SyncEvent{ID: "d", UserID: "user-2", Status: SyncStatusError, CreatedAt: testNow},
	)
	ledger := NewLedger(repo, nil, fixedClock)

	events, err := ledger.ListByStatus(context.Background(), "user-1", SyncStatusError)
	if err != nil {
		t.Fatalf("ListByStatus returned error: %v", err)
	}
	if len(events) != 2 || events[0].ID != "a" || events[1].ID != "b" {
		t.Fatalf("expected [a b], got %+v", events)
	}

	all, err := ledger.ListByStatus(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("ListByStatus returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows for empty status, got %d", len(all))
	}
}

func TestLedger_Counts(t *testing.T) {
	t.Parallel()

	repo := newSyncEventRepoStub(
		SyncEvent{ID: "a", UserID: "user-1", Status: SyncStatusPending},
		SyncEvent{ID: "b", UserID: "user-1", Status: SyncStatusSynced},
		SyncEvent{ID: "c", UserID: "user-1", Status: SyncStatusSynced},
		SyncEvent{ID: "d", UserID: "user-1", Status: SyncStatusConflict},
		SyncEvent{ID: "e", UserID: "user-2", Status: SyncStatusError},
	)
	ledger := NewLedger(repo, nil, fixedClock)

	counts, err := ledger.Counts(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Counts returned error: %v", err)
	}
	want := StatusCounts{Pending: 1, Synced: 2, Conflict: 1}
	if counts != want {
		t.Fatalf("expected %+v, got %+v", want, counts)
	}
	if counts.Total() != 4 {
		t.Fatalf("expected total 4, got %d", counts.Total())
	}
}

func TestLedger_Delete(t *testing.T) {
	t.Parallel()

	repo := newSyncEventRepoStub(
		SyncEvent{ID: "pending", UserID: "user-1", Status: SyncStatusPending},
		SyncEvent{ID: "conflict", UserID: "user-1", Status: SyncStatusConflict},
	)
	ledger := NewLedger(repo, nil, fixedClock)
	ctx := context.Background()

	if err := ledger.Delete(ctx, "user-1", "pending"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected pending delete to be refused, got %v", err)
	}
	if err := ledger.Delete(ctx, "user-2", "conflict"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected other user's row to be not found, got %v", err)
	}
	if err := ledger.Delete(ctx, "user-1", "conflict"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := ledger.Get(ctx, "user-1", "conflict"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted row to be gone, got %v", err)
	}
}
