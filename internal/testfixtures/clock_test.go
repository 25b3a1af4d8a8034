package testfixtures

import (
	"sync"
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	t.Parallel()

	t.Run("defaults to the reference time", func(t *testing.T) {
		t.Parallel()

		clock := NewClock(time.Time{})
		if !clock.Now().Equal(ReferenceTime()) {
			t.Fatalf("expected %v, got %v", ReferenceTime(), clock.Now())
		}
		if clock.Now().Weekday() != time.Monday {
			t.Fatalf("expected reference time on a Monday, got %s", clock.Now().Weekday())
		}
	})

	t.Run("advance and set are visible through NowFunc", func(t *testing.T) {
		t.Parallel()

		start := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
		clock := NewClock(start)
		now := clock.NowFunc()

		if got := clock.Advance(90 * time.Minute); !got.Equal(start.Add(90 * time.Minute)) {
			t.Fatalf("expected %v, got %v", start.Add(90*time.Minute), got)
		}
		clock.Set(start.Add(24 * time.Hour))
		if got := now(); !got.Equal(start.Add(24 * time.Hour)) {
			t.Fatalf("expected %v, got %v", start.Add(24*time.Hour), got)
		}
	})

	t.Run("nil clock falls back to wall time", func(t *testing.T) {
		t.Parallel()

		var clock *Clock
		if got := clock.NowFunc()(); got.IsZero() {
			t.Fatal("expected wall clock time, got zero")
		}
	})
}

func TestIDGenerator(t *testing.T) {
	t.Parallel()

	gen := NewIDGenerator("")
	if first := gen.Next(); first != "id-1" {
		t.Fatalf("expected id-1, got %q", first)
	}

	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, dup := seen.LoadOrStore(gen.Next(), true); dup {
				t.Error("duplicate identifier issued")
			}
		}()
	}
	wg.Wait()

	if gen.Issued() != 21 {
		t.Fatalf("expected 21 identifiers issued, got %d", gen.Issued())
	}
}
