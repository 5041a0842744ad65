package traffic

import (
	"testing"
	"time"
)

// fakeClock returns a controllable clock for Tracker.
func fakeClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

// TestRequestCount_Empty verifies that RequestCount returns 0 when nothing was recorded.
func TestRequestCount_Empty(t *testing.T) {
	Reset()
	if n := RequestCount(1 * time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecordDenied_AndCounts verifies that RecordDenied increments both
// DenialCount and RequestCount.
func TestRecordDenied_AndCounts(t *testing.T) {
	Reset()
	RecordDenied()
	RecordDenied()
	if n := DenialCount(1 * time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := RequestCount(1 * time.Minute); n != 2 {
		t.Errorf("RequestCount() = %d, want 2", n)
	}
}

// TestErrorRate_SuccessAndError verifies counts from mixed city outcomes.
func TestErrorRate_SuccessAndError(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordSuccess()
	RecordError()
	errors, total := ErrorRate(1 * time.Minute)
	if errors != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errors, total)
	}
}

// TestErrorRate_DeniedExcluded verifies that denials do not count as city outcomes.
func TestErrorRate_DeniedExcluded(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordDenied()
	RecordDenied()
	errors, total := ErrorRate(1 * time.Minute)
	if errors != 0 || total != 1 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 1) - denied excluded from error rate", errors, total)
	}
}

func TestTracker_WindowExcludesOldOutcomes(t *testing.T) {
	now, advance := fakeClock(time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC))
	tr := NewTracker(now)

	tr.RecordError()
	advance(2 * time.Minute)
	tr.RecordSuccess()

	errors, total := tr.ErrorRate(1 * time.Minute)
	if errors != 0 || total != 1 {
		t.Errorf("ErrorRate(1m) = (%d, %d), want (0, 1)", errors, total)
	}
	errors, total = tr.ErrorRate(5 * time.Minute)
	if errors != 1 || total != 2 {
		t.Errorf("ErrorRate(5m) = (%d, %d), want (1, 2)", errors, total)
	}
}

func TestTracker_PrunesBeyondMaxAge(t *testing.T) {
	now, advance := fakeClock(time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC))
	tr := NewTracker(now)

	tr.RecordError()
	advance(maxAge + time.Minute)
	tr.RecordSuccess()

	if n := len(tr.errorTimes); n != 0 {
		t.Errorf("errorTimes retained %d entries, want 0 after prune", n)
	}
	if n := tr.RequestCount(24 * time.Hour); n != 1 {
		t.Errorf("RequestCount() = %d, want 1", n)
	}
}

// TestReset verifies that Reset clears every outcome kind.
func TestReset(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordError()
	RecordDenied()
	Reset()
	if n := RequestCount(1 * time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
	errors, total := ErrorRate(1 * time.Minute)
	if errors != 0 || total != 0 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 0)", errors, total)
	}
}
