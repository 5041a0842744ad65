package degraded

import (
	"time"

	"github.com/kjstillabower/solar-dashboard-service/internal/traffic"
)

// Status summarizes per-city provider failures over a window.
type Status struct {
	Errors   int
	Total    int
	Percent  float64
	Degraded bool
}

// RecordCitySuccess records a city whose lookups both succeeded.
func RecordCitySuccess() {
	traffic.RecordSuccess()
}

// RecordCityError records a city that was skipped.
func RecordCityError() {
	traffic.RecordError()
}

// Evaluate reports whether the per-city failure percentage over window has
// reached thresholdPct. With no outcomes in the window, or a non-positive
// window or threshold, the service is not degraded.
func Evaluate(window time.Duration, thresholdPct int) Status {
	if window <= 0 || thresholdPct <= 0 {
		return Status{}
	}
	errors, total := traffic.ErrorRate(window)
	s := Status{Errors: errors, Total: total}
	if total == 0 {
		return s
	}
	s.Percent = float64(errors) * 100 / float64(total)
	s.Degraded = s.Percent >= float64(thresholdPct)
	return s
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}
