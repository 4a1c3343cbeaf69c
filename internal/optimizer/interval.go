package optimizer

import "time"

// Adaptive interval bounds.
const (
	FastInterval     = 10 * time.Second
	BaseInterval     = 30 * time.Second
	MaxInterval      = 5 * time.Minute
	highActivity     = 10
	moderateActivity = 5
)

// AdaptiveInterval chooses the next sync interval from recent activity:
// busy periods poll fast, quiet periods back off to at most double the
// base, capped at the ceiling.
func AdaptiveInterval(recentEvents int, base time.Duration) time.Duration {
	if base <= 0 {
		base = BaseInterval
	}
	switch {
	case recentEvents > highActivity:
		return FastInterval
	case recentEvents > moderateActivity:
		return base
	}
	next := 2 * base
	if next > MaxInterval {
		next = MaxInterval
	}
	return next
}
