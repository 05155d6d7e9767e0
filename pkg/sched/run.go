package sched

import (
	"fmt"
	"time"
)

type Handler func(*Event) error

type Stats struct {
	Dispatched int
	Now        time.Duration
	Remaining  int
}

// StopCondition is consulted before each dispatch with the next pending event.
type StopCondition func(next *Event, stats *Stats) bool

// Never runs until the scheduler has no pending events.
func Never() StopCondition {
	return nil
}

// AtTime stops before dispatching any event later than t.
func AtTime(t time.Duration) StopCondition {
	return func(next *Event, _ *Stats) bool {
		return next.At > t
	}
}

func MaxEvents(n int) StopCondition {
	return func(_ *Event, stats *Stats) bool {
		return stats.Dispatched >= n
	}
}

func Any(conds ...StopCondition) StopCondition {
	return func(next *Event, stats *Stats) bool {
		for _, c := range conds {
			if c != nil && c(next, stats) {
				return true
			}
		}
		return false
	}
}

// Run dispatches events to handler one at a time until the scheduler drains or until reports true.
// A handler error stops the run.
func Run(s Scheduler, handler Handler, until StopCondition) (Stats, error) {
	stats := Stats{Now: s.Now()}
	for {
		next, ok := s.Peek()
		if !ok {
			break
		}
		if until != nil && until(next, &stats) {
			break
		}
		e, _ := s.Next()
		stats.Dispatched++
		stats.Now = s.Now()
		if err := handler(e); err != nil {
			stats.Remaining = s.Len()
			return stats, fmt.Errorf("dispatch %s: %w", e, err)
		}
	}
	stats.Now = s.Now()
	stats.Remaining = s.Len()
	return stats, nil
}
