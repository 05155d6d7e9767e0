package sched

import (
	"fmt"
	"time"
)

// Overflow decides what a sealed static plan does with newly scheduled events.
type Overflow uint8

const (
	OVERFLOW_APPEND Overflow = iota
	OVERFLOW_IGNORE Overflow = iota
	OVERFLOW_REJECT Overflow = iota
)

func (o Overflow) String() string {
	switch o {
	case OVERFLOW_APPEND:
		return "append"
	case OVERFLOW_IGNORE:
		return "ignore"
	case OVERFLOW_REJECT:
		return "reject"
	default:
		return "unknown"
	}
}

func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "append":
		return OVERFLOW_APPEND, nil
	case "ignore":
		return OVERFLOW_IGNORE, nil
	case "reject":
		return OVERFLOW_REJECT, nil
	default:
		return OVERFLOW_APPEND, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Static replays events in the order they were planned, ignoring their times for ordering.
// Simulated time never goes backwards: it is the maximum of the times seen so far.
type Static struct {
	plan     []*Event
	pos      int
	pending  map[EventID]*Event
	sealed   bool
	overflow Overflow
	now      time.Duration
	nextId   EventID
	dropped  int
}

func NewStatic(overflow Overflow) (*Static, error) {
	if overflow > OVERFLOW_REJECT {
		return nil, ErrInvalidPolicy
	}
	return &Static{
		plan:     make([]*Event, 0, 64),
		pending:  make(map[EventID]*Event),
		overflow: overflow,
	}, nil
}

func (s *Static) Kind() Kind {
	return KIND_STATIC
}

func (s *Static) Now() time.Duration {
	return s.now
}

// Seal freezes the plan. Later scheduling follows the overflow policy.
func (s *Static) Seal() {
	s.sealed = true
}

func (s *Static) Sealed() bool {
	return s.sealed
}

// Dropped returns how many events were discarded by the ignore policy.
func (s *Static) Dropped() int {
	return s.dropped
}

func (s *Static) Schedule(target string, payload any, delay time.Duration) (EventID, error) {
	if delay < 0 {
		return 0, ErrPastEvent
	}
	return s.ScheduleAt(target, payload, s.now+delay)
}

func (s *Static) ScheduleAt(target string, payload any, at time.Duration) (EventID, error) {
	if at < s.now {
		return 0, ErrPastEvent
	}
	if s.sealed {
		switch s.overflow {
		case OVERFLOW_IGNORE:
			s.dropped++
			return 0, nil
		case OVERFLOW_REJECT:
			return 0, ErrPlanSealed
		}
	}
	s.nextId++
	e := &Event{
		ID:      s.nextId,
		At:      at,
		Target:  target,
		Payload: payload,
		seq:     uint64(s.nextId),
	}
	s.plan = append(s.plan, e)
	s.pending[e.ID] = e
	return e.ID, nil
}

func (s *Static) Cancel(id EventID) bool {
	e, ok := s.pending[id]
	if !ok {
		return false
	}
	e.cancelled = true
	delete(s.pending, id)
	return true
}

func (s *Static) skipCancelled() {
	for s.pos < len(s.plan) && s.plan[s.pos].cancelled {
		s.plan[s.pos] = nil
		s.pos++
	}
}

func (s *Static) Peek() (*Event, bool) {
	s.skipCancelled()
	if s.pos >= len(s.plan) {
		return nil, false
	}
	return s.plan[s.pos], true
}

func (s *Static) Next() (*Event, bool) {
	s.skipCancelled()
	if s.pos >= len(s.plan) {
		return nil, false
	}
	e := s.plan[s.pos]
	s.plan[s.pos] = nil
	s.pos++
	delete(s.pending, e.ID)
	if e.At > s.now {
		s.now = e.At
	}
	return e, true
}

func (s *Static) Len() int {
	return len(s.pending)
}
