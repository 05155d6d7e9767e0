package sched

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPastEvent     = errors.New("event scheduled in the past")
	ErrPlanSealed    = errors.New("static plan is sealed")
	ErrInvalidPolicy = errors.New("invalid overflow policy")
)

type EventID uint64

// Event is a unit of work dispatched to Target at simulated time At.
type Event struct {
	ID      EventID
	At      time.Duration
	Target  string
	Payload any

	seq       uint64
	index     int
	cancelled bool
}

func (e *Event) String() string {
	return fmt.Sprintf("event(id=%d at=%s target=%s payload=%T)", e.ID, e.At, e.Target, e.Payload)
}

type Kind uint8

const (
	KIND_DYNAMIC Kind = iota
	KIND_STATIC  Kind = iota
)

func (k Kind) String() string {
	switch k {
	case KIND_DYNAMIC:
		return "dynamic"
	case KIND_STATIC:
		return "static"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "dynamic":
		return KIND_DYNAMIC, nil
	case "static":
		return KIND_STATIC, nil
	default:
		return KIND_DYNAMIC, fmt.Errorf("unknown scheduler %q", s)
	}
}

// Scheduler orders pending events and advances simulated time.
type Scheduler interface {
	Kind() Kind
	Now() time.Duration
	Schedule(target string, payload any, delay time.Duration) (EventID, error)
	ScheduleAt(target string, payload any, at time.Duration) (EventID, error)
	// Cancel removes a pending event. It reports false when the event
	// already ran, was cancelled or never existed.
	Cancel(id EventID) bool
	Peek() (*Event, bool)
	Next() (*Event, bool)
	Len() int
}

func New(kind Kind, overflow Overflow) (Scheduler, error) {
	switch kind {
	case KIND_DYNAMIC:
		return NewDynamic(), nil
	case KIND_STATIC:
		return NewStatic(overflow)
	default:
		return nil, fmt.Errorf("unknown scheduler kind %d", kind)
	}
}
