package sched

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s Scheduler, until StopCondition) []any {
	t.Helper()
	res := []any{}
	_, err := Run(s, func(e *Event) error {
		res = append(res, e.Payload)
		return nil
	}, until)
	require.NoError(t, err)
	return res
}

func TestDynamic_Order(t *testing.T) {
	d := NewDynamic()
	for _, e := range []struct {
		payload string
		delay   time.Duration
	}{
		{payload: "a", delay: 5},
		{payload: "b", delay: 3},
		{payload: "c", delay: 3},
		{payload: "d", delay: 7},
	} {
		_, err := d.Schedule("r1", e.payload, e.delay)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, d.Len())
	assert.Equal(t, []any{"b", "c", "a", "d"}, drain(t, d, Never()))
	assert.Equal(t, time.Duration(7), d.Now())
	assert.Equal(t, 0, d.Len())
}

func TestDynamic_Cancel(t *testing.T) {
	d := NewDynamic()
	a, err := d.Schedule("r1", "a", 1)
	require.NoError(t, err)
	_, err = d.Schedule("r1", "b", 2)
	require.NoError(t, err)
	assert.True(t, d.Cancel(a))
	assert.False(t, d.Cancel(a))
	assert.False(t, d.Cancel(100))
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, []any{"b"}, drain(t, d, Never()))
}

func TestDynamic_Past(t *testing.T) {
	d := NewDynamic()
	_, err := d.Schedule("r1", "a", 10)
	require.NoError(t, err)
	_, ok := d.Next()
	require.True(t, ok)
	_, err = d.ScheduleAt("r1", "b", 5)
	assert.ErrorIs(t, err, ErrPastEvent)
	_, err = d.Schedule("r1", "b", -1)
	assert.ErrorIs(t, err, ErrPastEvent)
}

func TestDynamic_ScheduleDuringDispatch(t *testing.T) {
	d := NewDynamic()
	_, err := d.Schedule("r1", 0, 1)
	require.NoError(t, err)
	seen := []any{}
	_, err = Run(d, func(e *Event) error {
		seen = append(seen, e.Payload)
		n := e.Payload.(int)
		if n < 3 {
			_, err := d.Schedule("r1", n+1, 0)
			return err
		}
		return nil
	}, Never())
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2, 3}, seen)
	assert.Equal(t, time.Duration(1), d.Now())
}

func TestStatic_Overflow(t *testing.T) {
	tests := []struct {
		name     string
		overflow Overflow
		expErr   error
		exp      []any
	}{
		{name: "append", overflow: OVERFLOW_APPEND, exp: []any{"a", "b", "c"}},
		{name: "ignore", overflow: OVERFLOW_IGNORE, exp: []any{"a", "b"}},
		{name: "reject", overflow: OVERFLOW_REJECT, expErr: ErrPlanSealed, exp: []any{"a", "b"}},
	}
	t.Parallel()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStatic(tt.overflow)
			require.NoError(t, err)
			_, err = s.Schedule("r1", "a", 10)
			require.NoError(t, err)
			_, err = s.Schedule("r1", "b", 1)
			require.NoError(t, err)
			s.Seal()
			_, err = s.Schedule("r1", "c", 0)
			if tt.expErr != nil {
				assert.ErrorIs(t, err, tt.expErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.exp, drain(t, s, Never()))
		})
	}
}

func TestStatic_TimeIsMonotonic(t *testing.T) {
	s, err := NewStatic(OVERFLOW_APPEND)
	require.NoError(t, err)
	_, err = s.ScheduleAt("r1", "a", 10)
	require.NoError(t, err)
	_, err = s.ScheduleAt("r1", "b", 5)
	require.NoError(t, err)
	e, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "a", e.Payload)
	e, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, "b", e.Payload)
	assert.Equal(t, time.Duration(10), s.Now())
}

func TestStatic_InvalidOverflow(t *testing.T) {
	_, err := NewStatic(Overflow(10))
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	_, err = ParseOverflow("drop")
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestRun_StopConditions(t *testing.T) {
	tests := []struct {
		name  string
		until StopCondition
		exp   []any
	}{
		{name: "never", until: Never(), exp: []any{1, 2, 3, 4}},
		{name: "at time", until: AtTime(2), exp: []any{1, 2}},
		{name: "max events", until: MaxEvents(3), exp: []any{1, 2, 3}},
		{name: "any", until: Any(AtTime(3), MaxEvents(1)), exp: []any{1}},
	}
	t.Parallel()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d := NewDynamic()
			for i := 1; i <= 4; i++ {
				_, err := d.ScheduleAt("r1", i, time.Duration(i))
				require.NoError(t, err)
			}
			assert.Equal(t, tt.exp, drain(t, d, tt.until))
		})
	}
}

func TestRun_HandlerError(t *testing.T) {
	d := NewDynamic()
	_, err := d.Schedule("r1", "a", 1)
	require.NoError(t, err)
	_, err = d.Schedule("r1", "b", 2)
	require.NoError(t, err)
	boom := errors.New("boom")
	stats, err := Run(d, func(e *Event) error { return boom }, Never())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, stats.Dispatched)
	assert.Equal(t, 1, stats.Remaining)
}
