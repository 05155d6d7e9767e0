package sched

import (
	"container/heap"
	"time"
)

type eventQueue []*Event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].At != q[j].At {
		return q[i].At < q[j].At
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	e := x.(*Event)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Dynamic is a time ordered scheduler.
// Events with the same time are dispatched in insertion order.
type Dynamic struct {
	queue   eventQueue
	pending map[EventID]*Event
	now     time.Duration
	seq     uint64
	nextId  EventID
}

func NewDynamic() *Dynamic {
	return &Dynamic{
		queue:   make(eventQueue, 0, 64),
		pending: make(map[EventID]*Event),
	}
}

func (d *Dynamic) Kind() Kind {
	return KIND_DYNAMIC
}

func (d *Dynamic) Now() time.Duration {
	return d.now
}

func (d *Dynamic) Schedule(target string, payload any, delay time.Duration) (EventID, error) {
	if delay < 0 {
		return 0, ErrPastEvent
	}
	return d.ScheduleAt(target, payload, d.now+delay)
}

func (d *Dynamic) ScheduleAt(target string, payload any, at time.Duration) (EventID, error) {
	if at < d.now {
		return 0, ErrPastEvent
	}
	d.seq++
	d.nextId++
	e := &Event{
		ID:      d.nextId,
		At:      at,
		Target:  target,
		Payload: payload,
		seq:     d.seq,
	}
	heap.Push(&d.queue, e)
	d.pending[e.ID] = e
	return e.ID, nil
}

// Cancel marks the event and leaves it in the heap. It is dropped when it reaches the top.
func (d *Dynamic) Cancel(id EventID) bool {
	e, ok := d.pending[id]
	if !ok {
		return false
	}
	e.cancelled = true
	delete(d.pending, id)
	return true
}

func (d *Dynamic) skipCancelled() {
	for len(d.queue) > 0 && d.queue[0].cancelled {
		heap.Pop(&d.queue)
	}
}

func (d *Dynamic) Peek() (*Event, bool) {
	d.skipCancelled()
	if len(d.queue) == 0 {
		return nil, false
	}
	return d.queue[0], true
}

func (d *Dynamic) Next() (*Event, bool) {
	d.skipCancelled()
	if len(d.queue) == 0 {
		return nil, false
	}
	e := heap.Pop(&d.queue).(*Event)
	delete(d.pending, e.ID)
	d.now = e.At
	return e, true
}

func (d *Dynamic) Len() int {
	return len(d.pending)
}
