package bgp

import "sync"

type FSM interface {
	GetState() state
	Change(eventType) (state, state)
	Reset()
	IsEstablished() bool
}

type fsm struct {
	mutex sync.RWMutex
	state state
}

func newFSM() FSM {
	return &fsm{state: IDLE}
}

func (f *fsm) GetState() state {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.state
}

// Change applies the transition of et and returns the previous and the new state.
func (f *fsm) Change(et eventType) (state, state) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	prev := f.state
	f.state = changeState(f.state, et)
	return prev, f.state
}

func (f *fsm) Reset() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.state = IDLE
}

func (f *fsm) IsEstablished() bool {
	return f.GetState() == ESTABLISHED
}

type state uint8

const (
	// Idle state:
	// In this state BGP refuses all incoming BGP connections.
	// No resources are allocated to the peer.
	// In response to the Start event, the local system initialized all BGP resources.
	IDLE         state = iota
	CONNECT      state = iota
	ACTIVE       state = iota
	OPEN_SENT    state = iota
	OPEN_CONFIRM state = iota
	ESTABLISHED  state = iota
)

func (s state) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case CONNECT:
		return "CONNECT"
	case ACTIVE:
		return "ACTIVE"
	case OPEN_SENT:
		return "OPEN_SENT"
	case OPEN_CONFIRM:
		return "OPEN_CONFIRM"
	case ESTABLISHED:
		return "ESTABLISHED"
	default:
		return "Unknown"
	}
}

// changeState is the transition table below, see peer.go for the actions.
// Events not listed for a state move the session to IDLE.
func changeState(s state, et eventType) state {
	switch s {
	case IDLE:
		if et == event_type_bgp_start {
			return CONNECT
		}
		return IDLE
	case CONNECT:
		switch et {
		case event_type_bgp_start, event_type_conn_retry_timer_expired:
			return CONNECT
		case event_type_bgp_trans_conn_open_failed:
			return ACTIVE
		case event_type_bgp_trans_conn_open:
			return OPEN_SENT
		}
	case ACTIVE:
		switch et {
		case event_type_bgp_start, event_type_bgp_trans_conn_open_failed:
			return ACTIVE
		case event_type_bgp_trans_conn_open:
			return OPEN_SENT
		case event_type_conn_retry_timer_expired:
			return CONNECT
		}
	case OPEN_SENT:
		switch et {
		case event_type_bgp_start:
			return OPEN_SENT
		case event_type_recv_open_msg:
			return OPEN_CONFIRM
		}
	case OPEN_CONFIRM:
		switch et {
		case event_type_bgp_start, event_type_keepalive_timer_expired:
			return OPEN_CONFIRM
		case event_type_recv_keepalive_msg:
			return ESTABLISHED
		}
	case ESTABLISHED:
		switch et {
		case event_type_bgp_start, event_type_keepalive_timer_expired,
			event_type_recv_keepalive_msg, event_type_recv_update_msg:
			return ESTABLISHED
		}
	}
	return IDLE
}
