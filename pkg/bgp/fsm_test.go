package bgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFSMChange(t *testing.T) {
	tests := []struct {
		name   string
		events []eventType
		result state
	}{
		{
			name:   "IDLE to ESTAB 1",
			events: []eventType{event_type_bgp_start, event_type_bgp_trans_conn_open, event_type_recv_open_msg, event_type_recv_keepalive_msg},
			result: ESTABLISHED,
		},
		{
			name: "IDLE to ESTAB 2",
			events: []eventType{event_type_bgp_start,
				event_type_bgp_trans_conn_open_failed,
				event_type_bgp_trans_conn_open,
				event_type_recv_open_msg,
				event_type_recv_keepalive_msg},
			result: ESTABLISHED,
		},
		{
			name: "IDLE to ESTAB 3",
			events: []eventType{event_type_bgp_start,
				event_type_bgp_trans_conn_open_failed,
				event_type_conn_retry_timer_expired,
				event_type_bgp_trans_conn_open,
				event_type_recv_open_msg,
				event_type_recv_keepalive_msg,
				event_type_recv_update_msg,
				event_type_keepalive_timer_expired},
			result: ESTABLISHED,
		},
		{
			name:   "IDLE ignores messages",
			events: []eventType{event_type_recv_open_msg, event_type_recv_keepalive_msg},
			result: IDLE,
		},
		{
			name:   "stop in CONNECT",
			events: []eventType{event_type_bgp_start, event_type_bgp_stop},
			result: IDLE,
		},
		{
			name:   "update in OPEN_CONFIRM",
			events: []eventType{event_type_bgp_start, event_type_bgp_trans_conn_open, event_type_recv_open_msg, event_type_recv_update_msg},
			result: IDLE,
		},
		{
			name: "hold timer expired in ESTAB",
			events: []eventType{event_type_bgp_start,
				event_type_bgp_trans_conn_open,
				event_type_recv_open_msg,
				event_type_recv_keepalive_msg,
				event_type_hold_timer_expired},
			result: IDLE,
		},
		{
			name: "notification in ESTAB",
			events: []eventType{event_type_bgp_start,
				event_type_bgp_trans_conn_open,
				event_type_recv_open_msg,
				event_type_recv_keepalive_msg,
				event_type_recv_notification_msg},
			result: IDLE,
		},
	}
	t.Parallel()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := newFSM()
			for _, et := range tt.events {
				f.Change(et)
			}
			assert.Equal(t, tt.result, f.GetState())
		})
	}
}

func TestFSMReset(t *testing.T) {
	f := newFSM()
	prev, next := f.Change(event_type_bgp_start)
	assert.Equal(t, IDLE, prev)
	assert.Equal(t, CONNECT, next)
	f.Reset()
	assert.Equal(t, IDLE, f.GetState())
	assert.False(t, f.IsEstablished())
}
