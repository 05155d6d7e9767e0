package bgp

import (
	"fmt"
	"net/netip"
)

// BGP Events
// 1.  BGP Start
// 2.  BGP Stop
// 3.  BGP Transport connection open
// 4.  BGP Transport connection open failed
// 5.  ConnectRetry timer expired
// 6.  Hold Timer expired
// 7.  KeepAlive timer expired
// 8.  Receive OPEN message
// 9.  Receive KEEPALIVE message
// 10. Receive UPDATE messages
// 11. Receive NOTIFICATION message
//
// Router events
// 12. Originate a local network
// 13. Withdraw a local network
// 14. Rescan every prefix after an IGP change
type Event interface {
	typ() eventType
}

type eventType uint8

const (
	event_type_bgp_start                  eventType = iota + 1
	event_type_bgp_stop                   eventType = iota + 1
	event_type_bgp_trans_conn_open        eventType = iota + 1
	event_type_bgp_trans_conn_open_failed eventType = iota + 1
	event_type_conn_retry_timer_expired   eventType = iota + 1
	event_type_hold_timer_expired         eventType = iota + 1
	event_type_keepalive_timer_expired    eventType = iota + 1
	event_type_recv_open_msg              eventType = iota + 1
	event_type_recv_keepalive_msg         eventType = iota + 1
	event_type_recv_update_msg            eventType = iota + 1
	event_type_recv_notification_msg      eventType = iota + 1

	event_type_originate       eventType = iota + 1
	event_type_withdraw_origin eventType = iota + 1
	event_type_rescan          eventType = iota + 1
)

func (t eventType) String() string {
	switch t {
	case event_type_bgp_start:
		return "BGP start"
	case event_type_bgp_stop:
		return "BGP stop"
	case event_type_bgp_trans_conn_open:
		return "BGP transport connection open"
	case event_type_bgp_trans_conn_open_failed:
		return "BGP transport connection open failed"
	case event_type_conn_retry_timer_expired:
		return "BGP conn_retry timer expired"
	case event_type_hold_timer_expired:
		return "Hold timer expired"
	case event_type_keepalive_timer_expired:
		return "Keepalive timer expired"
	case event_type_recv_open_msg:
		return "Receive open message"
	case event_type_recv_keepalive_msg:
		return "Receive keepalive message"
	case event_type_recv_update_msg:
		return "Receive update message"
	case event_type_recv_notification_msg:
		return "Receive notification message"
	case event_type_originate:
		return "Originate network"
	case event_type_withdraw_origin:
		return "Withdraw network"
	case event_type_rescan:
		return "Rescan"
	default:
		return "Unknown event type"
	}
}

// peerEvent is an event addressed to the session with peer.
type peerEvent interface {
	Event
	peerAddr() netip.Addr
}

type bgpStart struct{ peer netip.Addr }

type bgpStop struct{ peer netip.Addr }

type bgpTransConnOpenFailed struct{ peer netip.Addr }

type connRetryTimerExpired struct{ peer netip.Addr }

type holdTimerExpired struct{ peer netip.Addr }

type keepaliveTimerExpired struct{ peer netip.Addr }

// Messages are addressed by the router that sent them.
type recvOpenMsg struct {
	from netip.Addr
	msg  *Open
}

type recvKeepaliveMsg struct {
	from netip.Addr
	msg  *KeepAlive
}

type recvUpdateMsg struct {
	from netip.Addr
	msg  *Update
}

type recvNotificationMsg struct {
	from netip.Addr
	msg  *Notification
}

type originate struct {
	prefix netip.Prefix
}

type withdrawOrigin struct {
	prefix netip.Prefix
}

type rescan struct{}

func NewStartEvent(peer netip.Addr) Event {
	return &bgpStart{peer: peer}
}

func NewStopEvent(peer netip.Addr) Event {
	return &bgpStop{peer: peer}
}

// NewHoldTimerExpiredEvent simulates the loss of keepalives from peer.
func NewHoldTimerExpiredEvent(peer netip.Addr) Event {
	return &holdTimerExpired{peer: peer}
}

func NewOriginateEvent(prefix netip.Prefix) Event {
	return &originate{prefix: prefix}
}

func NewWithdrawOriginEvent(prefix netip.Prefix) Event {
	return &withdrawOrigin{prefix: prefix}
}

func NewRescanEvent() Event {
	return &rescan{}
}

func (*bgpStart) typ() eventType {
	return event_type_bgp_start
}

func (*bgpStop) typ() eventType {
	return event_type_bgp_stop
}

func (*bgpTransConnOpenFailed) typ() eventType {
	return event_type_bgp_trans_conn_open_failed
}

func (*connRetryTimerExpired) typ() eventType {
	return event_type_conn_retry_timer_expired
}

func (*holdTimerExpired) typ() eventType {
	return event_type_hold_timer_expired
}

func (*keepaliveTimerExpired) typ() eventType {
	return event_type_keepalive_timer_expired
}

func (*recvOpenMsg) typ() eventType {
	return event_type_recv_open_msg
}

func (*recvKeepaliveMsg) typ() eventType {
	return event_type_recv_keepalive_msg
}

func (*recvUpdateMsg) typ() eventType {
	return event_type_recv_update_msg
}

func (*recvNotificationMsg) typ() eventType {
	return event_type_recv_notification_msg
}

func (*originate) typ() eventType {
	return event_type_originate
}

func (*withdrawOrigin) typ() eventType {
	return event_type_withdraw_origin
}

func (*rescan) typ() eventType {
	return event_type_rescan
}

func (e *bgpStart) peerAddr() netip.Addr               { return e.peer }
func (e *bgpStop) peerAddr() netip.Addr                { return e.peer }
func (e *bgpTransConnOpenFailed) peerAddr() netip.Addr { return e.peer }
func (e *connRetryTimerExpired) peerAddr() netip.Addr  { return e.peer }
func (e *holdTimerExpired) peerAddr() netip.Addr       { return e.peer }
func (e *keepaliveTimerExpired) peerAddr() netip.Addr  { return e.peer }
func (e *recvOpenMsg) peerAddr() netip.Addr            { return e.from }
func (e *recvKeepaliveMsg) peerAddr() netip.Addr       { return e.from }
func (e *recvUpdateMsg) peerAddr() netip.Addr          { return e.from }
func (e *recvNotificationMsg) peerAddr() netip.Addr    { return e.from }

// EventType names the kind of evt without its arguments.
func EventType(evt Event) string {
	return evt.typ().String()
}

// EventString describes an event for logs.
func EventString(evt Event) string {
	if pe, ok := evt.(peerEvent); ok {
		return fmt.Sprintf("%s (peer %s)", evt.typ(), pe.peerAddr())
	}
	switch e := evt.(type) {
	case *originate:
		return fmt.Sprintf("%s %s", evt.typ(), e.prefix)
	case *withdrawOrigin:
		return fmt.Sprintf("%s %s", evt.typ(), e.prefix)
	}
	return evt.typ().String()
}

// Undeliverable handles an event whose target router does not exist.
// It releases the attributes carried by the event and, for an OPEN, returns the
// transport failure to notify the sender with.
func Undeliverable(store *AttrStore, target netip.Addr, evt Event) (Event, netip.Addr, bool) {
	switch e := evt.(type) {
	case *recvUpdateMsg:
		store.Release(e.msg.Attrs)
	case *recvOpenMsg:
		return &bgpTransConnOpenFailed{peer: target}, e.from, true
	}
	return nil, netip.Addr{}, false
}
