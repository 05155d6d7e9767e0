package bgp

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/terassyi/bgpsim/pkg/log"
	"github.com/terassyi/bgpsim/pkg/sched"
)

// Finite state machine of a simulated BGP session.
//
// The transport is simulated. Sending OPEN stands for the connection attempt:
//
//	State        Event                         Actions                          Next State
//	---------------------------------------------------------------------------------------
//	Idle         Start                         send OPEN                        Connect
//	             OPEN                          send NOTIFICATION(Cease)         Idle
//	Connect      OPEN                          process OPEN, send KEEPALIVE     OpenConfirm
//	             transport open failed         start ConnectRetry timer         Active
//	             NOTIFICATION(Cease)           start ConnectRetry timer         Active
//	Active       OPEN                          send OPEN, process OPEN,         OpenConfirm
//	                                           send KEEPALIVE
//	             ConnectRetry timer expired    send OPEN                        Connect
//	OpenSent     OPEN                          process OPEN, send KEEPALIVE     OpenConfirm
//	OpenConfirm  KEEPALIVE                     start Hold and KeepAlive timers, Established
//	                                           advertise the Loc-RIB
//	Established  UPDATE                        process UPDATE                   Established
//	             KEEPALIVE                     restart Hold timer               Established
//	any          Stop                          send NOTIFICATION(Cease)         Idle
//	any          Hold timer expired            send NOTIFICATION                Idle
//	any          NOTIFICATION                  release resources                Idle
//	any          others                        send NOTIFICATION(FSM error)     Idle
//
// Moving to Idle withdraws every route learned from the peer.
type peer struct {
	*peerInfo
	router         *Router
	fsm            FSM
	holdTime       time.Duration
	negotiatedHold time.Duration
	delay          time.Duration
	importFilter   *Filter
	exportFilter   *Filter
	nextHopSelf    bool
	adjRibIn       *AdjRibIn
	adjRibOut      *AdjRibOut
	connRetryTimer *timer
	keepAliveTimer *timer
	holdTimer      *timer
	openSent       bool
	logger         log.Logger
	stats          peerStats
}

type peerStats struct {
	updatesIn  int
	updatesOut int
	resets     int
}

func newPeer(r *Router, conf *PeerConfig) *peer {
	logger := r.logger.With()
	logger.Set("peer", conf.Address.String())
	delay := conf.Delay
	if delay == 0 {
		delay = DEFAULT_MESSAGE_DELAY
	}
	return &peer{
		peerInfo: &peerInfo{
			addr:     conf.Address,
			routerId: conf.Address,
			as:       conf.AS,
			ibgp:     conf.AS == r.as,
			rrClient: conf.RRClient,
		},
		router:         r,
		fsm:            newFSM(),
		holdTime:       conf.HoldTime,
		delay:          delay,
		importFilter:   conf.Import,
		exportFilter:   conf.Export,
		nextHopSelf:    conf.NextHopSelf,
		adjRibIn:       r.rib.AdjRibIn(conf.Address),
		adjRibOut:      newAdjRibOut(),
		connRetryTimer: newTimer(conf.ConnectRetry),
		keepAliveTimer: newTimer(0),
		holdTimer:      newTimer(0),
		logger:         logger,
	}
}

func (p *peer) state() state {
	return p.fsm.GetState()
}

func (p *peer) isEstablished() bool {
	return p.fsm.IsEstablished()
}

func (p *peer) changeState(et eventType) {
	prev, next := p.fsm.Change(et)
	if prev != next {
		p.logger.Info("Change state %s -> %s by %s", prev, next, et)
	}
}

func (p *peer) handleEvent(evt Event) error {
	switch evt.typ() {
	case event_type_bgp_start:
		return p.startEvent()
	case event_type_bgp_stop:
		return p.stopEvent()
	case event_type_bgp_trans_conn_open_failed:
		return p.transConnOpenFailedEvent()
	case event_type_conn_retry_timer_expired:
		return p.connRetryTimerExpiredEvent()
	case event_type_hold_timer_expired:
		return p.holdTimerExpiredEvent()
	case event_type_keepalive_timer_expired:
		return p.keepaliveTimerExpiredEvent()
	case event_type_recv_open_msg:
		return p.recvOpenMsgEvent(evt.(*recvOpenMsg).msg)
	case event_type_recv_keepalive_msg:
		return p.recvKeepAliveMsgEvent()
	case event_type_recv_update_msg:
		return p.recvUpdateMsgEvent(evt.(*recvUpdateMsg).msg)
	case event_type_recv_notification_msg:
		return p.recvNotificationMsgEvent(evt.(*recvNotificationMsg).msg)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidEventType, evt.typ())
	}
}

func (p *peer) startEvent() error {
	if p.state() != IDLE {
		p.changeState(event_type_bgp_start)
		return nil
	}
	p.changeState(event_type_bgp_start)
	p.sendOpen()
	return nil
}

func (p *peer) stopEvent() error {
	if p.state() == IDLE {
		return nil
	}
	p.sendNotification(ErrCease, "administrative shutdown")
	p.down("stopped")
	return nil
}

func (p *peer) transConnOpenFailedEvent() error {
	if p.state() != CONNECT {
		return nil
	}
	p.openSent = false
	p.changeState(event_type_bgp_trans_conn_open_failed)
	p.connRetryTimer.start(p, &connRetryTimerExpired{peer: p.addr})
	return nil
}

func (p *peer) connRetryTimerExpiredEvent() error {
	if p.state() != ACTIVE {
		return nil
	}
	p.changeState(event_type_conn_retry_timer_expired)
	p.sendOpen()
	return nil
}

func (p *peer) holdTimerExpiredEvent() error {
	switch p.state() {
	case IDLE, CONNECT, ACTIVE:
		return nil
	}
	p.logger.Warn("Hold timer expired")
	p.sendNotification(ErrHoldTimerExpired, "")
	p.down("hold timer expired")
	return nil
}

func (p *peer) keepaliveTimerExpiredEvent() error {
	switch p.state() {
	case OPEN_CONFIRM, ESTABLISHED:
		p.changeState(event_type_keepalive_timer_expired)
		p.send(&recvKeepaliveMsg{from: p.router.address, msg: &KeepAlive{}})
		p.keepAliveTimer.start(p, &keepaliveTimerExpired{peer: p.addr})
	}
	return nil
}

func (p *peer) recvOpenMsgEvent(msg *Open) error {
	switch p.state() {
	case IDLE:
		// the session is not started, refuse the connection
		p.send(&recvNotificationMsg{from: p.router.address, msg: &Notification{ErrorCode: ErrCease, Reason: "session is not started"}})
		return nil
	case CONNECT, ACTIVE:
		p.connRetryTimer.stop(p)
		if !p.openSent {
			p.sendOpen()
		}
		p.changeState(event_type_bgp_trans_conn_open)
	case OPEN_SENT:
	default:
		p.fsmError(event_type_recv_open_msg)
		return nil
	}
	if code, reason := p.checkOpen(msg); code != nil {
		p.violation(code, reason)
		return nil
	}
	p.routerId = msg.Identifier
	p.negotiatedHold = p.holdTime
	if msg.HoldTime < p.negotiatedHold {
		p.negotiatedHold = msg.HoldTime
	}
	p.changeState(event_type_recv_open_msg)
	p.send(&recvKeepaliveMsg{from: p.router.address, msg: &KeepAlive{}})
	p.holdTimer.reset(p.negotiatedHold)
	p.holdTimer.start(p, &holdTimerExpired{peer: p.addr})
	p.keepAliveTimer.reset(p.negotiatedHold / 3)
	p.keepAliveTimer.start(p, &keepaliveTimerExpired{peer: p.addr})
	return nil
}

func (p *peer) checkOpen(msg *Open) (*ErrorCode, string) {
	if msg.AS != p.as {
		return ErrOpenInvalidPeerAS, fmt.Sprintf("expected AS %d, received %d", p.as, msg.AS)
	}
	if !msg.Identifier.IsValid() || msg.Identifier == p.router.address {
		return ErrOpenBadIdentifier, fmt.Sprintf("identifier %s", msg.Identifier)
	}
	if msg.HoldTime != 0 && msg.HoldTime < MINIMUM_HOLD_TIME {
		return ErrOpenUnacceptableHoldTime, fmt.Sprintf("hold time %s", msg.HoldTime)
	}
	return nil, ""
}

func (p *peer) recvKeepAliveMsgEvent() error {
	switch p.state() {
	case OPEN_CONFIRM:
		p.changeState(event_type_recv_keepalive_msg)
		p.holdTimer.start(p, &holdTimerExpired{peer: p.addr})
		p.logger.Info("Session established (router id %s)", p.routerId)
		p.advertiseAll()
	case ESTABLISHED:
		p.changeState(event_type_recv_keepalive_msg)
		p.holdTimer.start(p, &holdTimerExpired{peer: p.addr})
	case IDLE:
	default:
		p.fsmError(event_type_recv_keepalive_msg)
	}
	return nil
}

func (p *peer) recvUpdateMsgEvent(msg *Update) error {
	defer p.router.store.Release(msg.Attrs)
	switch p.state() {
	case ESTABLISHED:
	case IDLE:
		return nil
	default:
		p.fsmError(event_type_recv_update_msg)
		return nil
	}
	p.stats.updatesIn++
	p.holdTimer.start(p, &holdTimerExpired{peer: p.addr})
	if err := msg.Validate(); err != nil {
		p.violation(err.(*ErrorCode), msg.String())
		return nil
	}
	for _, prefix := range msg.WithdrawnRoutes {
		p.withdraw(prefix)
	}
	for _, prefix := range msg.NLRI {
		if !p.importRoute(prefix, msg.Attrs) {
			return nil
		}
	}
	p.changeState(event_type_recv_update_msg)
	return nil
}

func (p *peer) recvNotificationMsgEvent(msg *Notification) error {
	switch p.state() {
	case IDLE:
		return nil
	case CONNECT:
		if msg.ErrorCode.Code == CEASE {
			// the remote session is not started: the connection is refused
			return p.transConnOpenFailedEvent()
		}
	}
	p.logger.Warn("Receive notification: %s %s", msg.ErrorCode.Error(), msg.Reason)
	p.down(msg.ErrorCode.Error())
	return nil
}

// importRoute runs the inbound pipeline for one announced prefix.
// It returns false when the session was reset.
func (p *peer) importRoute(prefix netip.Prefix, attrs *Attrs) bool {
	r := p.router
	if p.isEBGP() {
		if first, ok := attrs.ASPath().First(); !ok || first != p.as {
			p.violation(ErrUpdateMalformedASPath, fmt.Sprintf("%s: AS path [%s] does not start with %d", prefix, attrs.ASPath(), p.as))
			return false
		}
	}
	if loop, reason := r.checkLoop(attrs); loop != LOOP_NONE {
		if loop == LOOP_AS && r.asLoop == LOOP_RESET {
			p.violation(ErrUpdateASRoutingLoop, fmt.Sprintf("%s: %s", prefix, reason))
			return false
		}
		p.logger.Info("Discard %s: %s", prefix, reason)
		p.withdraw(prefix)
		return true
	}
	work := attrs.Value()
	if p.isEBGP() {
		work.LocalPref = r.localPref
		work.OriginatorID = netip.Addr{}
		work.ClusterList = nil
	}
	if !p.importFilter.apply(prefix, &work, p.as, r.policyEnv()) {
		p.withdraw(prefix)
		return true
	}
	path := newPath(prefix, r.store.Intern(work), p.peerInfo, r.scheduler.Now())
	prior := r.rib.AddOrReplace(p.addr, path)
	r.decide(prefix)
	r.releasePath(prior)
	return true
}

func (p *peer) withdraw(prefix netip.Prefix) {
	r := p.router
	prior := r.rib.Withdraw(p.addr, prefix)
	if prior == nil {
		return
	}
	r.decide(prefix)
	r.releasePath(prior)
}

// exportable computes the attributes advertised to this peer for best.
// The returned attributes carry a reference owned by the caller.
func (p *peer) exportable(best *Path) (*Attrs, bool) {
	r := p.router
	if best == nil {
		return nil, false
	}
	if best.info.addr == p.addr {
		return nil, false
	}
	if best.attrs.HasCommunity(COMMUNITY_NO_ADVERTISE) {
		return nil, false
	}
	if p.isEBGP() && best.attrs.HasCommunity(COMMUNITY_NO_EXPORT) {
		return nil, false
	}
	// the peer would see its own AS and reset the session
	if p.isEBGP() && best.attrs.ASPath().Contains(p.as) {
		return nil, false
	}
	reflected := false
	if best.info.isIBGP() && p.ibgp {
		// a route reflector passes client routes to everyone and non-client routes to clients only
		if !best.info.rrClient && !p.rrClient {
			return nil, false
		}
		reflected = true
	}
	work := best.attrs.Value()
	switch {
	case p.isEBGP():
		work.ASPath = work.ASPath.Prepend(r.as, 1)
		work.NextHop = r.address
		work.LocalPref = 0
		work.MED = 0
		work.OriginatorID = netip.Addr{}
		work.ClusterList = nil
	case reflected:
		if !work.OriginatorID.IsValid() {
			work.OriginatorID = best.info.routerId
		}
		work.ClusterList = append([]netip.Addr{r.clusterId}, work.ClusterList...)
		if p.nextHopSelf {
			work.NextHop = r.address
		}
	default:
		if best.info.local || p.nextHopSelf {
			work.NextHop = r.address
		}
	}
	if !p.exportFilter.apply(best.prefix, &work, p.as, r.policyEnv()) {
		return nil, false
	}
	return r.store.Intern(work), true
}

// advertise brings the Adj-RIB-Out entry of prefix in line with best and sends the difference.
func (p *peer) advertise(prefix netip.Prefix, best *Path) {
	r := p.router
	attrs, ok := p.exportable(best)
	if !ok {
		if prior := p.adjRibOut.Drop(prefix); prior != nil {
			p.sendUpdate(&Update{WithdrawnRoutes: []netip.Prefix{prefix}})
			r.releasePath(prior)
		}
		return
	}
	prior := p.adjRibOut.Lookup(prefix)
	if prior != nil && prior.attrs == attrs {
		r.store.Release(attrs)
		return
	}
	p.adjRibOut.Insert(newPath(prefix, attrs, best.info, r.scheduler.Now()))
	p.sendUpdate(&Update{Attrs: r.store.Retain(attrs), NLRI: []netip.Prefix{prefix}})
	r.releasePath(prior)
}

func (p *peer) advertiseAll() {
	p.router.rib.LocRib().Walk(func(best *Path) bool {
		p.advertise(best.prefix, best)
		return true
	})
}

func (p *peer) sendOpen() {
	p.openSent = true
	p.send(&recvOpenMsg{from: p.router.address, msg: &Open{
		AS:         p.router.as,
		HoldTime:   p.holdTime,
		Identifier: p.router.address,
	}})
}

func (p *peer) sendUpdate(msg *Update) {
	p.stats.updatesOut++
	p.send(&recvUpdateMsg{from: p.router.address, msg: msg})
}

func (p *peer) sendNotification(code *ErrorCode, reason string) {
	switch p.state() {
	case IDLE, ACTIVE:
		return
	}
	p.send(&recvNotificationMsg{from: p.router.address, msg: &Notification{ErrorCode: code, Reason: reason}})
}

func (p *peer) send(evt Event) {
	p.router.send(p.addr, evt, p.delay)
}

func (p *peer) fsmError(et eventType) {
	p.logger.Err("Unexpected %s in %s", et, p.state())
	p.sendNotification(ErrFiniteStateMachineError, et.String())
	p.down("finite state machine error")
}

// violation resets the session after a protocol error of the peer.
func (p *peer) violation(code *ErrorCode, reason string) {
	err := &ProtocolError{Peer: p.addr, ErrorCode: code, Reason: reason}
	p.logger.Err("%s", err)
	p.sendNotification(code, reason)
	p.down(code.Error())
}

// down releases every resource of the session and withdraws the routes learned from the peer.
func (p *peer) down(reason string) {
	r := p.router
	prev := p.state()
	p.fsm.Reset()
	p.openSent = false
	p.negotiatedHold = 0
	p.connRetryTimer.stop(p)
	p.holdTimer.stop(p)
	p.keepAliveTimer.stop(p)
	if prev != IDLE {
		p.stats.resets++
		p.logger.Info("Change state %s -> %s: %s", prev, IDLE, reason)
	}
	for _, path := range p.adjRibOut.Clear() {
		r.releasePath(path)
	}
	paths := r.rib.DropPeer(p.addr)
	for _, path := range paths {
		r.decide(path.prefix)
	}
	for _, path := range paths {
		r.releasePath(path)
	}
}

// timer is backed by a scheduler event. A zero interval disables it.
type timer struct {
	interval time.Duration
	id       sched.EventID
}

func newTimer(interval time.Duration) *timer {
	return &timer{interval: interval}
}

func (t *timer) start(p *peer, evt Event) {
	t.stop(p)
	if t.interval <= 0 {
		return
	}
	id, err := p.router.scheduler.Schedule(p.router.address.String(), evt, t.interval)
	if err != nil || id == 0 {
		p.logger.Warn("Failed to start timer %s: %v", evt.typ(), err)
		return
	}
	t.id = id
}

// stop cancels the pending expiry. Cancelling an expiry that already fired is a no-op.
func (t *timer) stop(p *peer) {
	if t.id == 0 {
		return
	}
	p.router.scheduler.Cancel(t.id)
	t.id = 0
}

func (t *timer) reset(interval time.Duration) {
	t.interval = interval
}
