package bgp

import (
	"fmt"
	"net/netip"
	"time"
)

var (
	ErrOpenInvalidPeerAS        *ErrorCode = &ErrorCode{Code: OPEN_MESSAGE_ERROR, Subcode: BAD_PEER_AS}
	ErrOpenBadIdentifier        *ErrorCode = &ErrorCode{Code: OPEN_MESSAGE_ERROR, Subcode: BAD_BGP_IDENTIFIER}
	ErrOpenUnacceptableHoldTime *ErrorCode = &ErrorCode{Code: OPEN_MESSAGE_ERROR, Subcode: UNACCEPTABLE_HOLD_TIME}

	ErrUpdateMalformedAttributeList    *ErrorCode = &ErrorCode{Code: UPDATE_MESSAGE_ERROR, Subcode: MALFORMED_ATTRIBUTE_LIST}
	ErrUpdateMissingWellKnownAttribute *ErrorCode = &ErrorCode{Code: UPDATE_MESSAGE_ERROR, Subcode: MISSING_WELL_KNOWN_ATTRIBUTE}
	ErrUpdateInvalidOriginAttribute    *ErrorCode = &ErrorCode{Code: UPDATE_MESSAGE_ERROR, Subcode: INVALID_ORIGIN_ATTRIBUTE}
	ErrUpdateInvalidNextHopAttribute   *ErrorCode = &ErrorCode{Code: UPDATE_MESSAGE_ERROR, Subcode: INVALID_NEXT_HOP_ATTRIBUTE}
	ErrUpdateMalformedASPath           *ErrorCode = &ErrorCode{Code: UPDATE_MESSAGE_ERROR, Subcode: MALFORMED_AS_PATH}
	ErrUpdateASRoutingLoop             *ErrorCode = &ErrorCode{Code: UPDATE_MESSAGE_ERROR, Subcode: AS_ROUTING_LOOP}
	ErrUpdateInvalidNetworkField       *ErrorCode = &ErrorCode{Code: UPDATE_MESSAGE_ERROR, Subcode: INVALID_NETWORK_FIELD}

	ErrHoldTimerExpired        *ErrorCode = &ErrorCode{Code: HOLD_TIMER_EXPIRED, Subcode: 0}
	ErrFiniteStateMachineError *ErrorCode = &ErrorCode{Code: FINITE_STATE_MACHINE_ERROR, Subcode: 0}
	ErrCease                   *ErrorCode = &ErrorCode{Code: CEASE, Subcode: 0}
)

type MessageType uint8

const (
	OPEN         MessageType = 1
	UPDATE       MessageType = 2
	NOTIFICATION MessageType = 3
	KEEPALIVE    MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case OPEN:
		return "OPEN"
	case UPDATE:
		return "UPDATE"
	case NOTIFICATION:
		return "NOTIFICATION"
	case KEEPALIVE:
		return "KEEPALIVE"
	default:
		return "Unknown"
	}
}

// Messages are exchanged between simulated routers as values, never encoded.
type Message interface {
	Type() MessageType
}

type Open struct {
	AS         uint32
	HoldTime   time.Duration
	Identifier netip.Addr
}

// Update carries at most one attribute set shared by every announced prefix.
// The message holds a reference on Attrs until the receiver processed it.
type Update struct {
	WithdrawnRoutes []netip.Prefix
	Attrs           *Attrs
	NLRI            []netip.Prefix
}

type Notification struct {
	ErrorCode *ErrorCode
	Reason    string
}

type KeepAlive struct{}

func (*Open) Type() MessageType {
	return OPEN
}

func (*Update) Type() MessageType {
	return UPDATE
}

func (*Notification) Type() MessageType {
	return NOTIFICATION
}

func (*KeepAlive) Type() MessageType {
	return KEEPALIVE
}

func (u *Update) String() string {
	return fmt.Sprintf("UPDATE withdrawn=%v nlri=%v attrs={%s}", u.WithdrawnRoutes, u.NLRI, u.Attrs)
}

// Validate checks the well-formedness a receiver requires before touching its RIB.
func (u *Update) Validate() error {
	if len(u.NLRI) > 0 && u.Attrs == nil {
		return ErrUpdateMissingWellKnownAttribute
	}
	for _, p := range u.WithdrawnRoutes {
		if !p.IsValid() || p != p.Masked() {
			return ErrUpdateInvalidNetworkField
		}
	}
	for _, p := range u.NLRI {
		if !p.IsValid() || p != p.Masked() {
			return ErrUpdateInvalidNetworkField
		}
	}
	if u.Attrs == nil {
		return nil
	}
	if u.Attrs.Origin() > ORIGIN_INCOMPLETE {
		return ErrUpdateInvalidOriginAttribute
	}
	if !u.Attrs.NextHop().IsValid() {
		return ErrUpdateInvalidNextHopAttribute
	}
	for _, seg := range u.Attrs.ASPath().Segments {
		if seg.Type != SEG_TYPE_AS_SET && seg.Type != SEG_TYPE_AS_SEQUENCE {
			return ErrUpdateMalformedASPath
		}
		if len(seg.ASNs) == 0 {
			return ErrUpdateMalformedASPath
		}
	}
	return nil
}

type ErrorCode struct {
	Code    uint8
	Subcode uint8
}

const (
	MESSAGE_HEADER_ERROR       uint8 = 1
	OPEN_MESSAGE_ERROR         uint8 = 2
	UPDATE_MESSAGE_ERROR       uint8 = 3
	HOLD_TIMER_EXPIRED         uint8 = 4
	FINITE_STATE_MACHINE_ERROR uint8 = 5
	CEASE                      uint8 = 6
)

const (
	UNKNOWN_SUBCODE uint8 = 0
	// OPEN Message Error subcodes
	UNSUPPORTED_VERSION_NUMBER uint8 = 1
	BAD_PEER_AS                uint8 = 2
	BAD_BGP_IDENTIFIER         uint8 = 3
	UNACCEPTABLE_HOLD_TIME     uint8 = 6
	// UPDATE Message Error subcodes
	MALFORMED_ATTRIBUTE_LIST     uint8 = 1
	MISSING_WELL_KNOWN_ATTRIBUTE uint8 = 3
	INVALID_ORIGIN_ATTRIBUTE     uint8 = 6
	AS_ROUTING_LOOP              uint8 = 7
	INVALID_NEXT_HOP_ATTRIBUTE   uint8 = 8
	INVALID_NETWORK_FIELD        uint8 = 10
	MALFORMED_AS_PATH            uint8 = 11
)

func (e *ErrorCode) Error() string {
	switch e.Code {
	case MESSAGE_HEADER_ERROR:
		return "Message Header Error"
	case OPEN_MESSAGE_ERROR:
		switch e.Subcode {
		case BAD_PEER_AS:
			return "OPEN Message Error(Bad Peer AS)"
		case BAD_BGP_IDENTIFIER:
			return "OPEN Message Error(Bad BGP Identifier)"
		case UNACCEPTABLE_HOLD_TIME:
			return "OPEN Message Error(Unacceptable Hold Time)"
		default:
			return "OPEN Message Error"
		}
	case UPDATE_MESSAGE_ERROR:
		switch e.Subcode {
		case MALFORMED_ATTRIBUTE_LIST:
			return "UPDATE Message Error(Malformed Attribute List)"
		case MISSING_WELL_KNOWN_ATTRIBUTE:
			return "UPDATE Message Error(Missing Well-known Attribute)"
		case INVALID_ORIGIN_ATTRIBUTE:
			return "UPDATE Message Error(Invalid ORIGIN Attribute)"
		case AS_ROUTING_LOOP:
			return "UPDATE Message Error(AS Routing Loop)"
		case INVALID_NEXT_HOP_ATTRIBUTE:
			return "UPDATE Message Error(Invalid NEXT_HOP Attribute)"
		case INVALID_NETWORK_FIELD:
			return "UPDATE Message Error(Invalid Network Field)"
		case MALFORMED_AS_PATH:
			return "UPDATE Message Error(Malformed AS_PATH)"
		default:
			return "UPDATE Message Error"
		}
	case HOLD_TIMER_EXPIRED:
		return "Hold Timer Expired"
	case FINITE_STATE_MACHINE_ERROR:
		return "Finite State Machine Error"
	case CEASE:
		return "Cease"
	default:
		return "Unknown Error"
	}
}
