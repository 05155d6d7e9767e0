package bgp

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrPeerAlreadyRegistered = errors.New("peer is already registered")
	ErrPeerNotFound          = errors.New("peer is not found")
	ErrInvalidEventType      = errors.New("invalid event type")
	ErrDecisionExhausted     = errors.New("decision process exhausted without a single winner")
	ErrDoubleRelease         = errors.New("release of unreferenced attributes")
	ErrInvalidASPath         = errors.New("invalid AS path")
	ErrInvalidCommunity      = errors.New("invalid community")
	ErrInvalidPrefix         = errors.New("invalid prefix")
)

// ConfigError reports invalid configuration. It is returned before any state is modified.
type ConfigError struct {
	Object string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Object, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(object string, format string, v ...any) *ConfigError {
	return &ConfigError{Object: object, Err: fmt.Errorf(format, v...)}
}

// ProtocolError is raised by a peer that violates the protocol.
// The session to that peer is reset.
type ProtocolError struct {
	Peer      netip.Addr
	ErrorCode *ErrorCode
	Reason    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation from %s: %s: %s", e.Peer, e.ErrorCode.Error(), e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.ErrorCode
}
