package bgp

import (
	"fmt"
	"net/netip"
	"time"
)

const (
	DEFAULT_MESSAGE_DELAY time.Duration = time.Millisecond
	MINIMUM_HOLD_TIME     time.Duration = 3 * time.Second
)

// LoopPolicy decides what happens to an update whose AS path contains the local AS.
// The zero value resets the session.
type LoopPolicy uint8

const (
	LOOP_RESET   LoopPolicy = iota
	LOOP_DISCARD LoopPolicy = iota
)

func (l LoopPolicy) String() string {
	switch l {
	case LOOP_DISCARD:
		return "discard"
	case LOOP_RESET:
		return "reset"
	default:
		return "unknown"
	}
}

func ParseLoopPolicy(s string) (LoopPolicy, error) {
	switch s {
	case "", "reset":
		return LOOP_RESET, nil
	case "discard":
		return LOOP_DISCARD, nil
	default:
		return LOOP_RESET, fmt.Errorf("unknown as-loop policy %q", s)
	}
}

type RouterConfig struct {
	Address netip.Addr
	AS      uint32
	// ClusterID defaults to Address.
	ClusterID netip.Addr
	// LocalPref is assigned to routes learned over EBGP and to local routes. Zero means DEFAULT_LOCAL_PREF.
	LocalPref uint32
	ASLoop    LoopPolicy
	Decision  *DecisionConfig
}

func (c *RouterConfig) Validate() error {
	object := fmt.Sprintf("router %s", c.Address)
	if !c.Address.IsValid() {
		return configError("router", "address is required")
	}
	if c.AS == 0 {
		return configError(object, "AS number is required")
	}
	if c.ASLoop > LOOP_DISCARD {
		return configError(object, "invalid as-loop policy %d", c.ASLoop)
	}
	if c.Decision != nil {
		if err := c.Decision.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type PeerConfig struct {
	Address     netip.Addr
	AS          uint32
	Import      *Filter
	Export      *Filter
	RRClient    bool
	NextHopSelf bool
	// HoldTime zero disables the hold and keepalive timers.
	HoldTime     time.Duration
	ConnectRetry time.Duration
	// Delay is the transit time of every message sent to the peer.
	Delay time.Duration
}

func (c *PeerConfig) Validate(local *RouterConfig) error {
	object := fmt.Sprintf("router %s peer %s", local.Address, c.Address)
	if !c.Address.IsValid() {
		return configError(fmt.Sprintf("router %s peer", local.Address), "address is required")
	}
	if c.Address == local.Address {
		return configError(object, "a router cannot peer with itself")
	}
	if c.AS == 0 {
		return configError(object, "AS number is required")
	}
	if c.HoldTime != 0 && c.HoldTime < MINIMUM_HOLD_TIME {
		return configError(object, "hold time must be 0 or at least %s", MINIMUM_HOLD_TIME)
	}
	if c.ConnectRetry < 0 || c.Delay < 0 {
		return configError(object, "negative timer")
	}
	if c.RRClient && c.AS != local.AS {
		return configError(object, "route reflector clients must be IBGP peers")
	}
	return nil
}
