package bgp

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

var ErrInvalidAction = errors.New("invalid action")

type ActionKind uint8

const (
	ACTION_PERMIT            ActionKind = iota
	ACTION_DENY              ActionKind = iota
	ACTION_LOCAL_PREF        ActionKind = iota
	ACTION_MED               ActionKind = iota
	ACTION_COMMUNITY_ADD     ActionKind = iota
	ACTION_COMMUNITY_REMOVE  ActionKind = iota
	ACTION_COMMUNITY_STRIP   ActionKind = iota
	ACTION_EXT_COMMUNITY_ADD ActionKind = iota
	ACTION_AS_PATH_PREPEND   ActionKind = iota
	ACTION_NEXT_HOP          ActionKind = iota
	ACTION_NEXT_HOP_SELF     ActionKind = iota
)

type Action struct {
	Kind  ActionKind
	Value uint32
	// Count is the number of times Value is prepended.
	Count        int
	Community    Community
	ExtCommunity ExtendedCommunity
	NextHop      netip.Addr
}

func (a Action) String() string {
	switch a.Kind {
	case ACTION_PERMIT:
		return "permit"
	case ACTION_DENY:
		return "deny"
	case ACTION_LOCAL_PREF:
		return fmt.Sprintf("local-pref %d", a.Value)
	case ACTION_MED:
		return fmt.Sprintf("med %d", a.Value)
	case ACTION_COMMUNITY_ADD:
		return "community add " + a.Community.String()
	case ACTION_COMMUNITY_REMOVE:
		return "community remove " + a.Community.String()
	case ACTION_COMMUNITY_STRIP:
		return "community strip"
	case ACTION_EXT_COMMUNITY_ADD:
		return "ext-community add " + a.ExtCommunity.String()
	case ACTION_AS_PATH_PREPEND:
		if a.Count > 1 {
			return fmt.Sprintf("as-path prepend %d %d", a.Value, a.Count)
		}
		return fmt.Sprintf("as-path prepend %d", a.Value)
	case ACTION_NEXT_HOP:
		return "next-hop " + a.NextHop.String()
	case ACTION_NEXT_HOP_SELF:
		return "next-hop self"
	default:
		return "unknown"
	}
}

// ActionList is applied in order. It holds at most one permit or deny, permit by default.
type ActionList []Action

func (l ActionList) String() string {
	strs := make([]string, 0, len(l))
	for _, a := range l {
		strs = append(strs, a.String())
	}
	return strings.Join(strs, ", ")
}

func (l ActionList) permit() bool {
	for _, a := range l {
		if a.Kind == ACTION_DENY {
			return false
		}
	}
	return true
}

type policyEnv struct {
	self netip.Addr
}

func (l ActionList) apply(attrs *Attributes, env *policyEnv) {
	for _, a := range l {
		switch a.Kind {
		case ACTION_LOCAL_PREF:
			attrs.LocalPref = a.Value
		case ACTION_MED:
			attrs.MED = a.Value
		case ACTION_COMMUNITY_ADD:
			attrs.AddCommunity(a.Community)
		case ACTION_COMMUNITY_REMOVE:
			attrs.RemoveCommunity(a.Community)
		case ACTION_COMMUNITY_STRIP:
			attrs.Communities = nil
		case ACTION_EXT_COMMUNITY_ADD:
			attrs.AddExtCommunity(a.ExtCommunity)
		case ACTION_AS_PATH_PREPEND:
			attrs.ASPath = attrs.ASPath.Prepend(a.Value, a.Count)
		case ACTION_NEXT_HOP:
			attrs.NextHop = a.NextHop
		case ACTION_NEXT_HOP_SELF:
			attrs.NextHop = env.self
		}
	}
}

// ParseActions reads a comma separated action list such as
// "local-pref 200, community add 65001:10, permit".
func ParseActions(s string) (ActionList, error) {
	list := ActionList{}
	verdicts := 0
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		a, err := parseAction(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %s", ErrInvalidAction, strings.TrimSpace(part), err)
		}
		if a.Kind == ACTION_PERMIT || a.Kind == ACTION_DENY {
			verdicts++
		}
		list = append(list, a)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: empty action list", ErrInvalidAction)
	}
	if verdicts > 1 {
		return nil, fmt.Errorf("%w: %q: more than one permit or deny", ErrInvalidAction, strings.TrimSpace(s))
	}
	return list, nil
}

const MAX_PREPEND_COUNT int = 32

// parseAction reads one action. Trailing fields are an error.
func parseAction(fields []string) (Action, error) {
	a, used, err := parseActionFields(fields)
	if err != nil {
		return Action{}, err
	}
	if len(fields) > used {
		return Action{}, fmt.Errorf("unexpected %q", strings.Join(fields[used:], " "))
	}
	return a, nil
}

// parseActionFields returns the action and the number of fields it consumed.
func parseActionFields(fields []string) (Action, int, error) {
	arg := func(i int) (string, error) {
		if len(fields) <= i {
			return "", fmt.Errorf("missing argument")
		}
		return fields[i], nil
	}
	number := func(i int) (uint32, error) {
		s, err := arg(i)
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, err
		}
		return uint32(n), nil
	}
	switch fields[0] {
	case "permit", "accept":
		return Action{Kind: ACTION_PERMIT}, 1, nil
	case "deny", "reject":
		return Action{Kind: ACTION_DENY}, 1, nil
	case "local-pref":
		n, err := number(1)
		return Action{Kind: ACTION_LOCAL_PREF, Value: n}, 2, err
	case "med":
		n, err := number(1)
		return Action{Kind: ACTION_MED, Value: n}, 2, err
	case "community":
		op, err := arg(1)
		if err != nil {
			return Action{}, 0, err
		}
		if op == "strip" {
			return Action{Kind: ACTION_COMMUNITY_STRIP}, 2, nil
		}
		s, err := arg(2)
		if err != nil {
			return Action{}, 0, err
		}
		c, err := ParseCommunity(s)
		if err != nil {
			return Action{}, 0, err
		}
		switch op {
		case "add":
			return Action{Kind: ACTION_COMMUNITY_ADD, Community: c}, 3, nil
		case "remove":
			return Action{Kind: ACTION_COMMUNITY_REMOVE, Community: c}, 3, nil
		}
		return Action{}, 0, fmt.Errorf("unknown community operation %q", op)
	case "ext-community":
		if op, err := arg(1); err != nil || op != "add" {
			return Action{}, 0, fmt.Errorf("expected ext-community add")
		}
		s, err := arg(2)
		if err != nil {
			return Action{}, 0, err
		}
		c, err := ParseExtendedCommunity(s)
		return Action{Kind: ACTION_EXT_COMMUNITY_ADD, ExtCommunity: c}, 3, err
	case "as-path":
		if op, err := arg(1); err != nil || op != "prepend" {
			return Action{}, 0, fmt.Errorf("expected as-path prepend")
		}
		as, err := number(2)
		if err != nil {
			return Action{}, 0, err
		}
		if as == 0 {
			return Action{}, 0, fmt.Errorf("AS number must not be 0")
		}
		if len(fields) == 3 {
			return Action{Kind: ACTION_AS_PATH_PREPEND, Value: as, Count: 1}, 3, nil
		}
		count, err := number(3)
		if err != nil {
			return Action{}, 0, err
		}
		if count == 0 || int(count) > MAX_PREPEND_COUNT {
			return Action{}, 0, fmt.Errorf("prepend count must be between 1 and %d", MAX_PREPEND_COUNT)
		}
		return Action{Kind: ACTION_AS_PATH_PREPEND, Value: as, Count: int(count)}, 4, nil
	case "next-hop":
		s, err := arg(1)
		if err != nil {
			return Action{}, 0, err
		}
		if s == "self" {
			return Action{Kind: ACTION_NEXT_HOP_SELF}, 2, nil
		}
		addr, err := netip.ParseAddr(s)
		return Action{Kind: ACTION_NEXT_HOP, NextHop: addr}, 2, err
	default:
		return Action{}, 0, fmt.Errorf("unknown action")
	}
}
