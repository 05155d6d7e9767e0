package bgp

import (
	"fmt"
	"net/netip"
)

type Rule struct {
	Match   Predicate
	Actions ActionList
}

func (r *Rule) String() string {
	return fmt.Sprintf("match %s then %s", r.Match, r.Actions)
}

// Filter is an ordered rule list. The first rule whose predicate matches decides;
// when none matches the default actions apply.
type Filter struct {
	Name    string
	Rules   []*Rule
	Default ActionList
}

type RuleConfig struct {
	Match  string
	Action string
}

// NewFilter compiles every rule. An unset default denies.
func NewFilter(name string, rules []RuleConfig, def string) (*Filter, error) {
	f := &Filter{
		Name:    name,
		Rules:   make([]*Rule, 0, len(rules)),
		Default: ActionList{{Kind: ACTION_DENY}},
	}
	for i, rc := range rules {
		pred, err := CompilePredicate(rc.Match)
		if err != nil {
			return nil, &ConfigError{Object: fmt.Sprintf("filter %s rule %d", name, i), Err: err}
		}
		actions, err := ParseActions(rc.Action)
		if err != nil {
			return nil, &ConfigError{Object: fmt.Sprintf("filter %s rule %d", name, i), Err: err}
		}
		f.Rules = append(f.Rules, &Rule{Match: pred, Actions: actions})
	}
	if def != "" {
		actions, err := ParseActions(def)
		if err != nil {
			return nil, &ConfigError{Object: fmt.Sprintf("filter %s default", name), Err: err}
		}
		f.Default = actions
	}
	return f, nil
}

// Evaluate returns the actions of the first matching rule and its index, or the default and -1.
func (f *Filter) Evaluate(prefix netip.Prefix, attrs *Attributes, peerAS uint32) (ActionList, int) {
	r := &route{prefix: prefix, attrs: attrs, peerAS: peerAS}
	for i, rule := range f.Rules {
		if rule.Match.Match(r) {
			return rule.Actions, i
		}
	}
	return f.Default, -1
}

// apply runs the filter on a working copy of attributes and reports whether the route is accepted.
// A nil filter accepts everything unchanged.
func (f *Filter) apply(prefix netip.Prefix, attrs *Attributes, peerAS uint32, env *policyEnv) bool {
	if f == nil {
		return true
	}
	actions, _ := f.Evaluate(prefix, attrs, peerAS)
	if !actions.permit() {
		return false
	}
	actions.apply(attrs, env)
	return true
}
