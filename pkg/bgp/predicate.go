package bgp

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"go4.org/netipx"
)

var ErrInvalidPredicate = errors.New("invalid predicate")

// route is what a predicate inspects: a prefix with its working attributes.
type route struct {
	prefix netip.Prefix
	attrs  *Attributes
	peerAS uint32
}

// Predicate is a compiled match expression.
type Predicate interface {
	Match(r *route) bool
	String() string
}

type anyPredicate struct{}

func (anyPredicate) Match(*route) bool { return true }
func (anyPredicate) String() string    { return "any" }

type notPredicate struct {
	inner Predicate
}

func (p *notPredicate) Match(r *route) bool { return !p.inner.Match(r) }
func (p *notPredicate) String() string      { return "!(" + p.inner.String() + ")" }

type andPredicate struct {
	left, right Predicate
}

func (p *andPredicate) Match(r *route) bool { return p.left.Match(r) && p.right.Match(r) }
func (p *andPredicate) String() string {
	return "(" + p.left.String() + " & " + p.right.String() + ")"
}

type orPredicate struct {
	left, right Predicate
}

func (p *orPredicate) Match(r *route) bool { return p.left.Match(r) || p.right.Match(r) }
func (p *orPredicate) String() string {
	return "(" + p.left.String() + " | " + p.right.String() + ")"
}

type prefixIsPredicate struct {
	prefix netip.Prefix
}

func (p *prefixIsPredicate) Match(r *route) bool { return r.prefix == p.prefix }
func (p *prefixIsPredicate) String() string      { return "prefix is " + p.prefix.String() }

// prefixInPredicate matches prefixes covered by a set, optionally bounded in length.
type prefixInPredicate struct {
	set    *netipx.IPSet
	source string
	ge, le int
}

func (p *prefixInPredicate) Match(r *route) bool {
	bits := r.prefix.Bits()
	if p.ge > 0 && bits < p.ge {
		return false
	}
	if p.le > 0 && bits > p.le {
		return false
	}
	return p.set.ContainsPrefix(r.prefix)
}

func (p *prefixInPredicate) String() string {
	s := "prefix in " + p.source
	if p.ge > 0 {
		s += " ge " + strconv.Itoa(p.ge)
	}
	if p.le > 0 {
		s += " le " + strconv.Itoa(p.le)
	}
	return s
}

// pathRegexPredicate matches the textual AS path, e.g. "^65001 .* 65003$".
type pathRegexPredicate struct {
	re *regexp.Regexp
}

func (p *pathRegexPredicate) Match(r *route) bool { return p.re.MatchString(r.attrs.ASPath.String()) }
func (p *pathRegexPredicate) String() string      { return fmt.Sprintf("path %q", p.re.String()) }

type pathContainsPredicate struct {
	as uint32
}

func (p *pathContainsPredicate) Match(r *route) bool { return r.attrs.ASPath.Contains(p.as) }
func (p *pathContainsPredicate) String() string      { return fmt.Sprintf("path contains %d", p.as) }

type comparison uint8

const (
	CMP_EQ comparison = iota
	CMP_NE comparison = iota
	CMP_LT comparison = iota
	CMP_LE comparison = iota
	CMP_GT comparison = iota
	CMP_GE comparison = iota
)

var comparisons = map[string]comparison{
	"=": CMP_EQ, "==": CMP_EQ, "is": CMP_EQ, "!=": CMP_NE, "<": CMP_LT, "<=": CMP_LE, ">": CMP_GT, ">=": CMP_GE,
}

func (c comparison) String() string {
	switch c {
	case CMP_EQ:
		return "="
	case CMP_NE:
		return "!="
	case CMP_LT:
		return "<"
	case CMP_LE:
		return "<="
	case CMP_GT:
		return ">"
	default:
		return ">="
	}
}

func (c comparison) eval(a, b uint64) bool {
	switch c {
	case CMP_EQ:
		return a == b
	case CMP_NE:
		return a != b
	case CMP_LT:
		return a < b
	case CMP_LE:
		return a <= b
	case CMP_GT:
		return a > b
	default:
		return a >= b
	}
}

// numericPredicate compares one numeric field of a route with a constant.
type numericPredicate struct {
	name  string
	field func(r *route) uint64
	op    comparison
	value uint64
}

func (p *numericPredicate) Match(r *route) bool { return p.op.eval(p.field(r), p.value) }
func (p *numericPredicate) String() string {
	return fmt.Sprintf("%s %s %d", p.name, p.op, p.value)
}

type communityPredicate struct {
	community Community
}

func (p *communityPredicate) Match(r *route) bool { return r.attrs.HasCommunity(p.community) }
func (p *communityPredicate) String() string      { return "community is " + p.community.String() }

type extCommunityPredicate struct {
	community ExtendedCommunity
}

func (p *extCommunityPredicate) Match(r *route) bool { return r.attrs.HasExtCommunity(p.community) }
func (p *extCommunityPredicate) String() string {
	return "ext-community is " + p.community.String()
}

type nextHopIsPredicate struct {
	addr netip.Addr
}

func (p *nextHopIsPredicate) Match(r *route) bool { return r.attrs.NextHop == p.addr }
func (p *nextHopIsPredicate) String() string      { return "next-hop is " + p.addr.String() }

type nextHopInPredicate struct {
	prefix netip.Prefix
}

func (p *nextHopInPredicate) Match(r *route) bool { return p.prefix.Contains(r.attrs.NextHop) }
func (p *nextHopInPredicate) String() string      { return "next-hop in " + p.prefix.String() }

type originPredicate struct {
	origin Origin
}

func (p *originPredicate) Match(r *route) bool { return r.attrs.Origin == p.origin }
func (p *originPredicate) String() string      { return "origin is " + strings.ToLower(p.origin.String()) }

// CompilePredicate parses a match expression.
//
//	expr    := or
//	or      := and (("|" | "or") and)*
//	and     := unary (("&" | "and") unary)*
//	unary   := ("!" | "not") unary | "(" expr ")" | atom
//	atom    := "any" | "*"
//	         | "prefix" ("is" PREFIX | "in" (PREFIX | "{" PREFIX ("," PREFIX)* "}") ["ge" N] ["le" N])
//	         | "path" (STRING | "contains" ASN | "length" CMP N)
//	         | "community" ("is" | "has") COMMUNITY
//	         | "ext-community" ("is" | "has") EXT_COMMUNITY
//	         | "next-hop" ("is" ADDR | "in" PREFIX)
//	         | ("local-pref" | "med") CMP N
//	         | "origin" "is" ("igp" | "egp" | "incomplete")
//	         | "peer-as" CMP N
func CompilePredicate(expr string) (Predicate, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &predicateParser{tokens: tokens}
	pred, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return pred, nil
}

type tokenKind uint8

const (
	TOKEN_WORD   tokenKind = iota
	TOKEN_STRING tokenKind = iota
	TOKEN_SYMBOL tokenKind = iota
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isWordChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("./:-_*", c) >= 0
}

func tokenize(s string) ([]token, error) {
	tokens := []token{}
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '"':
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrInvalidPredicate, i)
			}
			tokens = append(tokens, token{kind: TOKEN_STRING, text: s[i+1 : i+1+end], pos: i})
			i += end + 2
		case strings.IndexByte("(){},&|", c) >= 0:
			tokens = append(tokens, token{kind: TOKEN_SYMBOL, text: string(c), pos: i})
			i++
		case strings.IndexByte("!=<>", c) >= 0:
			if i+1 < len(s) && s[i+1] == '=' {
				tokens = append(tokens, token{kind: TOKEN_SYMBOL, text: s[i : i+2], pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: TOKEN_SYMBOL, text: string(c), pos: i})
				i++
			}
		case isWordChar(c):
			start := i
			for i < len(s) && isWordChar(s[i]) {
				i++
			}
			tokens = append(tokens, token{kind: TOKEN_WORD, text: s[start:i], pos: start})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrInvalidPredicate, c, i)
		}
	}
	return tokens, nil
}

type predicateParser struct {
	tokens []token
	pos    int
}

func (p *predicateParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *predicateParser) peek() token {
	if p.done() {
		return token{kind: TOKEN_SYMBOL, text: "end of expression", pos: -1}
	}
	return p.tokens[p.pos]
}

func (p *predicateParser) next() token {
	t := p.peek()
	if !p.done() {
		p.pos++
	}
	return t
}

func (p *predicateParser) accept(texts ...string) bool {
	if p.done() {
		return false
	}
	for _, text := range texts {
		if p.tokens[p.pos].text == text && p.tokens[p.pos].kind != TOKEN_STRING {
			p.pos++
			return true
		}
	}
	return false
}

func (p *predicateParser) expect(texts ...string) error {
	if !p.accept(texts...) {
		return p.errorf("expected %s, got %q", strings.Join(texts, " or "), p.peek().text)
	}
	return nil
}

func (p *predicateParser) errorf(format string, v ...any) error {
	return fmt.Errorf("%w: token %d: %s", ErrInvalidPredicate, p.pos, fmt.Sprintf(format, v...))
}

func (p *predicateParser) parseOr() (Predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("|", "or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orPredicate{left: left, right: right}
	}
	return left, nil
}

func (p *predicateParser) parseAnd() (Predicate, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.accept("&", "and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andPredicate{left: left, right: right}
	}
	return left, nil
}

func (p *predicateParser) parseUnary() (Predicate, error) {
	if p.accept("!", "not") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notPredicate{inner: inner}, nil
	}
	if p.accept("(") {
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return p.parseAtom()
}

func (p *predicateParser) parseAtom() (Predicate, error) {
	t := p.next()
	if t.kind != TOKEN_WORD {
		return nil, p.errorf("expected a predicate, got %q", t.text)
	}
	switch t.text {
	case "any", "*", "all":
		return anyPredicate{}, nil
	case "prefix":
		return p.parsePrefix()
	case "path":
		return p.parsePath()
	case "community":
		if err := p.expect("is", "has"); err != nil {
			return nil, err
		}
		c, err := ParseCommunity(p.next().text)
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		return &communityPredicate{community: c}, nil
	case "ext-community":
		if err := p.expect("is", "has"); err != nil {
			return nil, err
		}
		c, err := ParseExtendedCommunity(p.next().text)
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		return &extCommunityPredicate{community: c}, nil
	case "next-hop":
		if p.accept("is") {
			addr, err := netip.ParseAddr(p.next().text)
			if err != nil {
				return nil, p.errorf("%s", err)
			}
			return &nextHopIsPredicate{addr: addr}, nil
		}
		if err := p.expect("in"); err != nil {
			return nil, err
		}
		prefix, err := ParsePrefix(p.next().text)
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		return &nextHopInPredicate{prefix: prefix}, nil
	case "local-pref":
		return p.parseNumeric(t.text, func(r *route) uint64 { return uint64(r.attrs.LocalPref) })
	case "med":
		return p.parseNumeric(t.text, func(r *route) uint64 { return uint64(r.attrs.MED) })
	case "peer-as":
		return p.parseNumeric(t.text, func(r *route) uint64 { return uint64(r.peerAS) })
	case "origin":
		if err := p.expect("is", "="); err != nil {
			return nil, err
		}
		origin, err := ParseOrigin(p.next().text)
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		return &originPredicate{origin: origin}, nil
	default:
		return nil, p.errorf("unknown predicate %q", t.text)
	}
}

func (p *predicateParser) parsePrefix() (Predicate, error) {
	if p.accept("is", "=") {
		prefix, err := ParsePrefix(p.next().text)
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		return &prefixIsPredicate{prefix: prefix}, nil
	}
	if err := p.expect("in"); err != nil {
		return nil, err
	}
	builder := &netipx.IPSetBuilder{}
	sources := []string{}
	if p.accept("{") {
		for {
			prefix, err := ParsePrefix(p.next().text)
			if err != nil {
				return nil, p.errorf("%s", err)
			}
			builder.AddPrefix(prefix)
			sources = append(sources, prefix.String())
			if p.accept("}") {
				break
			}
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
	} else {
		prefix, err := ParsePrefix(p.next().text)
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		builder.AddPrefix(prefix)
		sources = append(sources, prefix.String())
	}
	set, err := builder.IPSet()
	if err != nil {
		return nil, p.errorf("%s", err)
	}
	pred := &prefixInPredicate{set: set, source: "{" + strings.Join(sources, ", ") + "}"}
	if len(sources) == 1 {
		pred.source = sources[0]
	}
	for {
		switch {
		case p.accept("ge"):
			n, err := p.parseInt(128)
			if err != nil {
				return nil, err
			}
			pred.ge = int(n)
		case p.accept("le"):
			n, err := p.parseInt(128)
			if err != nil {
				return nil, err
			}
			pred.le = int(n)
		default:
			return pred, nil
		}
	}
}

func (p *predicateParser) parsePath() (Predicate, error) {
	if p.peek().kind == TOKEN_STRING {
		re, err := regexp.Compile(p.next().text)
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		return &pathRegexPredicate{re: re}, nil
	}
	if p.accept("contains") {
		n, err := p.parseInt(1<<32 - 1)
		if err != nil {
			return nil, err
		}
		return &pathContainsPredicate{as: uint32(n)}, nil
	}
	if p.accept("length") {
		return p.parseNumeric("path length", func(r *route) uint64 { return uint64(r.attrs.ASPath.Len()) })
	}
	return nil, p.errorf("expected a regular expression, contains or length after path")
}

func (p *predicateParser) parseNumeric(name string, field func(r *route) uint64) (Predicate, error) {
	t := p.next()
	op, ok := comparisons[t.text]
	if !ok || t.kind == TOKEN_STRING {
		return nil, p.errorf("expected a comparison after %s, got %q", name, t.text)
	}
	n, err := p.parseInt(1<<32 - 1)
	if err != nil {
		return nil, err
	}
	return &numericPredicate{name: name, field: field, op: op, value: n}, nil
}

func (p *predicateParser) parseInt(max uint64) (uint64, error) {
	t := p.next()
	n, err := strconv.ParseUint(t.text, 10, 64)
	if err != nil || n > max {
		return 0, p.errorf("expected a number up to %d, got %q", max, t.text)
	}
	return n, nil
}
