package bgp

import (
	"fmt"
	"net/netip"
	"sort"
)

// ParsePrefix parses a CIDR prefix. Host bits must be zero.
func ParsePrefix(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %s", ErrInvalidPrefix, err)
	}
	if p != p.Masked() {
		return netip.Prefix{}, fmt.Errorf("%w: %s has host bits set", ErrInvalidPrefix, s)
	}
	return p, nil
}

func MustParsePrefix(s string) netip.Prefix {
	p, err := ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

func ComparePrefix(a, b netip.Prefix) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	return a.Bits() - b.Bits()
}

func SortPrefixes(prefixes []netip.Prefix) {
	sort.Slice(prefixes, func(i, j int) bool {
		return ComparePrefix(prefixes[i], prefixes[j]) < 0
	})
}
