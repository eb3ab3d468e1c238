// Package priority defines the named ordering tiers shared by registries,
// hook chains and pipeline steps. Lower values run first; any integer is a
// valid order, the tiers are only well-known anchors.
package priority

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	Highest = -1000
	High    = -500
	Neutral = 0
	Low     = 500
	Lowest  = 1000
)

var tiers = map[string]int{
	"highest": Highest,
	"high":    High,
	"neutral": Neutral,
	"low":     Low,
	"lowest":  Lowest,
}

// Lookup returns the value of the named tier (case-insensitive).
func Lookup(name string) (int, bool) {
	v, ok := tiers[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

// Parse accepts either a tier name or an integer literal.
func Parse(s string) (int, error) {
	if v, ok := Lookup(s); ok {
		return v, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("priority %q: not a tier name or integer", s)
	}
	return n, nil
}

// Name returns the tier name for n, or its decimal form when n is not a tier.
func Name(n int) string {
	for name, v := range tiers {
		if v == n {
			return name
		}
	}
	return strconv.Itoa(n)
}

// Tiers returns a copy of the tier table.
func Tiers() map[string]int {
	out := make(map[string]int, len(tiers))
	for k, v := range tiers {
		out[k] = v
	}
	return out
}
