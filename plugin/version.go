package plugin

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Canonical returns v in the "vMAJOR.MINOR.PATCH" form expected by
// golang.org/x/mod/semver, adding the leading "v" when missing. It returns
// "" for invalid versions.
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// Satisfies reports whether version matches constraint. A constraint is a
// list of comparisons separated by spaces or commas, all of which must hold:
// ">=5.0.0 <6", ">5.0.0", "=1.2.3", "^2.1.0" (same major, not lower),
// "~2.1.0" (same major.minor, not lower). An empty constraint matches
// everything.
func Satisfies(version, constraint string) (bool, error) {
	v := Canonical(version)
	if v == "" {
		return false, fmt.Errorf("invalid version %q", version)
	}
	fields := strings.FieldsFunc(constraint, func(r rune) bool { return r == ' ' || r == ',' })
	for _, f := range fields {
		ok, err := satisfiesOne(v, f)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func satisfiesOne(v, c string) (bool, error) {
	op := ""
	for _, prefix := range []string{">=", "<=", ">", "<", "=", "^", "~"} {
		if strings.HasPrefix(c, prefix) {
			op = prefix
			break
		}
	}
	want := Canonical(strings.TrimPrefix(c, op))
	if want == "" {
		return false, fmt.Errorf("invalid constraint %q", c)
	}
	cmp := semver.Compare(v, want)
	switch op {
	case ">=":
		return cmp >= 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case "<":
		return cmp < 0, nil
	case "^":
		return cmp >= 0 && semver.Major(v) == semver.Major(want), nil
	case "~":
		return cmp >= 0 && semver.MajorMinor(v) == semver.MajorMinor(want), nil
	default:
		return cmp == 0, nil
	}
}
