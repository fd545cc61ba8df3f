// Hierarchical capability tokens.
//
// A token is a dot-separated path such as "limits.add". Grants are prefix-hierarchical: "limits"
// and "limits.*" both satisfy a request for "limits.add". The bare wildcard "*" and "global.*"
// grant everything. A leading "~" marks an explicit deny.
//
// When several entries of a set match a request, the most specific one (the most literal
// segments) decides; a deny beats a grant of equal specificity. The order of entries in a set
// never affects the outcome. Layering (role grants under member overrides) is expressed with Merge.
package perms

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	DenyPrefix = "~"
	Wildcard   = "*"
	GlobalNS   = "global"
)

var ErrInvalidToken = errors.New("invalid capability token")

// Entry is one parsed member of a capability set.
type Entry struct {
	Deny     bool
	Segments []string
	// trailing ".*" (or bare "*") was present
	Wildcard bool
}

// Target is the token with any deny marker stripped; two entries with the same target replace
// each other during Merge.
func (e Entry) Target() string {
	if len(e.Segments) == 0 {
		return Wildcard
	}
	s := strings.Join(e.Segments, ".")
	if e.Wildcard {
		s += "." + Wildcard
	}
	return s
}

func (e Entry) String() string {
	if e.Deny {
		return DenyPrefix + e.Target()
	}
	return e.Target()
}

// Specificity is the number of literal segments.
func (e Entry) Specificity() int {
	return len(e.Segments)
}

func (e Entry) matches(req []string) bool {
	if len(e.Segments) > len(req) {
		return false
	}
	for i, s := range e.Segments {
		if req[i] != s {
			return false
		}
	}
	return true
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// ParseEntry parses one grant or deny entry.
func ParseEntry(raw string) (Entry, error) {
	var e Entry
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, DenyPrefix) {
		e.Deny = true
		s = s[len(DenyPrefix):]
	}
	if s == "" {
		return e, fmt.Errorf("%w: %q", ErrInvalidToken, raw)
	}
	if s == Wildcard {
		e.Wildcard = true
		return e, nil
	}
	parts := strings.Split(s, ".")
	if parts[len(parts)-1] == Wildcard {
		e.Wildcard = true
		parts = parts[:len(parts)-1]
	}
	for _, p := range parts {
		if !validSegment(p) {
			return e, fmt.Errorf("%w: %q", ErrInvalidToken, raw)
		}
	}
	// "global.*" is an alias for the bare wildcard
	if e.Wildcard && len(parts) == 1 && parts[0] == GlobalNS {
		parts = nil
	}
	e.Segments = parts
	return e, nil
}

// ParseCapability parses a requested capability, which must be a plain literal token.
func ParseCapability(raw string) ([]string, error) {
	if raw == "" || strings.HasPrefix(raw, DenyPrefix) || strings.Contains(raw, Wildcard) {
		return nil, fmt.Errorf("%w: %q is not a literal capability", ErrInvalidToken, raw)
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if !validSegment(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidToken, raw)
		}
	}
	return parts, nil
}

// Has reports whether the set grants the requested capability. Unparseable set entries are
// ignored; an unparseable request is never granted.
func Has(set []string, capability string) bool {
	req, err := ParseCapability(capability)
	if err != nil {
		return false
	}
	best := -1
	granted := false
	for _, raw := range set {
		e, err := ParseEntry(raw)
		if err != nil || !e.matches(req) {
			continue
		}
		sp := e.Specificity()
		switch {
		case sp > best:
			best = sp
			granted = !e.Deny
		case sp == best && e.Deny:
			granted = false
		}
	}
	return granted
}

// Merge layers the given sets in order: an entry in a later layer replaces any entry with the
// same target from earlier layers. The result is sorted and deduplicated.
func Merge(layers ...[]string) []string {
	byTarget := make(map[string]Entry)
	for _, layer := range layers {
		for _, raw := range layer {
			e, err := ParseEntry(raw)
			if err != nil {
				continue
			}
			byTarget[e.Target()] = e
		}
	}
	out := make([]string, 0, len(byTarget))
	for _, e := range byTarget {
		out = append(out, e.String())
	}
	sort.Strings(out)
	return out
}

// Fit restricts a custom set to what the real set could itself grant. Denies are always kept,
// grants only when the real set grants the same target.
func Fit(custom, held []string) []string {
	var out []string
	for _, raw := range custom {
		e, err := ParseEntry(raw)
		if err != nil {
			continue
		}
		if e.Deny {
			out = append(out, e.String())
			continue
		}
		if e.Wildcard || len(e.Segments) == 0 {
			// wildcards must be held verbatim (or by a broader wildcard)
			if coversWildcard(held, e) {
				out = append(out, e.String())
			}
			continue
		}
		if Has(held, strings.Join(e.Segments, ".")) {
			out = append(out, e.String())
		}
	}
	return out
}

func coversWildcard(held []string, want Entry) bool {
	for _, raw := range held {
		e, err := ParseEntry(raw)
		if err != nil || e.Deny {
			continue
		}
		if (e.Wildcard || len(e.Segments) > 0) && e.matches(want.Segments) {
			return true
		}
	}
	return false
}
