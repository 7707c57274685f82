package session

import (
	"errors"
	"fmt"
	"strings"
)

// Filter validation errors.
var (
	ErrEmptyFilter   = errors.New("session: empty topic filter")
	ErrInvalidFilter = errors.New("session: invalid topic filter")
)

// ValidateFilter checks a topic filter against the wildcard rules: `+`
// occupies a whole segment, `#` occupies the whole final segment, and
// neither may appear inside a literal.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrEmptyFilter
	}
	segments := strings.Split(filter, "/")
	for i, seg := range segments {
		switch {
		case seg == "#":
			if i != len(segments)-1 {
				return fmt.Errorf("%w: %q: # must be the final segment", ErrInvalidFilter, filter)
			}
		case seg == "+":
			// Single-level wildcard is valid in any position.
		case strings.ContainsAny(seg, "+#"):
			return fmt.Errorf("%w: %q: wildcard inside literal segment", ErrInvalidFilter, filter)
		}
	}
	return nil
}

// MatchFilter reports whether a concrete topic matches a topic filter,
// using segment-wise comparison: a literal matches only itself, `+` matches
// exactly one segment, and a trailing `#` matches all remaining segments
// including none.
func MatchFilter(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, seg := range fs {
		if seg == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if seg != "+" && seg != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// registry tracks the active topic filter subscriptions. It is owned by
// the session core and mutated only from the event-draining step, so it
// needs no locking of its own. Filters are kept in insertion order for
// stable snapshots.
type registry struct {
	subs []Subscription
}

// add registers or updates a filter. It reports whether the filter is new
// and whether its QoS changed; a wire-level re-subscribe is only needed
// when one of the two is true.
func (r *registry) add(filter string, qos byte) (isNew, changed bool) {
	for i := range r.subs {
		if r.subs[i].Filter == filter {
			if r.subs[i].QoS == qos {
				return false, false
			}
			r.subs[i].QoS = qos
			return false, true
		}
	}
	r.subs = append(r.subs, Subscription{Filter: filter, QoS: qos})
	return true, false
}

// remove drops a filter. Removing an absent filter is a no-op.
func (r *registry) remove(filter string) bool {
	for i := range r.subs {
		if r.subs[i].Filter == filter {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// match returns every stored filter matching the concrete topic. A linear
// scan is fine at interactive subscription counts; a trie would be an
// optimization, not a requirement.
func (r *registry) match(topic string) []Subscription {
	var out []Subscription
	for _, s := range r.subs {
		if MatchFilter(s.Filter, topic) {
			out = append(out, s)
		}
	}
	return out
}

// effectiveQoS returns the maximum QoS among matches, the delivery QoS the
// protocol convention assigns when several overlapping filters match.
func effectiveQoS(matches []Subscription) byte {
	var qos byte
	for _, m := range matches {
		if m.QoS > qos {
			qos = m.QoS
		}
	}
	return qos
}

// list returns a copy of the active subscriptions in insertion order.
func (r *registry) list() []Subscription {
	out := make([]Subscription, len(r.subs))
	copy(out, r.subs)
	return out
}
