package experiment

import "strings"

const segmentSep = "\x1f"

// Segment is the tuple of segment values for an ordered list of segment keys.
type Segment []string

// Key is a stable map key for the tuple.
func (s Segment) Key() string {
	return strings.Join(s, segmentSep)
}

// String renders the tuple for humans, e.g. "IN/Mobile/New".
func (s Segment) String() string {
	return strings.Join(s, "/")
}

// Labels pairs each value with its key.
func (s Segment) Labels(keys []string) map[string]string {
	labels := make(map[string]string, len(keys))
	for i, k := range keys {
		if i < len(s) {
			labels[k] = s[i]
		}
	}
	return labels
}

// Equal reports whether both tuples hold the same values in order.
func (s Segment) Equal(o Segment) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// ParseSegmentKey reverses Key.
func ParseSegmentKey(key string) Segment {
	return Segment(strings.Split(key, segmentSep))
}
