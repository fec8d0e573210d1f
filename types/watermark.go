package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Watermark records, per origin node, the highest counter known to be
// applied. Watermarks only ever move forward: Observe ignores anything at or
// below the recorded counter.
type Watermark map[NodeID]int64

func NewWatermark() Watermark {
	return make(Watermark)
}

// Get returns the recorded counter for origin, 0 when unknown.
func (w Watermark) Get(origin NodeID) int64 {
	return w[origin]
}

// Observe raises the counter for origin. Returns true if the watermark
// advanced.
func (w Watermark) Observe(origin NodeID, counter int64) bool {
	if counter <= w[origin] {
		return false
	}
	w[origin] = counter
	return true
}

// Covers reports whether the watermark already accounts for v.
func (w Watermark) Covers(v Version) bool {
	return w[v.Origin] >= v.Counter
}

// CoversAll reports whether every counter in other is covered by w.
func (w Watermark) CoversAll(other Watermark) bool {
	for origin, counter := range other {
		if w[origin] < counter {
			return false
		}
	}
	return true
}

// Merge raises w to the pointwise maximum of w and other.
func (w Watermark) Merge(other Watermark) {
	for origin, counter := range other {
		w.Observe(origin, counter)
	}
}

func (w Watermark) Copy() Watermark {
	cp := make(Watermark, len(w))
	for origin, counter := range w {
		cp[origin] = counter
	}
	return cp
}

// MarshalJSON serializes with plain string keys. Reflection-based decoders
// cannot set keys of a named string type, so the wire form never carries
// NodeID keys.
func (w Watermark) MarshalJSON() ([]byte, error) {
	m := make(map[string]int64, len(w))
	for origin, counter := range w {
		m[string(origin)] = counter
	}
	return json.Marshal(m)
}

func (w *Watermark) UnmarshalJSON(raw []byte) error {
	var m map[string]int64
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*w = make(Watermark, len(m))
	for origin, counter := range m {
		(*w)[NodeID(origin)] = counter
	}
	return nil
}

func (w Watermark) String() string {
	origins := make([]string, 0, len(w))
	for origin := range w {
		origins = append(origins, string(origin))
	}
	sort.Strings(origins)

	parts := make([]string, 0, len(origins))
	for _, origin := range origins {
		parts = append(parts, fmt.Sprintf("%s:%d", origin, w[NodeID(origin)]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
