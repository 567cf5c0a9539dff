package entities

import (
	"encoding/json"
	"fmt"
)

// OrderedSegments is an insertion-ordered map of transcript segments keyed by
// segment ID. Iteration order is chronological; re-setting an existing key
// replaces the value in place without moving it.
type OrderedSegments struct {
	ids  []string
	byID map[string]TranscriptSegment
}

// NewOrderedSegments creates an ordered segment map from segments in order
func NewOrderedSegments(segments ...TranscriptSegment) *OrderedSegments {
	o := &OrderedSegments{byID: make(map[string]TranscriptSegment, len(segments))}
	for _, seg := range segments {
		o.Set(seg)
	}
	return o
}

// Len returns the number of segments
func (o *OrderedSegments) Len() int {
	if o == nil {
		return 0
	}
	return len(o.ids)
}

// Set inserts or replaces a segment. It returns the segment's position and
// whether the segment was newly appended.
func (o *OrderedSegments) Set(seg TranscriptSegment) (int, bool) {
	if o.byID == nil {
		o.byID = make(map[string]TranscriptSegment)
	}
	if _, exists := o.byID[seg.ID]; exists {
		o.byID[seg.ID] = seg
		return o.Index(seg.ID), false
	}
	o.ids = append(o.ids, seg.ID)
	o.byID[seg.ID] = seg
	return len(o.ids) - 1, true
}

// Get returns the segment stored under id
func (o *OrderedSegments) Get(id string) (TranscriptSegment, bool) {
	if o == nil {
		return TranscriptSegment{}, false
	}
	seg, ok := o.byID[id]
	return seg, ok
}

// Index returns the insertion position of id, or -1
func (o *OrderedSegments) Index(id string) int {
	if o == nil {
		return -1
	}
	for i, existing := range o.ids {
		if existing == id {
			return i
		}
	}
	return -1
}

// Keys returns segment IDs in insertion order
func (o *OrderedSegments) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, len(o.ids))
	copy(keys, o.ids)
	return keys
}

// Values returns segments in insertion order
func (o *OrderedSegments) Values() []TranscriptSegment {
	if o == nil {
		return nil
	}
	values := make([]TranscriptSegment, 0, len(o.ids))
	for _, id := range o.ids {
		values = append(values, o.byID[id])
	}
	return values
}

// Clone returns an independent copy
func (o *OrderedSegments) Clone() *OrderedSegments {
	if o == nil {
		return NewOrderedSegments()
	}
	clone := &OrderedSegments{
		ids:  make([]string, len(o.ids)),
		byID: make(map[string]TranscriptSegment, len(o.byID)),
	}
	copy(clone.ids, o.ids)
	for id, seg := range o.byID {
		clone.byID[id] = seg
	}
	return clone
}

// MarshalJSON encodes the map as an ordered list of [id, segment] pairs
func (o *OrderedSegments) MarshalJSON() ([]byte, error) {
	entries := make([][2]any, 0, o.Len())
	if o != nil {
		for _, id := range o.ids {
			entries = append(entries, [2]any{id, o.byID[id]})
		}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON accepts the [id, segment] pair list written by MarshalJSON
func (o *OrderedSegments) UnmarshalJSON(data []byte) error {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("transcript segments must be a list of entries: %w", err)
	}

	o.ids = make([]string, 0, len(entries))
	o.byID = make(map[string]TranscriptSegment, len(entries))

	for i, raw := range entries {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return fmt.Errorf("transcript segment entry %d is not an [id, segment] pair", i)
		}
		var id string
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return fmt.Errorf("transcript segment entry %d has a non-string key: %w", i, err)
		}
		var seg TranscriptSegment
		if err := json.Unmarshal(pair[1], &seg); err != nil {
			return fmt.Errorf("transcript segment entry %d: %w", i, err)
		}
		if seg.ID == "" {
			seg.ID = id
		}
		if _, dup := o.byID[id]; !dup {
			o.ids = append(o.ids, id)
		}
		o.byID[id] = seg
	}
	return nil
}
