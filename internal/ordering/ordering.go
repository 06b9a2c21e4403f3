// Package ordering maintains the doubly linked prev/next ordering over
// the records of one partition (a model category, or the global work
// list). Order changes only ever happen by relinking; there is no numeric
// sort column.
package ordering

import (
	"errors"
	"fmt"

	"atelier/api/internal/store"
)

// ErrIntegrityFault marks a partition whose links are inconsistent: no
// head, multiple heads, a cycle, or nodes unreachable from the head.
// Traversal is bounded by the partition size, so a corrupt partition is
// reported instead of looping forever.
var ErrIntegrityFault = errors.New("ordering integrity fault")

// Sequence reconstructs the total order of a partition by locating the
// unique head (PrevID == nil) and following NextID until nil. The input
// slice may be in any order. An empty partition yields an empty sequence.
func Sequence(records []store.Record) ([]store.Record, error) {
	if len(records) == 0 {
		return []store.Record{}, nil
	}

	byID := make(map[string]store.Record, len(records))
	var head *store.Record
	for i := range records {
		r := records[i]
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate record id %s", ErrIntegrityFault, r.ID)
		}
		byID[r.ID] = r
		if r.PrevID == nil {
			if head != nil {
				return nil, fmt.Errorf("%w: multiple heads (%s, %s)", ErrIntegrityFault, head.ID, r.ID)
			}
			head = &records[i]
		}
	}
	if head == nil {
		return nil, fmt.Errorf("%w: no head record", ErrIntegrityFault)
	}

	ordered := make([]store.Record, 0, len(records))
	seen := make(map[string]bool, len(records))
	current := *head
	for {
		if seen[current.ID] {
			return nil, fmt.Errorf("%w: cycle at %s", ErrIntegrityFault, current.ID)
		}
		seen[current.ID] = true
		ordered = append(ordered, current)

		if current.NextID == nil {
			break
		}
		if len(ordered) >= len(records) {
			return nil, fmt.Errorf("%w: tail %s links past partition end", ErrIntegrityFault, current.ID)
		}
		next, ok := byID[*current.NextID]
		if !ok {
			return nil, fmt.Errorf("%w: %s links to missing record %s", ErrIntegrityFault, current.ID, *current.NextID)
		}
		current = next
	}

	if len(ordered) != len(records) {
		return nil, fmt.Errorf("%w: %d of %d records unreachable from head", ErrIntegrityFault, len(records)-len(ordered), len(records))
	}
	return ordered, nil
}

// Tail returns the partition's tail record, or nil for an empty partition.
func Tail(records []store.Record) (*store.Record, error) {
	ordered, err := Sequence(records)
	if err != nil {
		return nil, err
	}
	if len(ordered) == 0 {
		return nil, nil
	}
	tail := ordered[len(ordered)-1]
	return &tail, nil
}

// Relink returns copies of the supplied records with PrevID/NextID rewritten
// so the slice order becomes the linked order. Timestamps are left to the
// caller, which stamps only the records it actually writes.
func Relink(ordered []store.Record) []store.Record {
	out := make([]store.Record, len(ordered))
	for i := range ordered {
		r := ordered[i]
		r.PrevID = nil
		r.NextID = nil
		if i > 0 {
			id := ordered[i-1].ID
			r.PrevID = &id
		}
		if i < len(ordered)-1 {
			id := ordered[i+1].ID
			r.NextID = &id
		}
		out[i] = r
	}
	return out
}

// LinkChange is a pointer rewrite for one neighbor of a spliced-out record.
type LinkChange struct {
	ID     string
	PrevID *string
	NextID *string
}

// SpliceOut computes the neighbor rewires needed to remove id from its
// partition: prev.next skips to next, next.prev skips to prev. Head and
// tail removals yield a single change; removing the only record yields
// none. The second return is false when id is not in the partition.
func SpliceOut(records []store.Record, id string) ([]LinkChange, bool) {
	var target *store.Record
	byID := make(map[string]store.Record, len(records))
	for i := range records {
		byID[records[i].ID] = records[i]
		if records[i].ID == id {
			target = &records[i]
		}
	}
	if target == nil {
		return nil, false
	}

	var changes []LinkChange
	if target.PrevID != nil {
		if prev, ok := byID[*target.PrevID]; ok {
			changes = append(changes, LinkChange{ID: prev.ID, PrevID: prev.PrevID, NextID: target.NextID})
		}
	}
	if target.NextID != nil {
		if next, ok := byID[*target.NextID]; ok {
			changes = append(changes, LinkChange{ID: next.ID, PrevID: target.PrevID, NextID: next.NextID})
		}
	}
	return changes, true
}
