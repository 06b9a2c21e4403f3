package ordering

import (
	"errors"
	"testing"

	"atelier/api/internal/store"
)

func ptr(s string) *string { return &s }

func linked(ids ...string) []store.Record {
	records := make([]store.Record, len(ids))
	for i, id := range ids {
		r := store.Record{ID: id, Kind: store.KindModel}
		if i > 0 {
			r.PrevID = ptr(ids[i-1])
		}
		if i < len(ids)-1 {
			r.NextID = ptr(ids[i+1])
		}
		records[i] = r
	}
	return records
}

func TestSequenceEmpty(t *testing.T) {
	ordered, err := Sequence(nil)
	if err != nil {
		t.Fatalf("Sequence failed: %v", err)
	}
	if len(ordered) != 0 {
		t.Errorf("expected empty sequence, got %d records", len(ordered))
	}
}

func TestSequenceRestoresOrder(t *testing.T) {
	records := linked("a", "b", "c")
	// Shuffle storage order.
	shuffled := []store.Record{records[2], records[0], records[1]}

	ordered, err := Sequence(shuffled)
	if err != nil {
		t.Fatalf("Sequence failed: %v", err)
	}
	got := []string{ordered[0].ID, ordered[1].ID, ordered[2].ID}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if ordered[0].PrevID != nil {
		t.Errorf("head PrevID should be nil")
	}
	if ordered[2].NextID != nil {
		t.Errorf("tail NextID should be nil")
	}
}

func TestSequenceMultipleHeads(t *testing.T) {
	records := []store.Record{
		{ID: "a", NextID: ptr("b")},
		{ID: "b", PrevID: ptr("a")},
		{ID: "c"}, // second head
	}
	_, err := Sequence(records)
	if !errors.Is(err, ErrIntegrityFault) {
		t.Fatalf("expected ErrIntegrityFault, got %v", err)
	}
}

func TestSequenceNoHead(t *testing.T) {
	records := []store.Record{
		{ID: "a", PrevID: ptr("b"), NextID: ptr("b")},
		{ID: "b", PrevID: ptr("a"), NextID: ptr("a")},
	}
	_, err := Sequence(records)
	if !errors.Is(err, ErrIntegrityFault) {
		t.Fatalf("expected ErrIntegrityFault, got %v", err)
	}
}

func TestSequenceCycleBeyondHead(t *testing.T) {
	// a -> b -> c -> b: bounded traversal must report, not spin.
	records := []store.Record{
		{ID: "a", NextID: ptr("b")},
		{ID: "b", PrevID: ptr("a"), NextID: ptr("c")},
		{ID: "c", PrevID: ptr("b"), NextID: ptr("b")},
	}
	_, err := Sequence(records)
	if !errors.Is(err, ErrIntegrityFault) {
		t.Fatalf("expected ErrIntegrityFault, got %v", err)
	}
}

func TestSequenceOrphanedNode(t *testing.T) {
	records := []store.Record{
		{ID: "a", NextID: ptr("b")},
		{ID: "b", PrevID: ptr("a")},
		{ID: "orphan", PrevID: ptr("ghost")},
	}
	_, err := Sequence(records)
	if !errors.Is(err, ErrIntegrityFault) {
		t.Fatalf("expected ErrIntegrityFault, got %v", err)
	}
}

func TestSequenceMissingNextTarget(t *testing.T) {
	records := []store.Record{
		{ID: "a", NextID: ptr("gone")},
	}
	_, err := Sequence(records)
	if !errors.Is(err, ErrIntegrityFault) {
		t.Fatalf("expected ErrIntegrityFault, got %v", err)
	}
}

func TestTail(t *testing.T) {
	tail, err := Tail(linked("a", "b", "c"))
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if tail == nil || tail.ID != "c" {
		t.Fatalf("tail = %v, want c", tail)
	}

	tail, err = Tail(nil)
	if err != nil {
		t.Fatalf("Tail on empty partition failed: %v", err)
	}
	if tail != nil {
		t.Fatalf("expected nil tail for empty partition")
	}
}

func TestRelink(t *testing.T) {
	records := linked("a", "b", "c")
	// Reorder to [c, a, b].
	reordered := Relink([]store.Record{records[2], records[0], records[1]})

	c, a, b := reordered[0], reordered[1], reordered[2]
	if c.PrevID != nil || c.NextID == nil || *c.NextID != "a" {
		t.Errorf("c links wrong: prev=%v next=%v", c.PrevID, c.NextID)
	}
	if a.PrevID == nil || *a.PrevID != "c" || a.NextID == nil || *a.NextID != "b" {
		t.Errorf("a links wrong: prev=%v next=%v", a.PrevID, a.NextID)
	}
	if b.PrevID == nil || *b.PrevID != "a" || b.NextID != nil {
		t.Errorf("b links wrong: prev=%v next=%v", b.PrevID, b.NextID)
	}
}

func TestRelinkSingle(t *testing.T) {
	out := Relink([]store.Record{{ID: "only"}})
	if out[0].PrevID != nil || out[0].NextID != nil {
		t.Errorf("single record must have nil links")
	}
}

func TestSpliceOutInterior(t *testing.T) {
	changes, ok := SpliceOut(linked("a", "b", "c"), "b")
	if !ok {
		t.Fatalf("expected record to be found")
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	for _, change := range changes {
		switch change.ID {
		case "a":
			if change.PrevID != nil || change.NextID == nil || *change.NextID != "c" {
				t.Errorf("a rewire wrong: %+v", change)
			}
		case "c":
			if change.PrevID == nil || *change.PrevID != "a" || change.NextID != nil {
				t.Errorf("c rewire wrong: %+v", change)
			}
		default:
			t.Errorf("unexpected change for %s", change.ID)
		}
	}
}

func TestSpliceOutHead(t *testing.T) {
	changes, ok := SpliceOut(linked("a", "b", "c"), "a")
	if !ok || len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d (ok=%v)", len(changes), ok)
	}
	if changes[0].ID != "b" || changes[0].PrevID != nil {
		t.Errorf("b should become head: %+v", changes[0])
	}
}

func TestSpliceOutTail(t *testing.T) {
	changes, ok := SpliceOut(linked("a", "b", "c"), "c")
	if !ok || len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d (ok=%v)", len(changes), ok)
	}
	if changes[0].ID != "b" || changes[0].NextID != nil {
		t.Errorf("b should become tail: %+v", changes[0])
	}
}

func TestSpliceOutOnly(t *testing.T) {
	changes, ok := SpliceOut(linked("a"), "a")
	if !ok {
		t.Fatalf("expected record to be found")
	}
	if len(changes) != 0 {
		t.Errorf("expected no changes, got %d", len(changes))
	}
}

func TestSpliceOutMissing(t *testing.T) {
	_, ok := SpliceOut(linked("a", "b"), "zzz")
	if ok {
		t.Fatalf("expected ok=false for missing id")
	}
}
