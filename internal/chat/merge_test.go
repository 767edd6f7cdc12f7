package chat

import (
	"testing"
	"time"
)

var mergeBase = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func msg(id, content string, offset time.Duration, optimistic bool) Message {
	return Message{
		ID:         id,
		Content:    content,
		Timestamp:  mergeBase.Add(offset),
		Optimistic: optimistic,
	}
}

func TestMergeDedupByID(t *testing.T) {
	m := msg("a", "hi", 0, false)
	out := Merge([]Message{m}, []Message{m})
	if len(out) != 1 {
		t.Fatalf("expected 1, got %d", len(out))
	}
}

func TestMergeDedupByProximity(t *testing.T) {
	confirmed := msg("srv-1", "hi", 0, false)
	optimistic := msg("temp-1", "hi", 2*time.Second, true)
	out := Merge([]Message{confirmed}, []Message{optimistic})
	if len(out) != 1 {
		t.Fatalf("expected 1, got %d", len(out))
	}
	if out[0].ID != "srv-1" {
		t.Fatalf("confirmed record should win, got %q", out[0].ID)
	}
}

func TestMergeNoProximityDedupOutsideWindow(t *testing.T) {
	a := msg("a", "hi", 0, false)
	b := msg("b", "hi", 10*time.Second, false)
	out := Merge([]Message{a, b}, nil)
	if len(out) != 2 {
		t.Fatalf("expected both to survive, got %d", len(out))
	}
}

func TestMergeOrdering(t *testing.T) {
	out := Merge(
		[]Message{msg("c", "3", 30*time.Second, false), msg("a", "1", 10*time.Second, false)},
		[]Message{msg("b", "2", 20*time.Second, true)},
	)
	if len(out) != 3 {
		t.Fatalf("expected 3, got %d", len(out))
	}
	for i, want := range []string{"a", "b", "c"} {
		if out[i].ID != want {
			t.Fatalf("position %d: got %q, want %q", i, out[i].ID, want)
		}
	}
}

func TestMergePureAndStable(t *testing.T) {
	confirmed := []Message{msg("a", "x", 0, false), msg("b", "y", 0, false)}
	optimistic := []Message{msg("c", "z", 0, true)}

	out1 := Merge(confirmed, optimistic)
	out2 := Merge(confirmed, optimistic)
	if len(out1) != len(out2) {
		t.Fatal("merge is not deterministic")
	}
	for i := range out1 {
		if out1[i].ID != out2[i].ID {
			t.Fatal("merge is not deterministic")
		}
	}
	// equal timestamps keep input order
	for i, want := range []string{"a", "b", "c"} {
		if out1[i].ID != want {
			t.Fatalf("tie order broken at %d: got %q", i, out1[i].ID)
		}
	}
	// inputs untouched
	if confirmed[0].ID != "a" || confirmed[1].ID != "b" || optimistic[0].ID != "c" {
		t.Fatal("inputs mutated")
	}
}

func TestMergeEmptyInputs(t *testing.T) {
	if out := Merge(nil, nil); len(out) != 0 {
		t.Fatalf("expected empty, got %d", len(out))
	}
}
