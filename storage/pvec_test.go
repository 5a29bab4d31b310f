package storage

import (
	"testing"

	"github.com/maxBogovick/memodb/core"
)

func rowOf(i int) VersionedRow {
	return VersionedRow{RowID: uint64(i), Payload: core.Row{core.NewInteger(int64(i))}}
}

func TestVectorPushGet(t *testing.T) {
	v := NewVector()
	const n = 5000
	for i := 0; i < n; i++ {
		v = v.Push(rowOf(i))
	}
	if v.Len() != n {
		t.Fatalf("Expected length %d, got %d", n, v.Len())
	}
	for i := 0; i < n; i++ {
		if got := v.Get(i); got.RowID != uint64(i) {
			t.Fatalf("Get(%d) returned row %d", i, got.RowID)
		}
	}
}

func TestVectorStructuralSharing(t *testing.T) {
	base := NewVector()
	for i := 0; i < 2000; i++ {
		base = base.Push(rowOf(i))
	}

	branch := base.Push(rowOf(9999))
	if base.Len() != 2000 {
		t.Errorf("Push mutated the base vector: len %d", base.Len())
	}
	if branch.Len() != 2001 {
		t.Errorf("Expected branch length 2001, got %d", branch.Len())
	}

	edited := base.Set(70, rowOf(424242))
	if base.Get(70).RowID != 70 {
		t.Error("Set mutated the base vector")
	}
	if edited.Get(70).RowID != 424242 {
		t.Errorf("Set did not take on the copy: row %d", edited.Get(70).RowID)
	}
	if edited.Get(71).RowID != 71 {
		t.Error("Set disturbed a neighbouring element")
	}
}

func TestVectorSetInTail(t *testing.T) {
	v := NewVector()
	for i := 0; i < 40; i++ {
		v = v.Push(rowOf(i))
	}
	// Position 35 lives in the tail, position 5 in the trie.
	v2 := v.Set(35, rowOf(100)).Set(5, rowOf(200))
	if v2.Get(35).RowID != 100 || v2.Get(5).RowID != 200 {
		t.Error("Set in tail or trie failed")
	}
	if v.Get(35).RowID != 35 || v.Get(5).RowID != 5 {
		t.Error("original vector changed")
	}
}

func TestVectorEachStopsEarly(t *testing.T) {
	v := NewVector()
	for i := 0; i < 100; i++ {
		v = v.Push(rowOf(i))
	}
	visited := 0
	v.Each(func(i int, _ VersionedRow) bool {
		visited++
		return i < 9
	})
	if visited != 10 {
		t.Errorf("Expected 10 visits, got %d", visited)
	}
}
