package wal

import (
	"testing"

	"github.com/go-git/go-billy/v6/memfs"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/storage"
)

func sampleState(lsn uint64) *SnapshotState {
	return &SnapshotState{
		LSN:     lsn,
		NextTxn: 7,
		Tables: []storage.TableState{{
			Schema: core.TableSchema{Name: "t", Columns: []core.Column{
				{Name: "id", Type: core.IntegerType, PrimaryKey: true},
			}},
			NextRowID: 3,
			Versions: []storage.VersionedRow{
				{RowID: 1, CreatedBy: 2, Payload: core.Row{core.NewInteger(1)}},
				{RowID: 2, CreatedBy: 3, Payload: core.Row{core.NewInteger(2)}},
			},
		}},
		Views: []core.ViewDef{{Name: "v", Query: "SELECT * FROM t"}},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	fs := memfs.New()
	if _, err := WriteSnapshot(fs, "snapshots", sampleState(42)); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	state, err := LoadLatestSnapshot(fs, "snapshots", 0)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot failed: %v", err)
	}
	if state == nil || state.LSN != 42 || state.NextTxn != 7 {
		t.Fatalf("Unexpected state: %+v", state)
	}
	if len(state.Tables) != 1 || len(state.Tables[0].Versions) != 2 {
		t.Error("Table state lost in round trip")
	}
	if len(state.Views) != 1 || state.Views[0].Name != "v" {
		t.Error("View lost in round trip")
	}
}

func TestLoadLatestRespectsBound(t *testing.T) {
	fs := memfs.New()
	for _, lsn := range []uint64{10, 20, 30} {
		if _, err := WriteSnapshot(fs, "snapshots", sampleState(lsn)); err != nil {
			t.Fatalf("WriteSnapshot failed: %v", err)
		}
	}

	state, err := LoadLatestSnapshot(fs, "snapshots", 25)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot failed: %v", err)
	}
	if state.LSN != 20 {
		t.Errorf("Expected snapshot 20, got %d", state.LSN)
	}

	state, _ = LoadLatestSnapshot(fs, "snapshots", 0)
	if state.LSN != 30 {
		t.Errorf("Expected newest snapshot 30, got %d", state.LSN)
	}
}

func TestLoadFromEmptyDirIsNil(t *testing.T) {
	fs := memfs.New()
	state, err := LoadLatestSnapshot(fs, "snapshots", 0)
	if err != nil || state != nil {
		t.Errorf("Expected (nil, nil), got (%v, %v)", state, err)
	}
}

func TestPruneSnapshots(t *testing.T) {
	fs := memfs.New()
	for _, lsn := range []uint64{1, 2, 3, 4} {
		if _, err := WriteSnapshot(fs, "snapshots", sampleState(lsn)); err != nil {
			t.Fatalf("WriteSnapshot failed: %v", err)
		}
	}
	if err := PruneSnapshots(fs, "snapshots", 2); err != nil {
		t.Fatalf("PruneSnapshots failed: %v", err)
	}
	lsns, _ := ListSnapshots(fs, "snapshots")
	if len(lsns) != 2 || lsns[0] != 3 {
		t.Errorf("Expected snapshots [3 4], got %v", lsns)
	}
}
