package main

import (
	"testing"

	"github.com/go-git/go-billy/v6/memfs"

	"github.com/maxBogovick/memodb/wal"
)

func TestMajorOf(t *testing.T) {
	cases := map[string]int{
		"1.4.0":   1,
		"2.0.0":   2,
		"0.9.1":   0,
		"garbage": -1,
	}
	for input, want := range cases {
		if got := majorOf(input); got != want {
			t.Errorf("majorOf(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestCheckJournalCountsRecords(t *testing.T) {
	fs := memfs.New()
	l, err := wal.Open(fs, "wal", wal.ModeNone)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	l.Append(&wal.Record{Type: wal.RecordBegin, Txn: 1})
	l.Append(&wal.Record{Type: wal.RecordCommit, Txn: 1})
	l.Close()

	if !checkJournal(fs, "wal") {
		t.Error("A healthy journal should pass the check")
	}
}

func TestCheckSnapshotsEmptyDirPasses(t *testing.T) {
	if !checkSnapshots(memfs.New(), "snapshots") {
		t.Error("An empty snapshot dir should pass")
	}
}
