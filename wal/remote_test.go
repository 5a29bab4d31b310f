package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v6/memfs"
)

func TestArchiveAndFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := memfs.New()
	if _, err := WriteSnapshot(src, "snapshots", sampleState(7)); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	dest := t.TempDir()
	if err := ArchiveSnapshot(ctx, src, "snapshots", dest, nil); err != nil {
		t.Fatalf("ArchiveSnapshot failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, manifestName)); err != nil {
		t.Fatalf("Archive manifest missing: %v", err)
	}

	// Fetch into a fresh filesystem without naming the LSN; the manifest
	// supplies it.
	target := memfs.New()
	if err := FetchSnapshot(ctx, target, "snapshots", dest, 0, nil); err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	state, err := LoadLatestSnapshot(target, "snapshots", 0)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot failed: %v", err)
	}
	if state == nil || state.LSN != 7 {
		t.Fatalf("Fetched snapshot wrong: %+v", state)
	}
}

func TestFetchRejectsChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	src := memfs.New()
	if _, err := WriteSnapshot(src, "snapshots", sampleState(3)); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	dest := t.TempDir()
	if err := ArchiveSnapshot(ctx, src, "snapshots", dest, nil); err != nil {
		t.Fatalf("ArchiveSnapshot failed: %v", err)
	}

	// Flip a byte of the archived snapshot behind the manifest's back.
	name := filepath.Join(dest, "snapshot-00000003.dat")
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(name, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	target := memfs.New()
	if err := FetchSnapshot(ctx, target, "snapshots", dest, 0, nil); err == nil {
		t.Fatal("Fetch of a corrupted archive should fail its checksum")
	}
}

func TestHTTPArchiveIsFetchOnly(t *testing.T) {
	ctx := context.Background()
	src := memfs.New()
	if _, err := WriteSnapshot(src, "snapshots", sampleState(1)); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	err := ArchiveSnapshot(ctx, src, "snapshots", "https://mirror.example/snapshots", nil)
	if err == nil {
		t.Fatal("Archiving to an http destination should fail")
	}
}
