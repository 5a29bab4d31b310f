package wal

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v6"
	"github.com/golang/snappy"
	log "github.com/sirupsen/logrus"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/storage"
)

const (
	snapshotPattern = "snapshot-%08d.dat"
	metaSuffix      = ".meta"
)

// SnapshotState is the full-state image a checkpoint writes: the catalog,
// every table's surviving versions, and the transaction horizon.
type SnapshotState struct {
	FormatVersion int                  `json:"format_version"`
	APIVersion    string               `json:"api_version"`
	LSN           uint64               `json:"lsn"`
	NextTxn       uint64               `json:"next_txn"`
	Tables        []storage.TableState `json:"tables"`
	Views         []core.ViewDef       `json:"views,omitempty"`
}

// SnapshotMeta is the sidecar .meta file content.
type SnapshotMeta struct {
	LSN         uint64 `json:"lsn"`
	APIVersion  string `json:"api_version"`
	CatalogHash string `json:"catalog_hash"`
}

// catalogHash fingerprints the schema set so a mismatched snapshot/journal
// pair is caught before replay.
func catalogHash(state *SnapshotState) string {
	names := make([]string, 0, len(state.Tables))
	bySchema := map[string][]byte{}
	for _, t := range state.Tables {
		names = append(names, t.Schema.Name)
		raw, _ := json.Marshal(t.Schema)
		bySchema[t.Schema.Name] = raw
	}
	sort.Strings(names)
	h := crc32.NewIEEE()
	for _, name := range names {
		h.Write(bySchema[name])
	}
	return fmt.Sprintf("%08x", h.Sum32())
}

// WriteSnapshot persists a snappy-compressed snapshot and its .meta
// sidecar under dir, named by the snapshot's terminal LSN.
func WriteSnapshot(fs billy.Filesystem, dir string, state *SnapshotState) (string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	state.FormatVersion = CurrentFormatVersion
	state.APIVersion = core.APIVersion()

	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	name := path.Join(dir, fmt.Sprintf(snapshotPattern, state.LSN))
	if err := writeFileAtomic(fs, name, compressed); err != nil {
		return "", err
	}

	meta := SnapshotMeta{LSN: state.LSN, APIVersion: state.APIVersion, CatalogHash: catalogHash(state)}
	metaRaw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(fs, name+metaSuffix, metaRaw); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{"file": name, "lsn": state.LSN, "tables": len(state.Tables)}).
		Info("wrote snapshot")
	return name, nil
}

func writeFileAtomic(fs billy.Filesystem, name string, data []byte) error {
	tmp := name + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := syncFile(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.Rename(tmp, name)
}

// ListSnapshots returns the LSNs of the snapshots under dir, ascending.
func ListSnapshots(fs billy.Filesystem, dir string) ([]uint64, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, nil // no snapshot dir yet
	}
	var out []uint64
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), metaSuffix) || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		var lsn uint64
		if _, err := fmt.Sscanf(entry.Name(), snapshotPattern, &lsn); err == nil {
			out = append(out, lsn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// LoadLatestSnapshot loads the snapshot with the highest LSN not above
// maxLSN (maxLSN 0 means no bound). It returns nil when none exists.
func LoadLatestSnapshot(fs billy.Filesystem, dir string, maxLSN uint64) (*SnapshotState, error) {
	lsns, err := ListSnapshots(fs, dir)
	if err != nil || len(lsns) == 0 {
		return nil, err
	}
	for i := len(lsns) - 1; i >= 0; i-- {
		if maxLSN != 0 && lsns[i] > maxLSN {
			continue
		}
		state, err := loadSnapshot(fs, dir, lsns[i])
		if err != nil {
			if core.IsKind(err, core.KindCompatibility) {
				return nil, err
			}
			log.WithError(err).WithField("lsn", lsns[i]).
				Warn("skipping unreadable snapshot")
			continue
		}
		return state, nil
	}
	return nil, nil
}

func loadSnapshot(fs billy.Filesystem, dir string, lsn uint64) (*SnapshotState, error) {
	name := path.Join(dir, fmt.Sprintf(snapshotPattern, lsn))

	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	compressed, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("snapshot is corrupt: %w", err)
	}

	var state SnapshotState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("snapshot does not decode: %w", err)
	}
	if state.FormatVersion > CurrentFormatVersion {
		return nil, core.Errorf(core.KindCompatibility,
			"snapshot format %d is newer than supported %d", state.FormatVersion, CurrentFormatVersion)
	}

	// Cross-check the sidecar when present.
	if mf, err := fs.Open(name + metaSuffix); err == nil {
		metaRaw, rerr := io.ReadAll(mf)
		mf.Close()
		if rerr == nil {
			var meta SnapshotMeta
			if json.Unmarshal(metaRaw, &meta) == nil && meta.CatalogHash != "" {
				if got := catalogHash(&state); got != meta.CatalogHash {
					return nil, fmt.Errorf("snapshot catalog hash mismatch: %s != %s", got, meta.CatalogHash)
				}
			}
		}
	}
	return &state, nil
}

// PruneSnapshots removes all but the newest keep snapshots.
func PruneSnapshots(fs billy.Filesystem, dir string, keep int) error {
	lsns, err := ListSnapshots(fs, dir)
	if err != nil {
		return err
	}
	if len(lsns) <= keep {
		return nil
	}
	for _, lsn := range lsns[:len(lsns)-keep] {
		name := path.Join(dir, fmt.Sprintf(snapshotPattern, lsn))
		_ = fs.Remove(name)
		_ = fs.Remove(name + metaSuffix)
	}
	return nil
}
