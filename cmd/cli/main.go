// Command memodb-cli inspects memodb persistence artifacts: it prints the
// runtime api-version and checks whether a snapshot/journal pair is
// compatible with this runtime.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
	flags "github.com/jessevdk/go-flags"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/wal"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type apiVersionCmd struct{}

func (apiVersionCmd) Execute([]string) error {
	fmt.Printf("memodb-cli v%s\napi-version: %s\n", Version, core.APIVersion())
	return nil
}

type compatCheckCmd struct {
	Snapshot string `long:"snapshot" description:"Snapshot directory" required:"true"`
	Journal  string `long:"journal" description:"WAL directory" required:"true"`
}

func (c compatCheckCmd) Execute([]string) error {
	ok := checkSnapshots(splitFS(c.Snapshot)) && checkJournal(splitFS(c.Journal))
	if !ok {
		fmt.Println("compat-check: FAIL")
		os.Exit(1)
	}
	fmt.Println("compat-check: OK")
	return nil
}

func splitFS(dir string) (billy.Filesystem, string) {
	return osfs.New(filepath.Dir(dir)), filepath.Base(dir)
}

// checkSnapshots reads every snapshot's .meta sidecar and compares its
// api version against the compatibility matrix: same major replays, one
// behind is best-effort, older is unsupported.
func checkSnapshots(fs billy.Filesystem, dir string) bool {
	lsns, err := wal.ListSnapshots(fs, dir)
	if err != nil || len(lsns) == 0 {
		fmt.Println("snapshots: none found")
		return true
	}

	ok := true
	for _, lsn := range lsns {
		name := fmt.Sprintf("snapshot-%08d.dat", lsn)
		meta, err := readMeta(fs, filepath.Join(dir, name+".meta"))
		if err != nil {
			fmt.Printf("snapshot %s: missing meta (%v)\n", name, err)
			ok = false
			continue
		}
		major := majorOf(meta.APIVersion)
		switch {
		case major == core.VersionMajor:
			fmt.Printf("snapshot %s: api %s, lsn %d: compatible\n", name, meta.APIVersion, meta.LSN)
		case core.CompatibleWith(major):
			fmt.Printf("snapshot %s: api %s: best-effort (one major behind)\n", name, meta.APIVersion)
		default:
			fmt.Printf("snapshot %s: api %s: UNSUPPORTED\n", name, meta.APIVersion)
			ok = false
		}
	}
	return ok
}

func readMeta(fs billy.Filesystem, name string) (*wal.SnapshotMeta, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var meta wal.SnapshotMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func majorOf(version string) int {
	parts := strings.SplitN(version, ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return -1
	}
	return major
}

// checkJournal walks every record of the WAL; a record with a format
// version from the future fails the check.
func checkJournal(fs billy.Filesystem, dir string) bool {
	var records int
	var commits int
	err := wal.ScanDir(fs, dir, func(rec *wal.Record) error {
		records++
		if rec.Type == wal.RecordCommit {
			commits++
		}
		return nil
	})
	if err != nil {
		if core.IsKind(err, core.KindCompatibility) {
			fmt.Printf("journal: INCOMPATIBLE (%v)\n", err)
		} else {
			fmt.Printf("journal: unreadable (%v)\n", err)
		}
		return false
	}
	fmt.Printf("journal: %s, %s committed, format <= %d\n",
		humanize.Comma(int64(records))+" records",
		humanize.Comma(int64(commits))+" txns",
		wal.CurrentFormatVersion)
	return true
}

func main() {
	parser := flags.NewNamedParser("memodb-cli", flags.Default)
	parser.AddCommand("api-version", "Print the runtime API version",
		"Prints the version triple this binary supports.", &apiVersionCmd{})
	parser.AddCommand("compat-check", "Check snapshot/journal compatibility",
		"Verifies that the artifacts in the given directories replay on this runtime.", &compatCheckCmd{})

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
