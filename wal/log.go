package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v6"
	log "github.com/sirupsen/logrus"

	"github.com/maxBogovick/memodb/core"
)

// Mode selects the durability policy of the log.
type Mode int

const (
	// ModeNone buffers records in memory only; a crash loses everything.
	ModeNone Mode = iota
	// ModeAsync appends without fsync; a background flusher syncs
	// periodically. A crash may lose the most recent commits.
	ModeAsync
	// ModeStrict fsyncs every commit record before the commit returns.
	ModeStrict
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeAsync:
		return "async"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

const (
	segmentPattern = "segment-%08d.log"
	segmentMaxSize = 16 << 20
	asyncFlushTick = 200 * time.Millisecond
)

// Log is the write-ahead log. One writer goroutine-safe handle per engine;
// commit callers are serialized through the internal lock.
type Log struct {
	fs   billy.Filesystem
	dir  string
	mode Mode

	mu       sync.Mutex
	file     billy.File
	w        *bufio.Writer
	lsn      uint64
	segIndex uint64
	segBytes int64
	closed   bool

	stopFlusher chan struct{}
	flusherDone chan struct{}
}

// Open opens (or creates) the log under dir, scanning existing segments to
// find the tail LSN. A torn trailing record is cut off by truncating its
// segment (later segments are removed); appends then go to a fresh segment.
func Open(fs billy.Filesystem, dir string, mode Mode) (*Log, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL dir: %w", err)
	}

	l := &Log{fs: fs, dir: dir, mode: mode}

	segments, err := l.segments()
	if err != nil {
		return nil, err
	}
	if len(segments) > 0 {
		if err := l.repairAndSeek(segments); err != nil {
			return nil, err
		}
		l.segIndex = segments[len(segments)-1] + 1
	} else {
		l.segIndex = 1
	}

	if err := l.openSegment(); err != nil {
		return nil, err
	}

	if mode == ModeAsync {
		l.stopFlusher = make(chan struct{})
		l.flusherDone = make(chan struct{})
		go l.flushLoop()
	}

	log.WithFields(log.Fields{"dir": dir, "mode": mode.String(), "lsn": l.lsn}).
		Debug("opened write-ahead log")
	return l, nil
}

func (l *Log) segments() ([]uint64, error) {
	entries, err := l.fs.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL dir: %w", err)
	}
	var out []uint64
	for _, entry := range entries {
		var n uint64
		if _, err := fmt.Sscanf(entry.Name(), segmentPattern, &n); err == nil &&
			strings.HasPrefix(entry.Name(), "segment-") {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// repairAndSeek scans every segment, records the tail LSN, and truncates
// the log at the first torn record: the torn segment is cut back to its
// last intact frame and any later segments are removed.
func (l *Log) repairAndSeek(segments []uint64) error {
	for i, seg := range segments {
		name := path.Join(l.dir, fmt.Sprintf(segmentPattern, seg))
		clean, torn, err := l.scanSegment(name)
		if err != nil {
			return err
		}
		if !torn {
			continue
		}
		log.WithFields(log.Fields{"segment": name, "offset": clean}).
			Warn("truncating torn WAL tail")
		f, err := l.fs.OpenFile(name, os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open torn segment: %w", err)
		}
		if err := f.Truncate(clean); err != nil {
			f.Close()
			return fmt.Errorf("failed to truncate torn segment: %w", err)
		}
		f.Close()
		for _, later := range segments[i+1:] {
			laterName := path.Join(l.dir, fmt.Sprintf(segmentPattern, later))
			if err := l.fs.Remove(laterName); err != nil {
				return fmt.Errorf("failed to drop post-torn segment: %w", err)
			}
		}
		break
	}
	return nil
}

// scanSegment returns the byte length of the intact prefix, whether the
// segment ends in a torn record, and the tail LSN observed so far.
func (l *Log) scanSegment(name string) (clean int64, torn bool, err error) {
	f, err := l.fs.Open(name)
	if err != nil {
		return 0, false, fmt.Errorf("failed to open WAL segment: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, n, derr := decodeFrame(r)
		if derr == io.EOF {
			return clean, false, nil
		}
		if derr == errTornTail {
			return clean, true, nil
		}
		if derr != nil {
			return clean, false, derr
		}
		clean += int64(n)
		if rec.LSN > l.lsn {
			l.lsn = rec.LSN
		}
	}
}

func (l *Log) openSegment() error {
	name := path.Join(l.dir, fmt.Sprintf(segmentPattern, l.segIndex))
	f, err := l.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment: %w", err)
	}
	l.file = f
	l.w = bufio.NewWriter(f)
	l.segBytes = 0
	return nil
}

// Append assigns the next LSN and writes the record. Commit, DDL and
// snapshot-mark records are flushed per the durability mode before Append returns; a failed fsync in
// strict mode surfaces as the commit's failure.
func (l *Log) Append(rec *Record) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, core.Errorf(core.KindExecution, "WAL is closed")
	}

	l.lsn++
	rec.LSN = l.lsn

	frame, err := encodeFrame(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode WAL record: %w", err)
	}
	if _, err := l.w.Write(frame); err != nil {
		return 0, fmt.Errorf("failed to append WAL record: %w", err)
	}
	l.segBytes += int64(len(frame))

	if rec.Type == RecordCommit || rec.Type == RecordDDL || rec.Type == RecordSnapshotMark {
		if err := l.w.Flush(); err != nil {
			return 0, fmt.Errorf("failed to flush WAL: %w", err)
		}
		if l.mode == ModeStrict {
			if err := syncFile(l.file); err != nil {
				return 0, fmt.Errorf("fsync failed: %w", err)
			}
		}
	}

	if l.segBytes >= segmentMaxSize {
		if err := l.rotateLocked(); err != nil {
			return 0, err
		}
	}
	return rec.LSN, nil
}

// syncFile fsyncs when the underlying file supports it. memfs files do
// not, which is exactly the ModeNone contract.
func syncFile(f billy.File) error {
	if s, ok := f.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (l *Log) rotateLocked() error {
	if err := l.w.Flush(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return err
	}
	l.segIndex++
	return l.openSegment()
}

// MarkSnapshot appends a snapshot-mark record for the given LSN and starts
// a fresh segment, so segments wholly below the mark can be pruned.
func (l *Log) MarkSnapshot(snapshotLSN uint64) error {
	if _, err := l.Append(&Record{Type: RecordSnapshotMark, Mark: snapshotLSN}); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

// Prune removes segments whose every record is below minLSN. The current
// segment is never removed.
func (l *Log) Prune(minLSN uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	segments, err := l.segments()
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if seg >= l.segIndex {
			continue
		}
		name := path.Join(l.dir, fmt.Sprintf(segmentPattern, seg))
		max, err := l.segmentMaxLSN(name)
		if err != nil || max >= minLSN {
			continue
		}
		if err := l.fs.Remove(name); err != nil {
			log.WithError(err).WithField("segment", name).Warn("failed to prune WAL segment")
		}
	}
	return nil
}

func (l *Log) segmentMaxLSN(name string) (uint64, error) {
	f, err := l.fs.Open(name)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64
	r := bufio.NewReader(f)
	for {
		rec, _, err := decodeFrame(r)
		if err != nil {
			if err == io.EOF || err == errTornTail {
				return max, nil
			}
			return max, err
		}
		if rec.LSN > max {
			max = rec.LSN
		}
	}
}

// Replay streams every intact record in LSN order. A torn tail ends the
// stream silently; a future format version aborts with a Compatibility
// error.
func (l *Log) Replay(fn func(*Record) error) error {
	segments, err := l.segments()
	if err != nil {
		return err
	}
	for _, seg := range segments {
		name := path.Join(l.dir, fmt.Sprintf(segmentPattern, seg))
		f, err := l.fs.Open(name)
		if err != nil {
			return fmt.Errorf("failed to open WAL segment: %w", err)
		}
		r := bufio.NewReader(f)
		for {
			rec, _, err := decodeFrame(r)
			if err == io.EOF {
				break
			}
			if err == errTornTail {
				log.WithField("segment", name).Warn("truncating torn WAL tail")
				f.Close()
				return nil
			}
			if err != nil {
				f.Close()
				return err
			}
			if err := fn(rec); err != nil {
				f.Close()
				return err
			}
		}
		f.Close()
	}
	return nil
}

// ScanDir streams every intact record of a WAL directory without opening
// it for writing. Tooling uses it to inspect a log in place; a torn tail
// ends the stream, a future format version aborts with Compatibility.
func ScanDir(fs billy.Filesystem, dir string, fn func(*Record) error) error {
	probe := &Log{fs: fs, dir: dir}
	return probe.Replay(fn)
}

// LSN returns the last assigned sequence number.
func (l *Log) LSN() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lsn
}

func (l *Log) flushLoop() {
	defer close(l.flusherDone)
	ticker := time.NewTicker(asyncFlushTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			if !l.closed {
				if err := l.w.Flush(); err == nil {
					_ = syncFile(l.file)
				}
			}
			l.mu.Unlock()
		case <-l.stopFlusher:
			return
		}
	}
}

// Close flushes and closes the current segment.
func (l *Log) Close() error {
	if l.stopFlusher != nil {
		close(l.stopFlusher)
		<-l.flusherDone
		l.stopFlusher = nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.w.Flush(); err != nil {
		return err
	}
	_ = syncFile(l.file)
	return l.file.Close()
}
