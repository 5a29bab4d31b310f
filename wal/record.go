package wal

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"

	"github.com/maxBogovick/memodb/core"
)

// CurrentFormatVersion is the record format this runtime writes.
const CurrentFormatVersion = 1

// RecordType discriminates WAL records.
type RecordType string

const (
	RecordBegin        RecordType = "begin"
	RecordInsert       RecordType = "insert"
	RecordUpdate       RecordType = "update"
	RecordDelete       RecordType = "delete"
	RecordDDL          RecordType = "ddl"
	RecordCommit       RecordType = "commit"
	RecordAbort        RecordType = "abort"
	RecordSnapshotMark RecordType = "snapshot_mark"
)

// Record is one WAL entry. Unknown fields of a supported format version
// are ignored on read for forward compatibility.
type Record struct {
	FormatVersion int        `json:"format_version"`
	LSN           uint64     `json:"lsn"`
	Type          RecordType `json:"type"`
	Txn           uint64     `json:"txn,omitempty"`
	Table         string     `json:"table,omitempty"`
	RowID         uint64     `json:"row_id,omitempty"`
	Payload       core.Row   `json:"payload,omitempty"`
	DDL           string     `json:"ddl,omitempty"`
	Mark          uint64     `json:"mark,omitempty"`
}

// encodeFrame renders a record into the normative wire framing.
func encodeFrame(rec *Record) ([]byte, error) {
	rec.FormatVersion = CurrentFormatVersion
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[8:], payload)
	return frame, nil
}

// errTornTail marks the readable end of the log: a truncated or corrupt
// trailing record.
var errTornTail = core.Errorf(core.KindExecution, "torn WAL tail")

// decodeFrame reads one record, returning the bytes consumed. It returns
// errTornTail for a short or corrupt frame and a Compatibility error for a
// payload from the future.
func decodeFrame(r io.Reader) (*Record, int, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, errTornTail
	}
	length := binary.BigEndian.Uint32(header[0:4])
	sum := binary.BigEndian.Uint32(header[4:8])
	if length == 0 || length > 64<<20 {
		return nil, 0, errTornTail
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, errTornTail
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, 0, errTornTail
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, 0, errTornTail
	}
	if rec.FormatVersion > CurrentFormatVersion {
		return nil, 0, core.Errorf(core.KindCompatibility,
			"WAL record format %d is newer than supported %d", rec.FormatVersion, CurrentFormatVersion)
	}
	return &rec, 8 + int(length), nil
}
