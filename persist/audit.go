package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maxBogovick/memodb/db"
)

// AuditEntry is one row of the collection's audit stream. Audit rows are
// appended in the same engine transaction as the state change they
// describe, so the stream never shows a version that did not commit.
type AuditEntry struct {
	ID             string
	TargetID       string
	Operation      string
	VersionBefore  uint64
	VersionAfter   uint64
	Timestamp      string
	PayloadSummary string
}

func (c *Collection[T]) appendAudit(ctx context.Context, tx *db.Tx, targetID, operation string, before, after uint64, summary string) error {
	insert := fmt.Sprintf(
		"INSERT INTO %s__audits VALUES (%s, %s, %s, %d, %d, %s, %s)",
		c.name,
		sqlString(uuid.NewString()),
		sqlString(targetID),
		sqlString(operation),
		before,
		after,
		sqlString(time.Now().UTC().Format(time.RFC3339Nano)),
		sqlString(summary),
	)
	_, err := tx.Execute(ctx, insert)
	return err
}

// Audits returns the audit entries for one aggregate ordered by version.
// Tombstoned aggregates keep their history.
func (c *Collection[T]) Audits(ctx context.Context, targetID string) ([]AuditEntry, error) {
	result, err := c.engine.Query(ctx, fmt.Sprintf(
		"SELECT * FROM %s__audits WHERE target_id = %s ORDER BY version_after, ts",
		c.name, sqlString(targetID)))
	if err != nil {
		return nil, Classify(err)
	}
	var out []AuditEntry
	for _, row := range result.Rows {
		out = append(out, AuditEntry{
			ID:             row[0].Text,
			TargetID:       row[1].Text,
			Operation:      row[2].Text,
			VersionBefore:  uint64(row[3].Int),
			VersionAfter:   uint64(row[4].Int),
			Timestamp:      row[5].Text,
			PayloadSummary: row[6].Text,
		})
	}
	return out, nil
}
