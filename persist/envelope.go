package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maxBogovick/memodb/db"
)

// envelopeFormatVersion is the persisted command-envelope format.
const envelopeFormatVersion = 1

// Envelope is one append-only journal entry: a command, its version
// expectations, and idempotency metadata.
type Envelope struct {
	Seq             uint64
	EntityID        string
	CommandType     string
	Payload         string
	ExpectedVersion uint64
	NewVersion      uint64
	IdempotencyKey  string
}

// appendEnvelope writes the envelope with the next journal sequence
// number. seq allocation reads the current maximum inside the same
// transaction; concurrent appenders collide on the primary key and the
// engine's commit-time recheck turns the loser into a retryable conflict.
func (c *Collection[T]) appendEnvelope(ctx context.Context, tx *db.Tx, env Envelope) error {
	result, err := tx.Query(ctx, fmt.Sprintf("SELECT MAX(seq) FROM %s__journal", c.name))
	if err != nil {
		return err
	}
	var seq uint64 = 1
	if len(result.Rows) > 0 && !result.Rows[0][0].IsNull() {
		seq = uint64(result.Rows[0][0].Int) + 1
	}
	env.Seq = seq

	insert := fmt.Sprintf(
		"INSERT INTO %s__journal VALUES (%d, %d, %d, %s, %s, %d, %s, %s, %d, %d, %s)",
		c.name,
		env.Seq,
		envelopeFormatVersion,
		time.Now().UnixMilli(),
		sqlString(c.name),
		sqlString(env.EntityID),
		c.schema.schemaVersion,
		sqlString(env.CommandType),
		sqlString(env.Payload),
		env.ExpectedVersion,
		env.NewVersion,
		sqlString(env.IdempotencyKey),
	)
	_, err = tx.Execute(ctx, insert)
	return err
}

// Journal returns the envelopes recorded for one aggregate, in sequence
// order.
func (c *Collection[T]) Journal(ctx context.Context, id string) ([]Envelope, error) {
	result, err := c.engine.Query(ctx, fmt.Sprintf(
		"SELECT seq, entity_id, command_type, payload_json, expected_version, new_version, idempotency_key FROM %s__journal WHERE entity_id = %s ORDER BY seq",
		c.name, sqlString(id)))
	if err != nil {
		return nil, Classify(err)
	}
	var out []Envelope
	for _, row := range result.Rows {
		out = append(out, Envelope{
			Seq:             uint64(row[0].Int),
			EntityID:        row[1].Text,
			CommandType:     row[2].Text,
			Payload:         row[3].Text,
			ExpectedVersion: uint64(row[4].Int),
			NewVersion:      uint64(row[5].Int),
			IdempotencyKey:  row[6].Text,
		})
	}
	return out, nil
}

// summarize renders a compact JSON description for audit and journal
// payloads.
func summarize(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	const maxSummary = 1024
	if len(raw) > maxSummary {
		raw = raw[:maxSummary]
	}
	return string(raw)
}
