package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maxBogovick/memodb/db"
)

// SideEffect is a declarative side-effect specification a command handler
// emits. Effects are enqueued in the same transaction as the state change
// and delivered by an external dispatcher polling the outbox.
type SideEffect struct {
	Kind    string
	Payload string
}

// OutboxEntry is one undispatched (or dispatched) side effect.
type OutboxEntry struct {
	ID         string
	TargetID   string
	Kind       string
	Payload    string
	Dispatched bool
	Timestamp  string
}

func (c *Collection[T]) appendOutbox(ctx context.Context, tx *db.Tx, targetID string, effect SideEffect) error {
	insert := fmt.Sprintf(
		"INSERT INTO %s__outbox VALUES (%s, %s, %s, %s, FALSE, %s)",
		c.name,
		sqlString(uuid.NewString()),
		sqlString(targetID),
		sqlString(effect.Kind),
		sqlString(effect.Payload),
		sqlString(time.Now().UTC().Format(time.RFC3339Nano)),
	)
	_, err := tx.Execute(ctx, insert)
	return err
}

// PollOutbox returns up to limit undispatched effects in enqueue order.
func (c *Collection[T]) PollOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	result, err := c.engine.Query(ctx, fmt.Sprintf(
		"SELECT * FROM %s__outbox WHERE dispatched = FALSE ORDER BY ts LIMIT %d",
		c.name, limit))
	if err != nil {
		return nil, Classify(err)
	}
	var out []OutboxEntry
	for _, row := range result.Rows {
		out = append(out, OutboxEntry{
			ID:         row[0].Text,
			TargetID:   row[1].Text,
			Kind:       row[2].Text,
			Payload:    row[3].Text,
			Dispatched: row[4].Bool,
			Timestamp:  row[5].Text,
		})
	}
	return out, nil
}

// MarkDispatched flags an outbox entry as delivered.
func (c *Collection[T]) MarkDispatched(ctx context.Context, id string) error {
	result, err := c.engine.Execute(ctx, fmt.Sprintf(
		"UPDATE %s__outbox SET dispatched = TRUE WHERE persist_id = %s",
		c.name, sqlString(id)))
	if err != nil {
		return Classify(err)
	}
	if result.AffectedRows == 0 {
		return domainErrorf(KindNotFound, "outbox entry %s not found", id)
	}
	return nil
}
