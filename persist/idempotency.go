package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/maxBogovick/memodb/db"
)

// Receipts live in the shared __rest_idempotency table keyed by
// <aggregate_id>:<operation>:<key>. A duplicate key replays the stored
// response without re-running the reducer, so command endpoints are safe
// to retry blindly.

func (c *Collection[T]) getReceipt(ctx context.Context, tx *db.Tx, scope string) (string, bool, error) {
	result, err := tx.Query(ctx, fmt.Sprintf(
		"SELECT response FROM __rest_idempotency WHERE scope_key = %s", sqlString(scope)))
	if err != nil {
		return "", false, err
	}
	if len(result.Rows) == 0 {
		return "", false, nil
	}
	return result.Rows[0][0].Text, true, nil
}

func (c *Collection[T]) putReceipt(ctx context.Context, tx *db.Tx, scope, response string) error {
	insert := fmt.Sprintf(
		"INSERT INTO __rest_idempotency VALUES (%s, %s, %s)",
		sqlString(scope),
		sqlString(response),
		sqlString(time.Now().UTC().Format(time.RFC3339Nano)),
	)
	_, err := tx.Execute(ctx, insert)
	return err
}
