package db

import (
	"context"
)

// Tx executes statements inside one engine transaction. It is handed to
// the closure of Engine.Transaction and must not escape it.
type Tx struct {
	engine *Engine
	at     *activeTxn
}

// Execute runs a statement inside the transaction.
func (tx *Tx) Execute(ctx context.Context, input string) (*QueryResult, error) {
	return tx.engine.execute(ctx, input, tx.at)
}

// Query is an alias of Execute.
func (tx *Tx) Query(ctx context.Context, input string) (*QueryResult, error) {
	return tx.engine.execute(ctx, input, tx.at)
}

// Transaction runs fn inside a single transaction and commits it when fn
// returns nil; any error (from fn or from the commit's conflict checks)
// rolls everything back. Unlike the SQL BEGIN/COMMIT session, Transaction
// carries its own transaction handle, so concurrent calls from different
// goroutines each get an isolated transaction.
func (e *Engine) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	at := &activeTxn{txn: e.txns.Begin()}

	if err := fn(&Tx{engine: e, at: at}); err != nil {
		e.mu.Lock()
		e.abortTxn(at)
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commitTxn(at)
}
