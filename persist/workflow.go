package persist

import (
	"context"
	"reflect"

	"github.com/google/uuid"

	"github.com/maxBogovick/memodb/db"
)

// TxCollection is a typed view of a collection bound to one engine
// transaction. Every operation keeps the CAS-versioned command semantics
// of the collection, but commits (or rolls back) together with the rest
// of the workflow instead of on its own.
type TxCollection[T any] struct {
	c  *Collection[T]
	tx *db.Tx
}

// InTx binds a collection to an open workflow transaction.
func InTx[T any](c *Collection[T], tx *db.Tx) *TxCollection[T] {
	return &TxCollection[T]{c: c, tx: tx}
}

// GetOne loads an aggregate as of the workflow's snapshot.
func (h *TxCollection[T]) GetOne(ctx context.Context, id string) (*Entity[T], error) {
	entity, err := h.c.getInTx(ctx, h.tx, id)
	if err != nil {
		return nil, Classify(err)
	}
	return entity, nil
}

// CreateOne inserts a new aggregate at version 1 inside the workflow.
func (h *TxCollection[T]) CreateOne(ctx context.Context, model T) (*Entity[T], error) {
	if h.c.config.Validate != nil {
		if err := h.c.config.Validate(model); err != nil {
			return nil, domainErrorf(KindValidation, "%v", err)
		}
	}
	values, err := h.c.schema.toValues(reflect.ValueOf(model))
	if err != nil {
		return nil, Classify(err)
	}
	id := uuid.NewString()
	if err := h.c.createOneIn(ctx, h.tx, id, model, values); err != nil {
		return nil, Classify(err)
	}
	return &Entity[T]{ID: id, Version: 1, State: model}, nil
}

// Apply runs a command through the optimistic protocol inside the
// workflow. Engine-level conflicts surface when the whole workflow
// commits; there is no per-command retry here.
func (h *TxCollection[T]) Apply(ctx context.Context, id string, cmd Command, opts ApplyOptions) (*ApplyResult, error) {
	result, err := h.c.applyIn(ctx, h.tx, id, cmd, opts)
	if err != nil {
		return nil, Classify(err)
	}
	return result, nil
}

// PatchOne applies a partial field update inside the workflow.
func (h *TxCollection[T]) PatchOne(ctx context.Context, id string, patch Patch, opts ApplyOptions) (*ApplyResult, error) {
	return h.Apply(ctx, id, patchCommand[T]{patch: patch, schema: h.c.schema}, opts)
}

// Remove tombstones an aggregate inside the workflow.
func (h *TxCollection[T]) Remove(ctx context.Context, id string) error {
	return classify(h.c.removeIn(ctx, h.tx, id))
}

// WorkflowWithCreate executes a cross-collection mutation atomically: the
// closure receives the named aggregate of the first collection and typed
// handles for both collections, all bound to a single engine transaction.
// If the closure returns an error, the transaction rolls back and both
// collections observe their prior state; on success both observe the
// commit. The collections are stateless views over the engine, so the
// rollback is the state restore.
func WorkflowWithCreate[T, U any](
	ctx context.Context,
	self *Collection[T],
	other *Collection[U],
	id string,
	workflow func(self *TxCollection[T], current *Entity[T], other *TxCollection[U]) error,
) error {
	if self.engine != other.engine {
		return domainErrorf(KindInternal,
			"collections %s and %s belong to different engines", self.name, other.name)
	}
	err := self.engine.Transaction(ctx, func(tx *db.Tx) error {
		current, err := self.getInTx(ctx, tx, id)
		if err != nil {
			return err
		}
		return workflow(InTx(self, tx), current, InTx(other, tx))
	})
	return classify(err)
}
