package persist

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/db"
)

// Entity is one aggregate with its identity and version.
type Entity[T any] struct {
	ID      string
	Version uint64
	State   T
}

// ApplyResult reports a successful mutation.
type ApplyResult struct {
	ID         string
	NewVersion uint64
	Response   string
	Replayed   bool // true when an idempotency receipt answered
}

// ApplyOptions tune one Apply call.
type ApplyOptions struct {
	// ExpectedVersion, when non-zero, turns the write into a CAS against
	// that version; a mismatch fails with ConflictOptimistic and is not
	// retried.
	ExpectedVersion uint64
	// IdempotencyKey scopes the command: a duplicate key replays the
	// stored response without re-running the reducer.
	IdempotencyKey string
}

// Config wires the deterministic reducers of a collection.
type Config[T any] struct {
	// Apply folds a command into the state. It must be deterministic.
	Apply func(state T, cmd Command) (T, error)
	// Effects, when set, declares outbox side effects for a command.
	Effects func(prev, next T, cmd Command) []SideEffect
	// Intents maps a business intent name to a command.
	Intents map[string]func(args any) (Command, error)
	// Retry bounds automatic retries of write-write conflicts.
	Retry RetryPolicy
	// Validate, when set, runs before every insert or update.
	Validate func(state T) error
}

// Collection is the runtime facade over one aggregate table and its
// audit, journal and outbox siblings.
type Collection[T any] struct {
	engine *db.Engine
	name   string
	schema *modelSchema
	config Config[T]
}

// OpenCollection binds (and on first use bootstraps) the collection
// tables for model T under the given name.
func OpenCollection[T any](ctx context.Context, engine *db.Engine, name string, config Config[T]) (*Collection[T], error) {
	var zero T
	schema, err := deriveSchema(reflect.TypeOf(zero))
	if err != nil {
		return nil, Classify(err)
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = DefaultRetryPolicy
	}
	c := &Collection[T]{engine: engine, name: name, schema: schema, config: config}
	if err := c.bootstrap(ctx); err != nil {
		return nil, Classify(err)
	}
	if err := c.migrateIfNeeded(ctx); err != nil {
		return nil, Classify(err)
	}
	return c, nil
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Engine exposes the underlying engine for cross-collection workflows.
func (c *Collection[T]) Engine() *db.Engine { return c.engine }

func (c *Collection[T]) bootstrap(ctx context.Context) error {
	var cols []string
	for _, f := range c.schema.fields {
		cols = append(cols, fmt.Sprintf("%s %s", f.Name, sqlType(f.Type)))
	}
	stmts := []string{
		fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (persist_id TEXT PRIMARY KEY, %s, version INT NOT NULL, schema_version INT NOT NULL)",
			c.name, strings.Join(cols, ", ")),
		fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s__audits (persist_id TEXT PRIMARY KEY, target_id TEXT NOT NULL, operation TEXT NOT NULL, version_before INT, version_after INT, ts TEXT NOT NULL, payload_summary TEXT)",
			c.name),
		fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s__journal (seq INT PRIMARY KEY, format_version INT NOT NULL, ts_unix_ms INT NOT NULL, entity_type TEXT NOT NULL, entity_id TEXT NOT NULL, schema_version INT NOT NULL, command_type TEXT NOT NULL, payload_json TEXT, expected_version INT, new_version INT NOT NULL, idempotency_key TEXT)",
			c.name),
		fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s__outbox (persist_id TEXT PRIMARY KEY, target_id TEXT NOT NULL, kind TEXT NOT NULL, payload_json TEXT, dispatched BOOLEAN NOT NULL, ts TEXT NOT NULL)",
			c.name),
		"CREATE TABLE IF NOT EXISTS __rest_idempotency (scope_key TEXT PRIMARY KEY, response TEXT NOT NULL, ts TEXT NOT NULL)",
		"CREATE TABLE IF NOT EXISTS schema_versions (table_name TEXT PRIMARY KEY, current_schema_version INT NOT NULL)",
	}
	for _, stmt := range stmts {
		if _, err := c.engine.Execute(ctx, stmt); err != nil {
			return err
		}
	}

	for _, f := range c.schema.fields {
		var stmt string
		switch {
		case f.Unique:
			stmt = fmt.Sprintf("CREATE UNIQUE INDEX %s_%s_uq ON %s (%s)", c.name, f.Name, c.name, f.Name)
		case f.Index:
			stmt = fmt.Sprintf("CREATE INDEX %s_%s_ix ON %s (%s)", c.name, f.Name, c.name, f.Name)
		default:
			continue
		}
		if _, err := c.engine.Execute(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return err
		}
	}
	return nil
}

// CreateOne inserts a new aggregate at version 1 and returns its handle.
func (c *Collection[T]) CreateOne(ctx context.Context, model T) (*Entity[T], error) {
	if c.config.Validate != nil {
		if err := c.config.Validate(model); err != nil {
			return nil, domainErrorf(KindValidation, "%v", err)
		}
	}
	values, err := c.schema.toValues(reflect.ValueOf(model))
	if err != nil {
		return nil, Classify(err)
	}

	id := uuid.NewString()
	entity := &Entity[T]{ID: id, Version: 1, State: model}

	err = c.engine.Transaction(ctx, func(tx *db.Tx) error {
		return c.createOneIn(ctx, tx, id, model, values)
	})
	if err != nil {
		return nil, Classify(err)
	}
	return entity, nil
}

// createOneIn performs the insert plus its audit and envelope rows inside
// an existing transaction.
func (c *Collection[T]) createOneIn(ctx context.Context, tx *db.Tx, id string, model T, values []core.Value) error {
	var literals []string
	for _, v := range values {
		literals = append(literals, sqlLiteral(v))
	}
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s, %s, 1, %d)",
		c.name, sqlString(id), strings.Join(literals, ", "), c.schema.schemaVersion)
	if _, err := tx.Execute(ctx, insert); err != nil {
		return err
	}
	if err := c.appendAudit(ctx, tx, id, "create", 0, 1, summarize(model)); err != nil {
		return err
	}
	return c.appendEnvelope(ctx, tx, Envelope{
		EntityID: id, CommandType: "create", Payload: summarize(model), NewVersion: 1,
	})
}

// GetOne loads an aggregate; tombstoned or missing ids fail NotFound.
func (c *Collection[T]) GetOne(ctx context.Context, id string) (*Entity[T], error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE persist_id = %s", c.name, sqlString(id))
	result, err := c.engine.Query(ctx, query)
	if err != nil {
		return nil, Classify(err)
	}
	if len(result.Rows) == 0 {
		return nil, domainErrorf(KindNotFound, "aggregate %s not found in %s", id, c.name)
	}
	return c.rowToEntity(result.Rows[0])
}

func (c *Collection[T]) rowToEntity(row []core.Value) (*Entity[T], error) {
	n := len(c.schema.fields)
	if len(row) < n+2 {
		return nil, domainErrorf(KindInternal, "row width %d below schema %d", len(row), n+2)
	}
	model, err := c.schema.fromValues(row[1 : 1+n])
	if err != nil {
		return nil, Classify(err)
	}
	return &Entity[T]{
		ID:      row[0].Text,
		Version: uint64(row[1+n].Int),
		State:   model.Interface().(T),
	}, nil
}

// List returns every live aggregate in insertion order.
func (c *Collection[T]) List(ctx context.Context) ([]Entity[T], error) {
	result, err := c.engine.Query(ctx, "SELECT * FROM "+c.name)
	if err != nil {
		return nil, Classify(err)
	}
	out := make([]Entity[T], 0, len(result.Rows))
	for _, row := range result.Rows {
		entity, err := c.rowToEntity(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *entity)
	}
	return out, nil
}

// ListPage returns a window of the collection in insertion order.
func (c *Collection[T]) ListPage(ctx context.Context, offset, limit int) ([]Entity[T], error) {
	result, err := c.engine.Query(ctx,
		fmt.Sprintf("SELECT * FROM %s LIMIT %d OFFSET %d", c.name, limit, offset))
	if err != nil {
		return nil, Classify(err)
	}
	out := make([]Entity[T], 0, len(result.Rows))
	for _, row := range result.Rows {
		entity, err := c.rowToEntity(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *entity)
	}
	return out, nil
}

// FindFirst returns the first aggregate matching pred, or NotFound.
func (c *Collection[T]) FindFirst(ctx context.Context, pred func(T) bool) (*Entity[T], error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if pred(all[i].State) {
			return &all[i], nil
		}
	}
	return nil, domainErrorf(KindNotFound, "no aggregate in %s matches", c.name)
}

// QueryPageFilteredSorted filters, sorts and pages in one pass, all
// against the engine snapshot of a single query.
func (c *Collection[T]) QueryPageFilteredSorted(ctx context.Context, page, perPage int, filter func(T) bool, less func(a, b T) bool) ([]Entity[T], error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var filtered []Entity[T]
	for _, entity := range all {
		if filter == nil || filter(entity.State) {
			filtered = append(filtered, entity)
		}
	}
	if less != nil {
		sort.SliceStable(filtered, func(i, j int) bool {
			return less(filtered[i].State, filtered[j].State)
		})
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(filtered) {
		return nil, nil
	}
	end := start + perPage
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], nil
}

// Apply runs a command through the optimistic concurrency protocol:
// read, CAS on version, audit, envelope, outbox, commit. Engine
// write-write conflicts retry per policy; business conflicts do not.
func (c *Collection[T]) Apply(ctx context.Context, id string, cmd Command, opts ApplyOptions) (*ApplyResult, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		result, err := c.applyOnce(ctx, id, cmd, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !c.config.Retry.retryable(err, attempt) {
			return nil, err
		}
		backoff := c.config.Retry.backoff(attempt)
		log.WithFields(log.Fields{
			"collection": c.name, "id": id, "attempt": attempt, "backoff": backoff,
		}).Debug("retrying after write-write conflict")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, Classify(core.WrapErr(core.KindExecution, lastErr, "cancelled during retry"))
		}
	}
}

func (c *Collection[T]) applyOnce(ctx context.Context, id string, cmd Command, opts ApplyOptions) (*ApplyResult, error) {
	var result *ApplyResult

	err := c.engine.Transaction(ctx, func(tx *db.Tx) error {
		r, err := c.applyIn(ctx, tx, id, cmd, opts)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		classified := Classify(err)
		// A seq collision in the journal is an infrastructure race
		// between two otherwise independent commands, not a business
		// conflict: reclassify so the retry loop picks it up.
		if classified.Kind == KindUniqueKey && strings.Contains(classified.Message, "__journal") {
			return nil, &DomainError{Kind: KindWriteWrite, Message: classified.Message, cause: err}
		}
		return nil, classified
	}
	return result, nil
}

// applyIn runs the full command protocol inside an existing transaction:
// idempotency lookup, read, version CAS, reducer, audit, envelope and
// outbox rows.
func (c *Collection[T]) applyIn(ctx context.Context, tx *db.Tx, id string, cmd Command, opts ApplyOptions) (*ApplyResult, error) {
	if opts.IdempotencyKey != "" {
		scope := scopeKey(id, cmd.CommandType(), opts.IdempotencyKey)
		if response, ok, err := c.getReceipt(ctx, tx, scope); err != nil {
			return nil, err
		} else if ok {
			return &ApplyResult{ID: id, Response: response, Replayed: true}, nil
		}
	}

	current, err := c.getInTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if opts.ExpectedVersion != 0 && opts.ExpectedVersion != current.Version {
		return nil, domainErrorf(KindOptimisticLock,
			"aggregate %s is at version %d, expected %d", id, current.Version, opts.ExpectedVersion)
	}

	next, err := c.safeApply(current.State, cmd)
	if err != nil {
		return nil, err
	}
	if c.config.Validate != nil {
		if err := c.config.Validate(next); err != nil {
			return nil, domainErrorf(KindValidation, "%v", err)
		}
	}

	if err := c.casUpdate(ctx, tx, id, next, current.Version); err != nil {
		return nil, err
	}
	newVersion := current.Version + 1

	if err := c.appendAudit(ctx, tx, id, cmd.CommandType(), current.Version, newVersion, summarize(next)); err != nil {
		return nil, err
	}
	if err := c.appendEnvelope(ctx, tx, Envelope{
		EntityID:        id,
		CommandType:     cmd.CommandType(),
		Payload:         summarize(cmd),
		ExpectedVersion: opts.ExpectedVersion,
		NewVersion:      newVersion,
		IdempotencyKey:  opts.IdempotencyKey,
	}); err != nil {
		return nil, err
	}
	if c.config.Effects != nil {
		for _, effect := range c.config.Effects(current.State, next, cmd) {
			if err := c.appendOutbox(ctx, tx, id, effect); err != nil {
				return nil, err
			}
		}
	}

	response := fmt.Sprintf(`{"persist_id":%q,"version":%d}`, id, newVersion)
	if opts.IdempotencyKey != "" {
		scope := scopeKey(id, cmd.CommandType(), opts.IdempotencyKey)
		if err := c.putReceipt(ctx, tx, scope, response); err != nil {
			return nil, err
		}
	}
	return &ApplyResult{ID: id, NewVersion: newVersion, Response: response}, nil
}

// safeApply runs the reducer with panic containment: a panicking reducer
// rolls the transaction back and surfaces Internal. Patch and mutate
// commands are folded here; everything else goes to the configured
// reducer.
func (c *Collection[T]) safeApply(state T, cmd Command) (next T, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = state
			err = domainErrorf(KindInternal, "reducer panicked: %v", r)
		}
	}()

	switch typed := cmd.(type) {
	case patchCommand[T]:
		patched, perr := c.schema.applyPatch(reflect.ValueOf(state), typed.patch)
		if perr != nil {
			return state, Classify(perr)
		}
		return patched.Interface().(T), nil

	case mutateCommand[T]:
		working := state
		if merr := typed.fn(&working); merr != nil {
			*typed.businessErr = merr
			return state, domainErrorf(KindValidation, "%v", merr)
		}
		return working, nil

	default:
		if c.config.Apply == nil {
			return state, domainErrorf(KindInternal, "collection %s has no Apply reducer", c.name)
		}
		next, err = c.config.Apply(state, cmd)
		if err != nil {
			return next, domainErrorf(KindValidation, "%v", err)
		}
		return next, nil
	}
}

func (c *Collection[T]) getInTx(ctx context.Context, tx *db.Tx, id string) (*Entity[T], error) {
	result, err := tx.Query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE persist_id = %s", c.name, sqlString(id)))
	if err != nil {
		return nil, err
	}
	if len(result.Rows) == 0 {
		return nil, domainErrorf(KindNotFound, "aggregate %s not found in %s", id, c.name)
	}
	return c.rowToEntity(result.Rows[0])
}

// casUpdate writes the new state guarded by WHERE version = prior. Zero
// affected rows means the version moved underneath us.
func (c *Collection[T]) casUpdate(ctx context.Context, tx *db.Tx, id string, next T, priorVersion uint64) error {
	values, err := c.schema.toValues(reflect.ValueOf(next))
	if err != nil {
		return err
	}
	var sets []string
	for i, f := range c.schema.fields {
		sets = append(sets, fmt.Sprintf("%s = %s", f.Name, sqlLiteral(values[i])))
	}
	sets = append(sets, fmt.Sprintf("version = %d", priorVersion+1))

	update := fmt.Sprintf("UPDATE %s SET %s WHERE persist_id = %s AND version = %d",
		c.name, strings.Join(sets, ", "), sqlString(id), priorVersion)
	result, err := tx.Execute(ctx, update)
	if err != nil {
		return err
	}
	if result.AffectedRows == 0 {
		return domainErrorf(KindOptimisticLock, "aggregate %s moved past version %d", id, priorVersion)
	}
	return nil
}

// PatchOne applies a partial field update through the same protocol.
func (c *Collection[T]) PatchOne(ctx context.Context, id string, patch Patch, opts ApplyOptions) (*ApplyResult, error) {
	return c.Apply(ctx, id, patchCommand[T]{patch: patch, schema: c.schema}, opts)
}

// patchCommand adapts a Patch into the command pipeline.
type patchCommand[T any] struct {
	patch  Patch
	schema *modelSchema
}

func (patchCommand[T]) CommandType() string { return "patch" }

// Intent resolves a named business intent to a command and applies it.
func (c *Collection[T]) Intent(ctx context.Context, id, intent string, args any, opts ApplyOptions) (*ApplyResult, error) {
	mapper, ok := c.config.Intents[intent]
	if !ok {
		return nil, domainErrorf(KindValidation, "unknown intent %q", intent)
	}
	cmd, err := mapper(args)
	if err != nil {
		return nil, domainErrorf(KindValidation, "%v", err)
	}
	return c.Apply(ctx, id, cmd, opts)
}

// IntentMany applies the same intent to several aggregates, reporting
// per-id results. Each aggregate commits independently.
func (c *Collection[T]) IntentMany(ctx context.Context, ids []string, intent string, args any) (map[string]*ApplyResult, map[string]error) {
	results := map[string]*ApplyResult{}
	failures := map[string]error{}
	for _, id := range ids {
		if result, err := c.Intent(ctx, id, intent, args, ApplyOptions{}); err != nil {
			failures[id] = err
		} else {
			results[id] = result
		}
	}
	return results, failures
}

// Remove soft-deletes an aggregate: the row becomes an MVCC tombstone,
// invisible to reads but still in the audit stream, and is physically
// reclaimed by vacuum.
func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	err := c.engine.Transaction(ctx, func(tx *db.Tx) error {
		return c.removeIn(ctx, tx, id)
	})
	return classify(err)
}

// removeIn tombstones an aggregate inside an existing transaction.
func (c *Collection[T]) removeIn(ctx context.Context, tx *db.Tx, id string) error {
	current, err := c.getInTx(ctx, tx, id)
	if err != nil {
		return err
	}
	result, err := tx.Execute(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE persist_id = %s", c.name, sqlString(id)))
	if err != nil {
		return err
	}
	if result.AffectedRows == 0 {
		return domainErrorf(KindNotFound, "aggregate %s not found in %s", id, c.name)
	}
	return c.appendAudit(ctx, tx, id, "remove", current.Version, current.Version, "")
}

// MutateOneWith loads, hands the state to fn for in-place mutation, and
// saves with a CAS. Errors returned by fn come back unwrapped so business
// failures stay distinguishable from infrastructure ones.
func (c *Collection[T]) MutateOneWith(ctx context.Context, id string, fn func(*T) error) (*ApplyResult, error) {
	var businessErr error
	result, err := c.Apply(ctx, id, mutateCommand[T]{fn: fn, businessErr: &businessErr}, ApplyOptions{})
	if businessErr != nil {
		return nil, businessErr
	}
	return result, err
}

type mutateCommand[T any] struct {
	fn          func(*T) error
	businessErr *error
}

func (mutateCommand[T]) CommandType() string { return "mutate" }

// AtomicWith runs fn inside one engine transaction. It is the untyped
// escape hatch for ad-hoc SQL; cross-collection work with typed handles
// goes through WorkflowWithCreate.
func (c *Collection[T]) AtomicWith(ctx context.Context, fn func(tx *db.Tx) error) error {
	return classify(c.engine.Transaction(ctx, fn))
}

func scopeKey(id, operation, key string) string {
	return id + ":" + operation + ":" + key
}

func sqlType(t core.DataType) string {
	switch t {
	case core.IntegerType:
		return "INT"
	case core.FloatType:
		return "FLOAT"
	case core.BooleanType:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func sqlLiteral(v core.Value) string {
	switch v.Kind {
	case core.TextValue:
		return sqlString(v.Text)
	case core.NullValue:
		return "NULL"
	case core.BooleanValue:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	default:
		return v.Display()
	}
}
