package persist

import (
	"context"
	"fmt"
	"reflect"

	log "github.com/sirupsen/logrus"

	"github.com/maxBogovick/memodb/db"
)

// MigrationStep lifts a collection from one schema version to the next.
// SQL, when set, runs first (typically ALTER TABLE); StateFn, when set,
// then rewrites each aggregate's patchable fields.
type MigrationStep struct {
	From    uint32
	To      uint32
	SQL     string
	StateFn func(old Patch) (Patch, error)
}

// MigrationPlan is the ordered step list registered for a collection
// name. Plans are consulted when a collection opens against rows whose
// recorded schema version is behind the model's.
type MigrationPlan struct {
	Collection string
	Steps      []MigrationStep
}

var migrationPlans = map[string]*MigrationPlan{}

// RegisterMigration installs a plan before collections open.
func RegisterMigration(plan *MigrationPlan) {
	migrationPlans[plan.Collection] = plan
}

// migrateIfNeeded walks the registered plan from the stored version to
// the model's, failing fast on an unhandled gap.
func (c *Collection[T]) migrateIfNeeded(ctx context.Context) error {
	stored, err := c.storedSchemaVersion(ctx)
	if err != nil {
		return err
	}
	target := c.schema.schemaVersion
	if stored == target {
		return nil
	}
	if stored > target {
		return domainErrorf(KindInternal,
			"collection %s stores schema %d, newer than model %d", c.name, stored, target)
	}

	plan := migrationPlans[c.name]
	for stored < target {
		var step *MigrationStep
		if plan != nil {
			for i := range plan.Steps {
				if plan.Steps[i].From == stored {
					step = &plan.Steps[i]
					break
				}
			}
		}
		if step == nil {
			return domainErrorf(KindInternal,
				"collection %s has no migration step from schema %d", c.name, stored)
		}
		if err := c.runMigrationStep(ctx, step); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"collection": c.name, "from": step.From, "to": step.To,
		}).Info("migrated collection schema")
		stored = step.To
	}
	return c.putSchemaVersion(ctx, stored)
}

func (c *Collection[T]) runMigrationStep(ctx context.Context, step *MigrationStep) error {
	// DDL is autocommitted by the engine and cannot run inside the
	// rewrite transaction.
	if step.SQL != "" {
		if _, err := c.engine.Execute(ctx, step.SQL); err != nil {
			return err
		}
	}
	return c.engine.Transaction(ctx, func(tx *db.Tx) error {
		if step.StateFn != nil {
			rows, err := tx.Query(ctx, "SELECT persist_id FROM "+c.name)
			if err != nil {
				return err
			}
			for _, row := range rows.Rows {
				id := row[0].Text
				entity, err := c.getInTx(ctx, tx, id)
				if err != nil {
					return err
				}
				old := Patch{}
				values, err := c.schema.toValues(reflect.ValueOf(entity.State))
				if err != nil {
					return err
				}
				for i, f := range c.schema.fields {
					old[f.Name] = values[i].Display()
				}
				updated, err := step.StateFn(old)
				if err != nil {
					return err
				}
				if len(updated) == 0 {
					continue
				}
				next, err := c.schema.applyPatch(reflect.ValueOf(entity.State), updated)
				if err != nil {
					return err
				}
				if err := c.casUpdate(ctx, tx, id, next.Interface().(T), entity.Version); err != nil {
					return err
				}
			}
		}
		// Stamp every row's schema_version forward.
		_, err := tx.Execute(ctx, fmt.Sprintf(
			"UPDATE %s SET schema_version = %d", c.name, step.To))
		return err
	})
}

func (c *Collection[T]) storedSchemaVersion(ctx context.Context) (uint32, error) {
	result, err := c.engine.Query(ctx, fmt.Sprintf(
		"SELECT current_schema_version FROM schema_versions WHERE table_name = %s", sqlString(c.name)))
	if err != nil {
		return 0, err
	}
	if len(result.Rows) == 0 {
		// First open: record the model's version.
		if err := c.putSchemaVersion(ctx, c.schema.schemaVersion); err != nil {
			return 0, err
		}
		return c.schema.schemaVersion, nil
	}
	return uint32(result.Rows[0][0].Int), nil
}

func (c *Collection[T]) putSchemaVersion(ctx context.Context, version uint32) error {
	result, err := c.engine.Execute(ctx, fmt.Sprintf(
		"UPDATE schema_versions SET current_schema_version = %d WHERE table_name = %s",
		version, sqlString(c.name)))
	if err != nil {
		return err
	}
	if result.AffectedRows == 0 {
		_, err = c.engine.Execute(ctx, fmt.Sprintf(
			"INSERT INTO schema_versions VALUES (%s, %d)", sqlString(c.name), version))
	}
	return err
}
