package memodb

import (
	"context"

	"github.com/maxBogovick/memodb/db"
	"github.com/maxBogovick/memodb/persist"
	"github.com/maxBogovick/memodb/wal"
)

// Open creates a purely in-memory engine without durability.
func Open() *db.Engine {
	return db.NewEngine()
}

// OpenAuto creates an engine rooted at root with strict durability,
// recovering from any WAL segments and snapshots already there.
func OpenAuto(root string) (*db.Engine, error) {
	engine := db.NewEngine()
	if err := engine.EnablePersistence(root, wal.ModeStrict); err != nil {
		return nil, err
	}
	return engine, nil
}

// OpenWithMode creates an engine rooted at root with an explicit
// durability mode.
func OpenWithMode(root string, mode wal.Mode) (*db.Engine, error) {
	engine := db.NewEngine()
	if err := engine.EnablePersistence(root, mode); err != nil {
		return nil, err
	}
	return engine, nil
}

// OpenAutonomous opens (bootstrapping if needed) a managed aggregate
// collection for model V on the engine.
func OpenAutonomous[V any](ctx context.Context, engine *db.Engine, name string, config persist.Config[V]) (*persist.Collection[V], error) {
	return persist.OpenCollection[V](ctx, engine, name, config)
}
