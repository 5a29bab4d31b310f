// Package db assembles the memodb engine: statement dispatch, the
// executors for DDL, DML and queries, the expression evaluator registry,
// transaction binding, durability wiring and the fork/vacuum/checkpoint
// surface.
//
// # Quick Start
//
//	engine := db.NewEngine()
//	ctx := context.Background()
//
//	engine.Execute(ctx, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT)")
//	engine.Execute(ctx, "INSERT INTO users (id, name) VALUES (1, 'Alice')")
//
//	result, _ := engine.Query(ctx, "SELECT * FROM users")
//	result.Display()
//
// Statement execution is serialized by one reader/writer lock at the
// engine handle: SELECTs share it, writes take it exclusively. MVCC
// snapshots are what give concurrent readers a consistent view.
package db
