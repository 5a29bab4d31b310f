// Package memodb provides an embeddable, in-memory relational database
// with a PostgreSQL-flavored SQL dialect, snapshot-isolation MVCC, a
// write-ahead log with full-state snapshots, and an optimistic-locking
// persistence object layer for command-sourced aggregates.
//
// # Quick Start
//
// Create an in-memory engine:
//
//	engine := memodb.Open()
//	ctx := context.Background()
//
//	engine.Execute(ctx, "CREATE TABLE users (id INT PRIMARY KEY, name TEXT)")
//	engine.Execute(ctx, "INSERT INTO users (id, name) VALUES (1, 'Alice')")
//
//	result, _ := engine.Query(ctx, "SELECT * FROM users")
//	result.Display()
//
// Durable engines recover from their root directory:
//
//	engine, _ := memodb.OpenAuto("/var/lib/myapp/db")
//
// # Supported SQL
//
// memodb supports a subset of PostgreSQL SQL including:
//   - CREATE/DROP TABLE, CREATE/DROP INDEX, CREATE/DROP VIEW
//   - ALTER TABLE ADD/DROP/RENAME COLUMN, RENAME TABLE
//   - INSERT, SELECT, UPDATE, DELETE
//   - WHERE with full expression grammar, LIKE, BETWEEN, IN, EXISTS
//   - ORDER BY (stable, NULLs last), LIMIT, OFFSET, DISTINCT
//   - Aggregates COUNT, SUM, AVG, MIN, MAX with GROUP BY and HAVING
//   - INNER, LEFT and RIGHT JOINs
//   - WITH [RECURSIVE] common table expressions
//   - Window functions ROW_NUMBER and RANK
//   - JSON field access with -> and ->>
//   - EXPLAIN
//   - Transactions: BEGIN, COMMIT, ROLLBACK
package memodb
