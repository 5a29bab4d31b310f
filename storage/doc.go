// Package storage implements the memodb storage engine: tables as
// structurally-shared ordered sequences of versioned rows, secondary
// indexes, unique-constraint checks under a writer's snapshot, and the
// copy-on-write catalog.
//
// Every stored row carries the id of the transaction that created it and,
// once superseded or deleted, the id of the transaction that tombstoned it.
// Readers never block writers: a scan walks the version sequence it
// captured and applies the mvcc visibility rule per version.
//
// The version sequence is a persistent vector with path-copying, so cloning
// a table — and therefore forking the whole database — shares structure and
// costs O(1) per table.
package storage
