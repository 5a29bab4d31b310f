// Package persist layers command-sourced, optimistic-locked aggregates
// over the memodb SQL engine.
//
// A collection stores one aggregate per row: a stable persist_id, the
// model's fields as columns, a monotonically increasing version, and the
// model's schema version. Mutations go through deterministic reducers in
// one of three shapes — a Draft (constructor input), a Patch (partial
// field update) or a Command (explicit domain event) — and are committed
// with a compare-and-swap on the version column. Engine-level write-write
// conflicts are retried per policy; optimistic-lock and unique-key
// conflicts are surfaced to the caller and never retried.
//
// Every successful command also appends, in the same engine transaction:
// an audit row to <name>__audits, a command envelope to <name>__journal,
// and any declared side effects to <name>__outbox for an external
// dispatcher to poll.
//
// Model fields are declared with struct tags:
//
//	type User struct {
//	    Name   string `json:"name"`
//	    Email  string `json:"email" persist:"unique"`
//	    City   string `json:"city" persist:"index"`
//	    Active bool   `json:"active"`
//	}
//
// persist:"unique" emits a unique index at table bootstrap; violations
// surface as KindUniqueKey. persist:"index" emits a plain index.
package persist
