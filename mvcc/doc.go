// Package mvcc implements multi-version concurrency control for memodb:
// monotonic transaction ids, begin-time snapshots, commit/abort bookkeeping,
// and the visibility rule that storage applies to every row version.
//
// A transaction observes the database as of its begin time. A row version is
// visible when its creator committed before the snapshot was taken and its
// deleter (if any) did not. Versions written by aborted transactions are
// never visible and are reclaimed by vacuum.
package mvcc
