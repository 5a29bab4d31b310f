// Package wal implements the durability subsystem of memodb: the
// append-only write-ahead log, full-state snapshots, and remote archiving.
//
// Records are framed as
//
//	u32 length | u32 crc32 | payload
//
// with big-endian integers and a JSON payload whose first field is
// format_version. A record that fails its CRC or runs past end-of-file is
// treated as the torn tail of the log and truncated on the next open. A
// payload whose format_version is newer than the runtime is a hard
// Compatibility error.
//
// All file I/O goes through a billy.Filesystem: osfs under a persistence
// root, memfs for tests and for engines without durability.
package wal
