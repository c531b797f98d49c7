// Package evidence implements the per-incident hash-chained forensic
// evidence ledger.
//
// Every entry records the SHA-256 of its predecessor, so altering, deleting,
// reordering, or inserting entries out of band is detectable after the fact
// by Verify. The first entry of each incident's chain carries an empty
// previous_hash. Entries are write-once: the Store interface offers no
// update or delete, which makes the immutability guarantee structural rather
// than conventional.
//
// Two Store implementations are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package evidence
