// Package ledger implements the tamper-evident project event ledger.
//
// Every project owns an independent hash chain. The first event of a chain
// links to GenesisHash (64 hex zeros); every later event records the
// CurrentHash of its predecessor, and its own CurrentHash is the SHA-256 of
// the RFC 8785 canonical form of the event payload followed by PreviousHash.
// Any edit to a stored event is therefore detectable with VerifyIntegrity.
//
// Storage is pluggable through the Store interface:
//   - MemoryStore: in-process, for tests and development.
//   - PostgresStore: durable, for production use.
//   - SQLStore: SQLite via database/sql, for single-node deployments.
//   - BadgerStore: embedded key-value store with optimistic transactions.
//
// Writes go through Writer, which serialises appends per project with a
// Locker. Reads go through Reader and take no locks.
package ledger
