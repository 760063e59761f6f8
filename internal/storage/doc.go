// Package storage persists scheduled activity instances and participant
// life-cycle events.
//
// Drivers:
//   - "memory": process-local maps (default)
//   - "file": memory plus a JSON Lines journal compacted into a snapshot
//   - "sqlite": SQLite database file
//   - "redis": one hash per participant for instances and one for events
//
// Batched writes report partial failure as a *BatchError naming every guid
// that was not written; the rest of the batch is kept.
package storage
