// Package archive persists the local tasks the task manager has accepted but
// not yet completed, so that they survive a process restart.
//
// A TaskArchiver is an append-ordered log: tasks are added when they are
// scheduled, removed once they complete, and LoadAllTasks returns whatever
// is left in the order it was added.
//
// # Backends
//
//   - MemoryArchiver: process-local, for tests and ephemeral clients
//   - BoltArchiver: a bbolt file on local disk
//   - NATSArchiver: a NATS JetStream key-value bucket, for clients whose
//     disk is not durable
//
// Records are CBOR encoded, so archives written by one backend can be copied
// verbatim into another.
//
// # Thread Safety
//
// All archivers are safe for concurrent use. The task manager itself only
// touches its archiver from one goroutine.
package archive
