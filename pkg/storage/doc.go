/*
Package storage provides persistent state storage for the Warden control
plane, backed by BoltDB.

Each component (scheduler, healer, coordinator) checkpoints its full
in-memory state as a single JSON document after every mutating operation;
a crash after a successful response never loses that mutation. Task, heal
action and agent records are additionally written to their own buckets so
they can be inspected without loading component state.

The records bucket holds remediation side effects deferred to external
systems: pending rollback markers and alert records.
*/
package storage
