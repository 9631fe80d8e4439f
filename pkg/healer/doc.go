/*
Package healer implements Warden's failure-remediation engine.

Failing health checks map to heal actions through an ordered rule table;
agents in error status always map to a restart. Actions execute
synchronously and are retained in a bounded history.

Execution is guarded by a circuit breaker: the breaker opens after the
configured number of consecutive failed executions and closes once the
reset window elapses. The elapsed-time check runs at the start of every
breaker-gated operation (Status, ManualTrigger, AutoHeal); ResetCircuit
force-closes it unconditionally. Any single successful execution zeroes
the consecutive failure count.

Remediation is best effort and designed idempotent: a restart enqueues a
self_heal task and reports the target as recovering, a retry re-queues
failed tasks, and rollback/alert record markers for external systems.
*/
package healer
