/*
Package types defines the shared data model for the Warden control plane.

Tasks, heal actions, agent health records and the circuit breaker state are
plain structs exchanged between the scheduler, the remediation engine and
the coordinator. Enum-like string types (TaskStatus, ActionKind, AgentStatus,
CheckResult) keep the wire format readable while allowing exhaustive switch
dispatch in the components that consume them.

Ownership rules:

  - Task records are owned by the scheduler.
  - HealAction records and the CircuitBreakerState are owned by the
    remediation engine.
  - AgentHealth records are owned by the coordinator.

Other packages receive copies or read-only snapshots; they never mutate
another component's records in place.
*/
package types
