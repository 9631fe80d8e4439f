/*
Package coordinator ties the Warden control plane together.

The coordinator owns a fixed registry of named agents initialized at
startup, accepts their status reports and trigger requests, and runs
aggregated health checks: every dependency probe plus one derived check
per agent. Aggregation is exhaustive:

	unhealthy  any dependency check failed, or two or more agents in error
	degraded   any check warned, or exactly one agent in error
	healthy    otherwise

An unhealthy snapshot is escalated synchronously to the remediation
engine before the health check returns. A periodic self-check loop keeps
this running without an external poller.
*/
package coordinator
