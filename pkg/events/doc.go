// Package events provides an in-process publish/subscribe broker for
// control plane lifecycle events (task transitions, heal executions,
// breaker state changes, agent status updates). Delivery is best effort:
// slow subscribers miss events rather than stalling publishers.
package events
