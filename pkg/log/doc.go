// Package log wraps zerolog with a process-global logger and child-logger
// helpers carrying the fields Warden components attach to every line
// (component, task_id, agent, action_id). Call Init once at startup.
package log
