/*
Package scheduler implements Warden's priority task scheduler.

Tasks move through a fixed state machine:

	pending -> running -> {completed | failed}
	failed -> retrying -> running        (while retries remain)
	failed with retries exhausted        (terminal)

ProcessNext selects the ready task with the numerically smallest priority
value; enqueue order is the canonical tie-break. Failed tasks re-enter the
queue after an exponential backoff (base * 2^retryCount), driven by a
single wake-up deadline per scheduler instance: setting a new deadline
always replaces the pending one, never accumulates timers. The automatic
drain loop treats a retrying task as ready only once its backoff deadline
has passed; a manual ProcessNext call may run it early.

The scheduler is a single-threaded actor. Every operation serializes on
the instance mutex, including across handler dispatch, and the full state
document is checkpointed to the store before a result is returned.
Handler failures are converted into the failed transition; no task
failure ever aborts the scheduler itself.
*/
package scheduler
