// Package engine executes due tasks on behalf of the scheduler.
//
// Runner is the one-method contract the scheduler consumes. Direct calls the
// action inline and lets failures propagate; Recover, Instrument and Pool are
// composable collaborators for isolation, observability and dispatch onto a
// worker pool.
package engine
