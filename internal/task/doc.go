// Package task defines the unit of work handled by the scheduler.
//
// A Task is an immutable value: its identity (ID) is assigned by a store and is the
// only thing compared for equality. Repeating tasks move forward in time through
// Successor, which stores call when they reposition a task after it fired.
//
// Specs describe tasks before they exist:
//
//	spec, err := task.NewSpec(action, task.ExecuteAt(at), task.RepeatEvery(time.Minute))
package task
