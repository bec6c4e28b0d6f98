// Package scheduler is the coordinator that fires tasks at their due time.
//
// A Service owns one loop goroutine. The loop keeps the earliest known task in
// a cache, sleeps towards its due time in precision-corrected steps, and runs
// it through an engine.Runner once the due time has been reached. AddTask may
// be called from any goroutine; it wakes the loop when the new task is due
// sooner than the cached one.
//
// Tasks run while the coordinator holds its lock, so actions and runners must
// not call AddTask on the same Service.
package scheduler
