// Package store holds pending tasks ordered by due time.
//
// Store is the contract the scheduler consumes. Memory is the reference
// implementation; SQLite keeps task rows on disk so repeating and future tasks
// survive a restart (actions are re-bound through a Resolver).
package store
