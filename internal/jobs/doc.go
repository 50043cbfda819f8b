// Package jobs runs long operations in the background and records them in
// the jobs table.
//
// The Ledger owns the externally requested transitions: Start (at most one
// pending or running job per type), Cancel (pending only), ForceKill
// (running only) and the stalled sweep. The Runner owns execution: it moves
// a job from pending to running, walks the Work list item by item, persists
// progress every few items or seconds, and completes or fails the record.
//
// States only move forward:
//
//	pending -> running -> completed | failed
//	pending -> cancelled | failed
//
// A RunnerConfig.Gate, such as the memory monitor, is consulted before each
// item and may delay it. Work implementing Aborter releases its resources
// when the job fails after the work list was built.
//
// Force-killing a running job only changes its record. The goroutine
// executing it carries on and its final write is discarded.
package jobs
