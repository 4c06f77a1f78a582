// Package commandqueue provides lane-based task serialization. The
// engine enqueues each run onto its session lane so two invocations for
// the same session never overlap, while unrelated lanes execute
// concurrently.
//
// Invariants:
//   - Tasks within one lane run at most `concurrency` at a time
//     (default 1).
//   - Resetting a lane bumps its generation; queued tasks from older
//     generations are rejected, never silently executed.
package commandqueue
