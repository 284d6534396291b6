// Package sched provides the scheduling strategies that decide WHEN
// propagation tasks run. No scheduler alters the propagation algorithm
// itself - the network hands each scheduler the same runner and the
// scheduler only chooses ordering and timing.
//
// Execution is single-threaded and cooperative: suspension happens at
// queue-drain boundaries, never at blocking I/O. A dequeued task always
// runs to completion - there is no task-level cancellation; callers who
// need to stop work express it as a pause/isolate control signal.
//
// Every scheduler supports Flush (synchronous drain, required for
// deterministic tests) and Clear (discard pending work on teardown).
//
// A NetworkState is exclusively owned by its active scheduler: no two
// schedulers may drive the same state concurrently.
package sched
