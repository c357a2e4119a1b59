// Package executor answers execution requests from inside the sandbox room.
//
// Each EXECUTE_REQUEST runs on its own goroutine against a pooled goja
// runtime and produces exactly one EXECUTE_RESULT or EXECUTE_ERROR carrying
// the same runId. CANCEL_REQUEST interrupts a run that is still going; for
// any other runId it does nothing.
//
// The executor announces EXECUTOR_READY when it starts, whenever it sees
// READY_PROBE, and after BUILD_COMPLETE has retired its runtimes.
package executor
