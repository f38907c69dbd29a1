// Package flow is the execution layer of flowgrad. It owns the dataflow graph
// of operator applications, tracks which results require gradients, and runs
// operators on a worker pool as soon as their inputs are available.
//
// # Building a graph
//
// A Graph is created with New and fed with source nodes (already computed
// tensors). Dispatch applies an operator kind to existing nodes and returns a
// new, not yet computed node. Dispatch never blocks: it validates the inputs,
// registers a scheduled unit and returns. Because Dispatch only accepts nodes
// previously returned by the same Graph, the dependency graph is acyclic by
// construction.
//
// # Scheduled units
//
// Every Dispatch call registers one unit made of three stages:
//
//	inputs ──► join ──► compute ──► fan-out ──► output cells
//
// The join is a counter of unsettled inputs. Each input cell decrements it
// from an OnSettled callback; whichever callback reaches zero pushes the unit
// onto the ready queue, so no worker ever blocks on a specific cell. A worker
// then runs the operator exactly once and the fan-out writes each output into
// its own write-once cell, which may in turn release downstream units.
//
// # Failures
//
// An operator error or panic fails the unit's output cells with a
// *ComputeError. Downstream units observe the failed cell and fail their own
// outputs with an *UpstreamError wrapping the root cause, so a blocked Get
// never hangs on a poisoned branch. Unrelated branches are unaffected.
//
// # Lifecycle
//
// Shutdown stops accepting dispatches, waits for every registered unit to
// settle, stops the workers and reports the root-cause compute failures.
package flow
