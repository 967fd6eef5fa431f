// Package engine executes workflows as dependency-ordered DAGs of tasks.
//
// A workflow is validated up front: duplicate, unknown and self dependencies
// and cycles are rejected before any step runs. Execution dispatches steps
// whose dependencies have all succeeded onto a bounded worker pool, retries
// failed attempts according to the configured policy, and propagates
// permanent step failures to the entire downstream cone. Run and step
// outcomes are persisted through the store and streamed live through the
// event broker.
package engine
