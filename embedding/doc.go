// Package embedding batches texts into provider calls and collects the
// resulting vectors in input order.
//
// The orchestrator issues one provider call per batch, throttles calls with
// an optional rate limiter, and retries rate-limited batches with
// exponential backoff. A batch that still fails after retries is either
// zero-filled and recorded on the result, or aborts the run, depending on
// configuration. The provider returning the wrong number of vectors for a
// batch is always a hard error.
package embedding
