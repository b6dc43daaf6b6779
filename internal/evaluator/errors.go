package evaluator

import "errors"

// Error kinds surfaced by the callback protocol. Solver statuses such as
// infeasible or unbounded are results, not errors, and never pass through
// here; internal invariant violations panic instead, since they signal a bug
// in tape construction rather than bad input.
var (
	// ErrUnsupportedFeature reports an Initialize request outside the
	// supported capability set.
	ErrUnsupportedFeature = errors.New("evaluator: unsupported feature requested")

	// ErrCapabilityNotRequested reports a Hessian-family call without the
	// matching capability having been requested at initialization.
	ErrCapabilityNotRequested = errors.New("evaluator: capability was not requested at initialization")

	// ErrCapabilityMismatch reports a repeated Initialize asking for
	// capabilities beyond the first call's grant, which cannot grow.
	ErrCapabilityMismatch = errors.New("evaluator: capabilities cannot grow after the first initialization")

	// ErrStaleParameters guards re-solves whose parameter values changed
	// while some parameters are referenced by no tape: values folded into
	// the prior build would be silently stale. Permit explicitly via
	// Config.AllowStaleParameters.
	ErrStaleParameters = errors.New("evaluator: parameter values changed since the evaluator was built")

	// ErrNotInitialized reports an evaluation call before Initialize.
	ErrNotInitialized = errors.New("evaluator: Initialize has not been called")
)
