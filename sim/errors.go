package sim

import "errors"

var (
	// ErrIncompatibleDependency is returned by Link when the instance does not
	// provide the capability named by the tag.
	ErrIncompatibleDependency = errors.New("incompatible dependency")

	// ErrInvalidConfig marks construction-time configuration errors: unknown
	// enum values, mismatched schedules, missing required linkage.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrIntegrity is returned from Execute when a component has no linked
	// dependency at all.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrExhaustedSequence is returned when a bounded sequence is indexed past
	// its end and the component's exhaustion policy is ExhaustFail.
	ErrExhaustedSequence = errors.New("sequence exhausted")
)
