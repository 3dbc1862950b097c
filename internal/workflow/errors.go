package workflow

import "errors"

var (
	// ErrNotFound is returned when an instance or flow definition is unknown.
	ErrNotFound = errors.New("workflow: not found")

	// ErrCompleted is returned when advancing an instance that already
	// reached the end of its flow.
	ErrCompleted = errors.New("workflow: instance already completed")

	// ErrInvalidDefinition is returned by Definition.Validate for graphs
	// with dangling node references or malformed nodes.
	ErrInvalidDefinition = errors.New("workflow: invalid definition")
)
