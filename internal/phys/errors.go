package phys

import "errors"

var (
	// ErrInvalidConstraintReference is returned when a constraint names an
	// object index that does not resolve to a live object.
	ErrInvalidConstraintReference = errors.New("constraint references invalid object")

	// ErrInvalidObject is returned when an object fails validation on add.
	ErrInvalidObject = errors.New("invalid object")
)
