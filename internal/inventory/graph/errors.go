package graph

import (
	"errors"
	"fmt"

	"github.com/steveyegge/invsync/internal/inventory/schema"
)

var (
	// ErrUnknownObjectType is returned when no mapper is registered for an
	// object type. It aborts the pass being built.
	ErrUnknownObjectType = errors.New("unknown object type")

	// ErrSealed is returned when a graph is modified after being handed off.
	ErrSealed = errors.New("inventory graph is sealed")

	// ErrNoPass is returned when Add is called without Begin.
	ErrNoPass = errors.New("no pass in progress")
)

// UnknownObjectTypeError carries the identity that could not be mapped.
type UnknownObjectTypeError struct {
	Identity schema.Identity
	Kind     schema.Kind
}

func (e *UnknownObjectTypeError) Error() string {
	return fmt.Sprintf("unknown object type %q (%s %s)", e.Identity.Type, e.Kind, e.Identity.Ref)
}

// Is makes errors.Is(err, ErrUnknownObjectType) hold.
func (e *UnknownObjectTypeError) Is(target error) bool {
	return target == ErrUnknownObjectType
}

// MapError wraps a failure returned by a mapper.
type MapError struct {
	Identity schema.Identity
	Err      error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("failed to map %s: %v", e.Identity, e.Err)
}

func (e *MapError) Unwrap() error {
	return e.Err
}
