package calls

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrNotPermitted    = errors.New("calls: not permitted")
	ErrInvalidState    = errors.New("calls: invalid state")
	ErrInvalidArgument = errors.New("calls: invalid argument")

	// ErrNotConnected is returned by JoinCall for a user with no live
	// connection. It is also an ErrInvalidState.
	ErrNotConnected = fmt.Errorf("%w: user is not connected", ErrInvalidState)
)
