package motion

import (
	"errors"
	"fmt"
)

// Domain errors returned by the Supervisor. None of them change state.
var (
	ErrNegativeTarget   = errors.New("motion: negative positions not allowed")
	ErrAlreadyHome      = errors.New("motion: already home")
	ErrInvalidFeedrate  = errors.New("motion: feedrate must be positive")
	ErrNegativeDistance = errors.New("motion: automatic move distance must not be negative")
	ErrNegativeInterval = errors.New("motion: automatic move interval must not be negative")
	ErrOutOfRange       = errors.New("motion: value out of range")
	ErrMotorHeld        = errors.New("motion: motor driver is off while a photo is taken")
	ErrMoving           = errors.New("motion: carriage is moving")
)

// BlockedError reports a move refused because the limit switch on the
// destination side is pressed.
type BlockedError struct {
	Direction Direction
	Side      Side
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("motion: can't move %s, %s switch is pressed", e.Direction, e.Side)
}
