package apicmdgw

import (
	"errors"
	"fmt"
	"time"

	"github.com/LeoCommon/altcom/pkg/frame"
)

var (
	ErrClosed          = errors.New("command gateway closed")
	ErrTransport       = errors.New("transport failure")
	ErrNoMemory        = errors.New("no buffer available for command")
	ErrProtocol        = errors.New("response does not match the command layout")
	ErrInvalidArgument = errors.New("invalid command gateway argument")
	ErrTooManyPending  = errors.New("no free transaction id")

	// ErrTimeout matches every *TimedOutError through errors.Is
	ErrTimeout error = &TimedOutError{}
)

// TimedOutError is returned when no response arrived within the timeout
type TimedOutError struct {
	cmd   frame.CommandID
	after time.Duration
}

func (t *TimedOutError) Error() string {
	return fmt.Sprintf("command %s timed out after %s", t.cmd, t.after)
}

func (t *TimedOutError) Is(e error) bool {
	_, ok := e.(*TimedOutError)
	return ok
}

func NewTimedOutError(cmd frame.CommandID, after time.Duration) error {
	return &TimedOutError{cmd, after}
}
