package altcom

import (
	"errors"
	"fmt"

	"github.com/LeoCommon/altcom/internal/apicmdgw"
	"github.com/LeoCommon/altcom/pkg/frame"
)

var (
	ErrNotInitialized = errors.New("altcom client not initialized")
	ErrBusy           = errors.New("operation already in progress")

	// Resource exhausted, no pool buffer for the command or response
	ErrNoMemory = apicmdgw.ErrNoMemory
	// The link failed or the client was closed while waiting
	ErrTransport = apicmdgw.ErrTransport
	// The response does not have the layout the command expects
	ErrProtocol = apicmdgw.ErrProtocol
	// Matches every timed out transaction
	ErrTimeout = apicmdgw.ErrTimeout

	// ErrInvalidParam matches every *InvalidParamError through errors.Is
	ErrInvalidParam error = &InvalidParamError{}
	// ErrModem matches every *ModemError through errors.Is
	ErrModem error = &ModemError{}
)

// InvalidParamError is returned before any I/O when an argument is out of range
type InvalidParamError struct {
	Param  string
	Reason string
}

func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

func (e *InvalidParamError) Is(target error) bool {
	_, ok := target.(*InvalidParamError)
	return ok
}

func NewInvalidParamError(param string, format string, args ...any) error {
	return &InvalidParamError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// ModemError carries the negative result code of a structurally valid response
type ModemError struct {
	Cmd  frame.CommandID
	Code int32
}

func (e *ModemError) Error() string {
	return fmt.Sprintf("modem rejected command %s with code %d", e.Cmd, e.Code)
}

func (e *ModemError) Is(target error) bool {
	_, ok := target.(*ModemError)
	return ok
}

// ModemCode extracts the modem result code, ok is false for any other error
func ModemCode(err error) (code int32, ok bool) {
	var me *ModemError
	if errors.As(err, &me) {
		return me.Code, true
	}
	return 0, false
}

// gatewayError maps gateway failures onto the exported taxonomy
func gatewayError(err error) error {
	switch {
	case errors.Is(err, apicmdgw.ErrClosed), errors.Is(err, apicmdgw.ErrTooManyPending):
		return fmt.Errorf("%w: %w", ErrTransport, err)
	case errors.Is(err, apicmdgw.ErrInvalidArgument):
		return &InvalidParamError{Param: "command", Reason: err.Error()}
	default:
		return err
	}
}
