package ble

import (
	"errors"
	"fmt"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// Transport errors.
var (
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")
	ErrNotConnected           = errors.New("ble: not connected")
	ErrDisconnected           = errors.New("ble: disconnected")
)

// ErrSessionValidation is returned when the session data block does not
// decrypt to a valid block, usually because the basic key is wrong.
var ErrSessionValidation = errors.New("ble: session validation failed")

// Result errors.
var (
	ErrResultInvalid     = errors.New("ble: invalid result packet")
	ErrResultNotAccepted = errors.New("ble: result not accepted")
)

// Notification errors. Both timeouts satisfy errors.Is(err, ErrNotificationTimeout).
var (
	ErrNotificationTimeout       = errors.New("ble: notification timeout")
	ErrNoNotificationData        = &timeoutError{"ble: no notification data received"}
	ErrNotificationStreamTimeout = &timeoutError{"ble: notification stream timeout"}
	ErrStreamAborted             = errors.New("ble: notification stream aborted")
	ErrInvalidEncryptedPayload   = errors.New("ble: invalid encrypted payload")
)

// Recovery errors.
var (
	ErrRecoveryDisabled    = errors.New("ble: recovery is disabled on this device")
	ErrNotInRecoveryWindow = errors.New("ble: device is not in its recovery window")
)

type timeoutError struct{ msg string }

func (e *timeoutError) Error() string { return e.msg }

func (e *timeoutError) Is(target error) bool { return target == ErrNotificationTimeout }

// ResultNotAcceptedError reports a result code outside the accepted set.
type ResultNotAcceptedError struct {
	Command protocol.CommandType
	Code    protocol.ResultCode
	Payload []byte
}

func (e *ResultNotAcceptedError) Error() string {
	return fmt.Sprintf("ble: %s: result %s (%d) not accepted", e.Command, e.Code, uint16(e.Code))
}

func (e *ResultNotAcceptedError) Is(target error) bool { return target == ErrResultNotAccepted }
