package protocol

import (
	"encoding/binary"
	"fmt"
)

// StateType identifies a state variable read with CommandGetState and
// written with CommandSetState.
type StateType uint16

const (
	StateCurrentThreshold       StateType = 20
	StateCurrentThresholdDimmer StateType = 21
	StatePWMAllowed             StateType = 31
	StateSwitchLocked           StateType = 32
	StateResetCounter           StateType = 128
	StateSwitchState            StateType = 129
	StateEnergyUsed             StateType = 130
	StatePowerUsage             StateType = 131
	StateOperationMode          StateType = 134
	StateTemperature            StateType = 135
	StateTime                   StateType = 136
	StateErrorBitmask           StateType = 139
)

// stateHeaderSize covers type, id, persistence mode and a reserved byte.
const stateHeaderSize = 6

// MarshalStateGet encodes the payload of a get-state command.
func MarshalStateGet(state StateType, id uint16) []byte {
	buf := make([]byte, stateHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(state))
	binary.LittleEndian.PutUint16(buf[2:4], id)
	return buf
}

// PersistenceMode selects whether a set-state write survives a reboot.
type PersistenceMode uint8

const (
	PersistenceTemporary PersistenceMode = 0
	PersistenceStored    PersistenceMode = 1
)

// MarshalStateSet encodes the payload of a set-state command.
func MarshalStateSet(state StateType, id uint16, mode PersistenceMode, value []byte) []byte {
	buf := make([]byte, stateHeaderSize, stateHeaderSize+len(value))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(state))
	binary.LittleEndian.PutUint16(buf[2:4], id)
	buf[4] = uint8(mode)
	return append(buf, value...)
}

// StateValue strips the state header from a get-state result payload.
func StateValue(payload []byte) ([]byte, error) {
	if len(payload) < stateHeaderSize {
		return nil, fmt.Errorf("%w: state payload needs %d bytes, got %d", ErrTruncated, stateHeaderSize, len(payload))
	}
	return payload[stateHeaderSize:], nil
}

// SwitchState packs the relay bit and the dimmer intensity into one byte.
type SwitchState uint8

// Relay reports whether the relay is closed.
func (s SwitchState) Relay() bool { return s&0x80 != 0 }

// Dimmer returns the dimmer intensity in percent.
func (s SwitchState) Dimmer() uint8 { return uint8(s) & 0x7F }

func (s SwitchState) String() string {
	return fmt.Sprintf("relay=%t dimmer=%d%%", s.Relay(), s.Dimmer())
}

// ErrorBitmask is the device error state.
type ErrorBitmask uint32

const (
	ErrorOverCurrent       ErrorBitmask = 1 << 0
	ErrorOverCurrentDimmer ErrorBitmask = 1 << 1
	ErrorChipTemperature   ErrorBitmask = 1 << 2
	ErrorDimmerTemperature ErrorBitmask = 1 << 3
	ErrorDimmerOnFailure   ErrorBitmask = 1 << 4
	ErrorDimmerOffFailure  ErrorBitmask = 1 << 5
)

// HasErrors reports whether any error bit is set.
func (e ErrorBitmask) HasErrors() bool { return e != 0 }
