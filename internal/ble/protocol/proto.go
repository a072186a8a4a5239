// Package protocol implements the wire formats of the stone BLE protocol:
// control and result packets, the session data block, state and microapp
// payloads, and advertisement service data.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolVersion is the control packet protocol this client speaks.
const ProtocolVersion = 5

const (
	controlHeaderSize = 5 // protocol, command type, payload size
	resultHeaderSize  = 7 // protocol, command type, result code, payload size
)

// ErrTruncated is returned when a packet is shorter than its header claims.
var ErrTruncated = errors.New("protocol: truncated packet")

// CommandType selects the operation of a control packet.
type CommandType uint16

const (
	CommandSetup            CommandType = 0
	CommandFactoryReset     CommandType = 1
	CommandGetState         CommandType = 2
	CommandSetState         CommandType = 3
	CommandReset            CommandType = 10
	CommandGotoDFU          CommandType = 11
	CommandNoOperation      CommandType = 12
	CommandDisconnect       CommandType = 13
	CommandSwitch           CommandType = 20
	CommandMultiSwitch      CommandType = 21
	CommandDimmer           CommandType = 22
	CommandRelay            CommandType = 23
	CommandSetTime          CommandType = 30
	CommandResetErrors      CommandType = 32
	CommandAllowDimming     CommandType = 40
	CommandLockSwitch       CommandType = 41
	CommandGetPowerSamples  CommandType = 86
	CommandMicroappGetInfo  CommandType = 90
	CommandMicroappUpload   CommandType = 91
	CommandMicroappValidate CommandType = 92
	CommandMicroappRemove   CommandType = 93
	CommandMicroappEnable   CommandType = 94
	CommandMicroappDisable  CommandType = 95
)

var commandNames = map[CommandType]string{
	CommandSetup:            "setup",
	CommandFactoryReset:     "factory_reset",
	CommandGetState:         "get_state",
	CommandSetState:         "set_state",
	CommandReset:            "reset",
	CommandGotoDFU:          "goto_dfu",
	CommandNoOperation:      "no_operation",
	CommandDisconnect:       "disconnect",
	CommandSwitch:           "switch",
	CommandMultiSwitch:      "multi_switch",
	CommandDimmer:           "dimmer",
	CommandRelay:            "relay",
	CommandSetTime:          "set_time",
	CommandResetErrors:      "reset_errors",
	CommandAllowDimming:     "allow_dimming",
	CommandLockSwitch:       "lock_switch",
	CommandGetPowerSamples:  "get_power_samples",
	CommandMicroappGetInfo:  "microapp_get_info",
	CommandMicroappUpload:   "microapp_upload",
	CommandMicroappValidate: "microapp_validate",
	CommandMicroappRemove:   "microapp_remove",
	CommandMicroappEnable:   "microapp_enable",
	CommandMicroappDisable:  "microapp_disable",
}

func (c CommandType) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", uint16(c))
}

// ResultCode is the outcome reported in a result packet.
type ResultCode uint16

const (
	ResultSuccess             ResultCode = 0
	ResultWaitForSuccess      ResultCode = 1
	ResultSuccessNoChange     ResultCode = 2
	ResultBufferUnassigned    ResultCode = 16
	ResultBufferLocked        ResultCode = 17
	ResultBufferTooSmall      ResultCode = 18
	ResultNotAligned          ResultCode = 19
	ResultWrongPayloadLength  ResultCode = 32
	ResultWrongParameter      ResultCode = 33
	ResultInvalidMessage      ResultCode = 34
	ResultUnknownOpCode       ResultCode = 35
	ResultUnknownType         ResultCode = 36
	ResultNotFound            ResultCode = 37
	ResultNoSpace             ResultCode = 38
	ResultBusy                ResultCode = 39
	ResultWrongState          ResultCode = 40
	ResultAlreadyExists       ResultCode = 41
	ResultTimeout             ResultCode = 42
	ResultCanceled            ResultCode = 43
	ResultProtocolUnsupported ResultCode = 44
	ResultMismatch            ResultCode = 45
	ResultNoAccess            ResultCode = 48
	ResultUnsafe              ResultCode = 49
	ResultNotAvailable        ResultCode = 64
	ResultNotImplemented      ResultCode = 65
	ResultNotInitialized      ResultCode = 67
	ResultNotStarted          ResultCode = 68
	ResultWriteDisabled       ResultCode = 80
	ResultWriteNotAllowed     ResultCode = 81
	ResultEventUnhandled      ResultCode = 112
	ResultGattError           ResultCode = 128
	ResultUnspecified         ResultCode = 65535
)

var resultNames = map[ResultCode]string{
	ResultSuccess:             "success",
	ResultWaitForSuccess:      "wait_for_success",
	ResultSuccessNoChange:     "success_no_change",
	ResultBufferUnassigned:    "buffer_unassigned",
	ResultBufferLocked:        "buffer_locked",
	ResultBufferTooSmall:      "buffer_too_small",
	ResultNotAligned:          "not_aligned",
	ResultWrongPayloadLength:  "wrong_payload_length",
	ResultWrongParameter:      "wrong_parameter",
	ResultInvalidMessage:      "invalid_message",
	ResultUnknownOpCode:       "unknown_op_code",
	ResultUnknownType:         "unknown_type",
	ResultNotFound:            "not_found",
	ResultNoSpace:             "no_space",
	ResultBusy:                "busy",
	ResultWrongState:          "wrong_state",
	ResultAlreadyExists:       "already_exists",
	ResultTimeout:             "timeout",
	ResultCanceled:            "canceled",
	ResultProtocolUnsupported: "protocol_unsupported",
	ResultMismatch:            "mismatch",
	ResultNoAccess:            "no_access",
	ResultUnsafe:              "unsafe",
	ResultNotAvailable:        "not_available",
	ResultNotImplemented:      "not_implemented",
	ResultNotInitialized:      "not_initialized",
	ResultNotStarted:          "not_started",
	ResultWriteDisabled:       "write_disabled",
	ResultWriteNotAllowed:     "write_not_allowed",
	ResultEventUnhandled:      "event_unhandled",
	ResultGattError:           "gatt_error",
	ResultUnspecified:         "unspecified",
}

func (r ResultCode) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(%d)", uint16(r))
}

// ResultPacket is a parsed result message.
type ResultPacket struct {
	Protocol uint8
	Command  CommandType
	Code     ResultCode
	Payload  []byte
}

// MarshalControl encodes a control packet.
//
//	u8  protocol
//	u16 command type
//	u16 payload size
//	... payload
func MarshalControl(cmd CommandType, payload []byte) []byte {
	buf := make([]byte, controlHeaderSize, controlHeaderSize+len(payload))
	buf[0] = ProtocolVersion
	binary.LittleEndian.PutUint16(buf[1:3], uint16(cmd))
	binary.LittleEndian.PutUint16(buf[3:5], uint16(len(payload)))
	return append(buf, payload...)
}

// ParseResult decodes a result packet. Bytes beyond the declared payload
// size (cipher padding) are ignored.
func ParseResult(data []byte) (*ResultPacket, error) {
	if len(data) < resultHeaderSize {
		return nil, fmt.Errorf("%w: result header needs %d bytes, got %d", ErrTruncated, resultHeaderSize, len(data))
	}
	size := int(binary.LittleEndian.Uint16(data[5:7]))
	if len(data) < resultHeaderSize+size {
		return nil, fmt.Errorf("%w: result payload size %d exceeds remaining %d bytes", ErrTruncated, size, len(data)-resultHeaderSize)
	}
	payload := make([]byte, size)
	copy(payload, data[resultHeaderSize:resultHeaderSize+size])
	return &ResultPacket{
		Protocol: data[0],
		Command:  CommandType(binary.LittleEndian.Uint16(data[1:3])),
		Code:     ResultCode(binary.LittleEndian.Uint16(data[3:5])),
		Payload:  payload,
	}, nil
}

// MarshalResult encodes a result packet. Devices produce these; the client
// uses it to simulate peripherals.
func MarshalResult(cmd CommandType, code ResultCode, payload []byte) []byte {
	buf := make([]byte, resultHeaderSize, resultHeaderSize+len(payload))
	buf[0] = ProtocolVersion
	binary.LittleEndian.PutUint16(buf[1:3], uint16(cmd))
	binary.LittleEndian.PutUint16(buf[3:5], uint16(code))
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(payload)))
	return append(buf, payload...)
}

// Switch values beyond the 0..100 intensity range.
const (
	SwitchToggle    uint8 = 253
	SwitchBehaviour uint8 = 254
	SwitchSmartOn   uint8 = 255
)

// FactoryResetCode is the magic payload of factory reset and recovery writes.
const FactoryResetCode uint32 = 0xDEADBEEF

// MarshalUint8 returns a one-byte payload.
func MarshalUint8(v uint8) []byte { return []byte{v} }

// MarshalBool returns a one-byte boolean payload.
func MarshalBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// MarshalUint32 returns a little-endian four-byte payload.
func MarshalUint32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// MarshalUint16 encodes v little endian.
func MarshalUint16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}
