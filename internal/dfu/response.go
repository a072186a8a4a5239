package dfu

import (
	"encoding/binary"
	"fmt"
)

// OpCode is a secure DFU control point operation.
type OpCode uint8

const (
	OpCreate       OpCode = 0x01
	OpSetPRN       OpCode = 0x02
	OpCalcChecksum OpCode = 0x03
	OpExecute      OpCode = 0x04
	OpSelect       OpCode = 0x06
	OpResponse     OpCode = 0x60
)

func (o OpCode) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpSetPRN:
		return "set_prn"
	case OpCalcChecksum:
		return "calc_checksum"
	case OpExecute:
		return "execute"
	case OpSelect:
		return "select"
	case OpResponse:
		return "response"
	default:
		return fmt.Sprintf("op(0x%02X)", uint8(o))
	}
}

// ResultCode is the status byte of a control point response.
type ResultCode uint8

const (
	ResultInvalidCode           ResultCode = 0x00
	ResultSuccess               ResultCode = 0x01
	ResultOpCodeNotSupported    ResultCode = 0x02
	ResultInvalidParameter      ResultCode = 0x03
	ResultInsufficientResources ResultCode = 0x04
	ResultInvalidObject         ResultCode = 0x05
	ResultUnsupportedType       ResultCode = 0x07
	ResultOperationNotPermitted ResultCode = 0x08
	ResultOperationFailed       ResultCode = 0x0A
	ResultExtendedError         ResultCode = 0x0B
)

var resultNames = map[ResultCode]string{
	ResultInvalidCode:           "invalid code",
	ResultSuccess:               "success",
	ResultOpCodeNotSupported:    "op code not supported",
	ResultInvalidParameter:      "invalid parameter",
	ResultInsufficientResources: "insufficient resources",
	ResultInvalidObject:         "invalid object",
	ResultUnsupportedType:       "unsupported type",
	ResultOperationNotPermitted: "operation not permitted",
	ResultOperationFailed:       "operation failed",
	ResultExtendedError:         "extended error",
}

func (r ResultCode) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(0x%02X)", uint8(r))
}

// ExtendedError follows ResultExtendedError in a response.
type ExtendedError uint8

var extendedNames = []string{
	"no error",
	"invalid error code",
	"wrong command format",
	"unknown command",
	"init command invalid",
	"firmware version failure",
	"hardware version failure",
	"softdevice version failure",
	"signature missing",
	"wrong hash type",
	"hash failed",
	"wrong signature type",
	"verification failed",
	"insufficient space",
}

func (e ExtendedError) String() string {
	if int(e) < len(extendedNames) {
		return extendedNames[e]
	}
	return fmt.Sprintf("unsupported extended error 0x%02X", uint8(e))
}

// Error is a fatal transfer failure.
type Error struct {
	Op       OpCode
	Result   ResultCode
	Extended ExtendedError
	Message  string
}

func (e *Error) Error() string {
	switch {
	case e.Result == ResultExtendedError:
		return fmt.Sprintf("dfu: %s: extended error 0x%02X: %s", e.Op, uint8(e.Extended), e.Extended)
	case e.Message != "":
		return fmt.Sprintf("dfu: %s: %s", e.Op, e.Message)
	default:
		return fmt.Sprintf("dfu: %s: %s", e.Op, e.Result)
	}
}

// ValidationError reports a checksum report that disagrees with what was
// sent. The transfer loop retries the current object on it.
type ValidationError struct {
	Field    string // "crc" or "offset"
	Expected uint32
	Received uint32
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dfu: %s validation failed: expected %d, received %d", e.Field, e.Expected, e.Received)
}

// Object is the device's view of the selected object.
type Object struct {
	MaxSize uint32
	Offset  uint32
	CRC     uint32
}

// Checksum is a checksum report.
type Checksum struct {
	Offset uint32
	CRC    uint32
}

func (c Checksum) validate(offset, crc uint32) error {
	if c.CRC != crc {
		return &ValidationError{Field: "crc", Expected: crc, Received: c.CRC}
	}
	if c.Offset != offset {
		return &ValidationError{Field: "offset", Expected: offset, Received: c.Offset}
	}
	return nil
}

// parseResponse checks a control point notification for op and returns its
// payload.
//
//	[0] 0x60
//	[1] request op code
//	[2] result code
//	... payload, or the extended error code
func parseResponse(data []byte, op OpCode) ([]byte, error) {
	if len(data) < 3 {
		return nil, &Error{Op: op, Message: fmt.Sprintf("short response (%d bytes)", len(data))}
	}
	if OpCode(data[0]) != OpResponse {
		return nil, &Error{Op: op, Message: fmt.Sprintf("no response: 0x%02X", data[0])}
	}
	if OpCode(data[1]) != op {
		return nil, &Error{Op: op, Message: fmt.Sprintf("unexpected response to %s", OpCode(data[1]))}
	}
	switch res := ResultCode(data[2]); res {
	case ResultSuccess:
		return data[3:], nil
	case ResultExtendedError:
		e := &Error{Op: op, Result: res}
		if len(data) > 3 {
			e.Extended = ExtendedError(data[3])
		}
		return nil, e
	default:
		return nil, &Error{Op: op, Result: res}
	}
}

func parseObject(payload []byte) (Object, error) {
	if len(payload) < 12 {
		return Object{}, &Error{Op: OpSelect, Message: fmt.Sprintf("select payload needs 12 bytes, got %d", len(payload))}
	}
	return Object{
		MaxSize: binary.LittleEndian.Uint32(payload[0:4]),
		Offset:  binary.LittleEndian.Uint32(payload[4:8]),
		CRC:     binary.LittleEndian.Uint32(payload[8:12]),
	}, nil
}

func parseChecksum(payload []byte) (Checksum, error) {
	if len(payload) < 8 {
		return Checksum{}, &Error{Op: OpCalcChecksum, Message: fmt.Sprintf("checksum payload needs 8 bytes, got %d", len(payload))}
	}
	return Checksum{
		Offset: binary.LittleEndian.Uint32(payload[0:4]),
		CRC:    binary.LittleEndian.Uint32(payload[4:8]),
	}, nil
}
