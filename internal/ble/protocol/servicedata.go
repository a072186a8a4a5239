package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/chaz8081/stonectl/internal/ble/crypto"
)

// Service data UUIDs of the stone family, and of the Nordic secure DFU
// service a stone advertises while in bootloader mode.
const (
	ServiceUUIDPlug       uint16 = 0xC001
	ServiceUUIDBuiltin    uint16 = 0xC002
	ServiceUUIDGuidestone uint16 = 0xC003
	ServiceUUIDDFU        uint16 = 0xFE59
)

// IsFamilyUUID reports whether uuid is one of the stone service data UUIDs.
func IsFamilyUUID(uuid uint16) bool {
	return uuid == ServiceUUIDPlug || uuid == ServiceUUIDBuiltin || uuid == ServiceUUIDGuidestone
}

// Advertisement op-codes.
const (
	OpCodeLegacyState    uint8 = 3
	OpCodeLegacyExternal uint8 = 4
	OpCodeState          uint8 = 5
	OpCodeSetup          uint8 = 6
	OpCodeEncrypted      uint8 = 7 // and above, keyed with the service data key
)

// Data types carried in the decrypted block.
const (
	DataTypeState            uint8 = 0
	DataTypeError            uint8 = 1
	DataTypeExternalState    uint8 = 2
	DataTypeExternalError    uint8 = 3
	DataTypeAlternativeState uint8 = 4
)

// ValidationSentinel is the expected validation byte of a correctly
// decrypted state block.
const ValidationSentinel uint8 = 0xFA

const (
	serviceDataHeaderSize = 2
	serviceDataSize       = serviceDataHeaderSize + 16
)

// ServiceData is the decoded service data of one advertisement.
type ServiceData struct {
	ServiceUUID uint16
	OpCode      uint8
	DeviceType  uint8

	Setup         bool
	Decrypted     bool
	DataReady     bool
	ExternalState bool

	DataType    uint8
	DeviceID    uint8
	SwitchState SwitchState
	Flags       uint8
	Temperature int8
	PowerFactor int8
	// PowerUsage in watts.
	PowerUsage   float64
	EnergyUsed   int32
	ErrorBitmask ErrorBitmask
	// UniqueIdentifier changes whenever the stone refreshes its payload.
	UniqueIdentifier uint16
	ExtraFlags       uint8
	Validation       uint8
}

// ParseServiceData decodes the service data of a family advertisement.
// A block that cannot be decrypted (unknown op-code or missing key) is not
// an error: the result comes back with DataReady false.
func ParseServiceData(uuid uint16, data []byte, keys *crypto.Keyset) (*ServiceData, error) {
	if len(data) < serviceDataSize {
		return nil, fmt.Errorf("%w: service data needs %d bytes, got %d", ErrTruncated, serviceDataSize, len(data))
	}
	sd := &ServiceData{
		ServiceUUID: uuid,
		OpCode:      data[0],
		DeviceType:  data[1],
	}
	block := data[serviceDataHeaderSize:serviceDataSize]

	var key []byte
	switch op := sd.OpCode; {
	case op == OpCodeSetup:
		sd.Setup = true
		sd.parseSetup(block)
		return sd, nil
	case op >= OpCodeLegacyState && op <= OpCodeState:
		if keys != nil {
			key = keys.Basic
		}
	case op >= OpCodeEncrypted:
		if keys != nil {
			key = keys.ServiceData
		}
	default:
		return sd, nil
	}
	if len(key) != crypto.KeySize {
		return sd, nil
	}

	plain, err := crypto.DecryptECB(key, block)
	if err != nil {
		return sd, nil
	}
	sd.Decrypted = true
	sd.parseState(plain)
	return sd, nil
}

func (sd *ServiceData) parseState(b []byte) {
	sd.DataType = b[0]
	sd.DataReady = sd.DataType <= DataTypeAlternativeState
	sd.ExternalState = sd.DataType == DataTypeExternalState || sd.DataType == DataTypeExternalError
	sd.DeviceID = b[1]
	sd.SwitchState = SwitchState(b[2])
	sd.Flags = b[3]
	sd.Temperature = int8(b[4])
	sd.PowerFactor = int8(b[5])
	sd.PowerUsage = float64(int16(binary.LittleEndian.Uint16(b[6:8]))) / 8
	sd.EnergyUsed = int32(binary.LittleEndian.Uint32(b[8:12]))
	sd.UniqueIdentifier = binary.LittleEndian.Uint16(b[12:14])
	sd.ExtraFlags = b[14]
	sd.Validation = b[15]
}

func (sd *ServiceData) parseSetup(b []byte) {
	sd.DataType = b[0]
	sd.DataReady = sd.DataType <= DataTypeAlternativeState
	sd.SwitchState = SwitchState(b[1])
	sd.Flags = b[2]
	sd.Temperature = int8(b[3])
	sd.PowerFactor = int8(b[4])
	sd.PowerUsage = float64(int16(binary.LittleEndian.Uint16(b[5:7]))) / 8
	sd.ErrorBitmask = ErrorBitmask(binary.LittleEndian.Uint32(b[7:11]))
	sd.UniqueIdentifier = uint16(b[11])
}

// MarshalStateBlock encodes a plaintext state block. Stones produce these;
// the client uses it to simulate advertisements.
func MarshalStateBlock(sd *ServiceData) []byte {
	b := make([]byte, 16)
	b[0] = sd.DataType
	b[1] = sd.DeviceID
	b[2] = uint8(sd.SwitchState)
	b[3] = sd.Flags
	b[4] = uint8(sd.Temperature)
	b[5] = uint8(sd.PowerFactor)
	binary.LittleEndian.PutUint16(b[6:8], uint16(int16(sd.PowerUsage*8)))
	binary.LittleEndian.PutUint32(b[8:12], uint32(sd.EnergyUsed))
	binary.LittleEndian.PutUint16(b[12:14], sd.UniqueIdentifier)
	b[14] = sd.ExtraFlags
	b[15] = sd.Validation
	return b
}
