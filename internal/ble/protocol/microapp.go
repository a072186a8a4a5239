package protocol

import (
	"encoding/binary"
	"fmt"
)

// MicroappProtocol is the microapp packet protocol version.
const MicroappProtocol = 1

// DefaultMicroappChunkSize is the upload chunk size used when none is given.
const DefaultMicroappChunkSize = 128

// MarshalMicroappHeader encodes the header shared by all microapp commands.
func MarshalMicroappHeader(index uint8) []byte {
	return []byte{MicroappProtocol, index}
}

// MarshalMicroappUpload encodes one upload chunk:
// header, u16 offset, chunk data.
func MarshalMicroappUpload(index uint8, offset uint16, chunk []byte) []byte {
	buf := MarshalMicroappHeader(index)
	buf = binary.LittleEndian.AppendUint16(buf, offset)
	return append(buf, chunk...)
}

// MicroappInfo is the payload of a microapp get-info result.
type MicroappInfo struct {
	Protocol     uint8
	MaxApps      uint8
	MaxAppSize   uint16
	MaxChunkSize uint16
	MaxRAMUsage  uint16
	SDKMajor     uint8
	SDKMinor     uint8
	// Apps holds the per-app status records, undecoded.
	Apps []byte
}

const microappInfoSize = 10

// ParseMicroappInfo decodes a microapp get-info result payload.
func ParseMicroappInfo(payload []byte) (*MicroappInfo, error) {
	if len(payload) < microappInfoSize {
		return nil, fmt.Errorf("%w: microapp info needs %d bytes, got %d", ErrTruncated, microappInfoSize, len(payload))
	}
	info := &MicroappInfo{
		Protocol:     payload[0],
		MaxApps:      payload[1],
		MaxAppSize:   binary.LittleEndian.Uint16(payload[2:4]),
		MaxChunkSize: binary.LittleEndian.Uint16(payload[4:6]),
		MaxRAMUsage:  binary.LittleEndian.Uint16(payload[6:8]),
		SDKMajor:     payload[8],
		SDKMinor:     payload[9],
	}
	if len(payload) > microappInfoSize {
		info.Apps = append([]byte(nil), payload[microappInfoSize:]...)
	}
	return info, nil
}
