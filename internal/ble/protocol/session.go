package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SessionChecksum terminates a correctly decrypted session data block.
const SessionChecksum uint32 = 0xCAFEBABE

// SessionDataSize is the size of the ECB-encrypted session data block.
const SessionDataSize = 16

// ErrSessionChecksum is returned when the decrypted block does not end with
// SessionChecksum, which means the wrong key was used.
var ErrSessionChecksum = errors.New("protocol: session data checksum mismatch")

// SessionData is the decrypted content of the session data characteristic.
type SessionData struct {
	Nonce         []byte // 5 bytes
	ValidationKey []byte // 4 bytes
	Protocol      uint8
}

// ParseSessionData decodes a decrypted session data block.
//
//	[0:5]   session nonce
//	[5:9]   validation key
//	[9]     protocol version
//	[10:12] reserved
//	[12:16] checksum (u32 LE)
func ParseSessionData(block []byte) (*SessionData, error) {
	if len(block) < SessionDataSize {
		return nil, fmt.Errorf("%w: session data needs %d bytes, got %d", ErrTruncated, SessionDataSize, len(block))
	}
	if binary.LittleEndian.Uint32(block[12:16]) != SessionChecksum {
		return nil, ErrSessionChecksum
	}
	sd := &SessionData{
		Nonce:         make([]byte, 5),
		ValidationKey: make([]byte, 4),
		Protocol:      block[9],
	}
	copy(sd.Nonce, block[0:5])
	copy(sd.ValidationKey, block[5:9])
	return sd, nil
}

// MarshalSessionData encodes a plaintext session data block.
func MarshalSessionData(sd *SessionData) []byte {
	block := make([]byte, SessionDataSize)
	copy(block[0:5], sd.Nonce)
	copy(block[5:9], sd.ValidationKey)
	block[9] = sd.Protocol
	binary.LittleEndian.PutUint32(block[12:16], SessionChecksum)
	return block
}
