// Package crypto provides the cipher layer of the stone BLE protocol:
// AES-128-ECB for the session nonce block and advertisement payloads, and
// AES-128-CTR with a per-session nonce and validation key for control traffic.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize           = 16
	PacketNonceSize   = 3
	SessionNonceSize  = 5
	ValidationKeySize = 4

	// headerSize is the cleartext prefix of an encrypted payload:
	// packet nonce followed by the user level byte.
	headerSize = PacketNonceSize + 1
)

var (
	ErrValidationMismatch = errors.New("ble/crypto: validation key mismatch")
	ErrShortPayload       = errors.New("ble/crypto: payload too short")
	ErrMissingKey         = errors.New("ble/crypto: no key for user level")
)

// randReader is swapped in tests that need deterministic packet nonces.
var randReader io.Reader = rand.Reader

// UserLevel is the privilege level a payload was encrypted with.
type UserLevel uint8

const (
	LevelAdmin   UserLevel = 0
	LevelMember  UserLevel = 1
	LevelBasic   UserLevel = 2
	LevelSetup   UserLevel = 100
	LevelUnknown UserLevel = 255
)

func (l UserLevel) String() string {
	switch l {
	case LevelAdmin:
		return "admin"
	case LevelMember:
		return "member"
	case LevelBasic:
		return "basic"
	case LevelSetup:
		return "setup"
	default:
		return "unknown"
	}
}

// Keyset holds the sphere keys. Any key may be nil when the caller does not
// own it; Basic is required for normal-mode sessions and advertisements.
type Keyset struct {
	Admin           []byte
	Member          []byte
	Basic           []byte
	ServiceData     []byte
	Localization    []byte
	MeshApplication []byte
	MeshNetwork     []byte
}

// ParseKey accepts a key as 16 ASCII characters or 32 hex digits.
// An empty string yields a nil key.
func ParseKey(s string) ([]byte, error) {
	switch len(s) {
	case 0:
		return nil, nil
	case KeySize:
		return []byte(s), nil
	case 2 * KeySize:
		key, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("ble/crypto: parse hex key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("ble/crypto: key must be 16 characters or 32 hex digits, got %d characters", len(s))
	}
}

// Key returns the key for a (non-setup) user level, or nil.
func (k *Keyset) Key(level UserLevel) []byte {
	if k == nil {
		return nil
	}
	switch level {
	case LevelAdmin:
		return k.Admin
	case LevelMember:
		return k.Member
	case LevelBasic:
		return k.Basic
	default:
		return nil
	}
}

// HighestLevel returns the most privileged level for which a key is present.
func (k *Keyset) HighestLevel() UserLevel {
	for _, level := range []UserLevel{LevelAdmin, LevelMember, LevelBasic} {
		if len(k.Key(level)) == KeySize {
			return level
		}
	}
	return LevelUnknown
}

// Session is the negotiated state of one connection.
type Session struct {
	Nonce         []byte
	ValidationKey []byte
	Protocol      uint8
	// Level is the level outgoing payloads are encrypted with.
	Level UserLevel
	// SessionKey replaces the keyset while the device is in setup mode.
	SessionKey []byte
}

func (s *Session) keyFor(level UserLevel, keys *Keyset) ([]byte, error) {
	var key []byte
	if level == LevelSetup {
		key = s.SessionKey
	} else {
		key = keys.Key(level)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w %s", ErrMissingKey, level)
	}
	return key, nil
}

// EncryptECB encrypts data, which must be a whole number of blocks.
func EncryptECB(key, data []byte) ([]byte, error) {
	return ecb(key, data, true)
}

// DecryptECB decrypts data, which must be a whole number of blocks.
func DecryptECB(key, data []byte) ([]byte, error) {
	return ecb(key, data, false)
}

func ecb(key, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: new cipher: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ble/crypto: ECB input must be a multiple of %d bytes, got %d", aes.BlockSize, len(data))
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		if encrypt {
			block.Encrypt(out[i:], data[i:i+aes.BlockSize])
		} else {
			block.Decrypt(out[i:], data[i:i+aes.BlockSize])
		}
	}
	return out, nil
}

// Encrypt seals a control payload for the current session. The result is
// packet nonce, user level, then the CTR ciphertext of validation key and
// zero-padded payload.
func Encrypt(plaintext []byte, s *Session, keys *Keyset) ([]byte, error) {
	if s == nil {
		return nil, errors.New("ble/crypto: encrypt without session")
	}
	key, err := s.keyFor(s.Level, keys)
	if err != nil {
		return nil, err
	}

	packetNonce := make([]byte, PacketNonceSize)
	if _, err := io.ReadFull(randReader, packetNonce); err != nil {
		return nil, fmt.Errorf("ble/crypto: random packet nonce: %w", err)
	}

	padded := make([]byte, roundUp(ValidationKeySize+len(plaintext)))
	copy(padded, s.ValidationKey)
	copy(padded[ValidationKeySize:], plaintext)

	sealed, err := ctr(key, packetNonce, s.Nonce, padded)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, headerSize+len(sealed))
	out = append(out, packetNonce...)
	out = append(out, byte(s.Level))
	return append(out, sealed...), nil
}

// Decrypt opens a payload produced by the device. The returned plaintext
// still carries the zero padding; inner packets are length-prefixed.
func Decrypt(data []byte, s *Session, keys *Keyset) ([]byte, error) {
	if s == nil {
		return nil, errors.New("ble/crypto: decrypt without session")
	}
	if len(data) < headerSize+aes.BlockSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(data))
	}
	if (len(data)-headerSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ble/crypto: ciphertext is not block aligned (%d bytes)", len(data)-headerSize)
	}

	level := UserLevel(data[PacketNonceSize])
	key, err := s.keyFor(level, keys)
	if err != nil {
		return nil, err
	}

	opened, err := ctr(key, data[:PacketNonceSize], s.Nonce, data[headerSize:])
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(opened[:ValidationKeySize], s.ValidationKey) {
		return nil, ErrValidationMismatch
	}
	return opened[ValidationKeySize:], nil
}

func ctr(key, packetNonce, sessionNonce, data []byte) ([]byte, error) {
	if len(sessionNonce) != SessionNonceSize {
		return nil, fmt.Errorf("ble/crypto: session nonce must be %d bytes, got %d", SessionNonceSize, len(sessionNonce))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: new cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, packetNonce)
	copy(iv[PacketNonceSize:], sessionNonce)

	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

func roundUp(n int) int {
	if r := n % aes.BlockSize; r != 0 {
		return n + aes.BlockSize - r
	}
	return n
}
