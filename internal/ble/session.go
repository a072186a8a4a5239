package ble

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/stonectl/internal/ble/crypto"
	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// ServiceMode tells which GATT service set a connected stone exposes.
type ServiceMode int

const (
	ServiceModeNormal ServiceMode = iota
	ServiceModeSetup
)

func (m ServiceMode) String() string {
	if m == ServiceModeSetup {
		return "setup"
	}
	return "normal"
}

// ServiceSet is the set of characteristics used for a session, resolved
// once per connection from the device's service table.
type ServiceSet struct {
	Mode        ServiceMode
	Service     string
	Control     string
	Result      string
	SessionData string
}

var (
	normalServiceSet = ServiceSet{
		Mode:        ServiceModeNormal,
		Service:     CrownstoneServiceUUID,
		Control:     ControlCharUUID,
		Result:      ResultCharUUID,
		SessionData: SessionDataCharUUID,
	}
	setupServiceSet = ServiceSet{
		Mode:        ServiceModeSetup,
		Service:     SetupServiceUUID,
		Control:     SetupControlCharUUID,
		Result:      SetupResultCharUUID,
		SessionData: SetupSessionDataCharUUID,
	}
)

// resolveServiceSet picks the setup set when the setup control
// characteristic is present, the normal set otherwise.
func resolveServiceSet(conn Connection) (ServiceSet, error) {
	switch {
	case conn.HasCharacteristic(SetupServiceUUID, SetupControlCharUUID):
		return setupServiceSet, nil
	case conn.HasCharacteristic(CrownstoneServiceUUID, ControlCharUUID):
		return normalServiceSet, nil
	default:
		return ServiceSet{}, fmt.Errorf("%w: no control characteristic", ErrCharacteristicNotFound)
	}
}

// establishSession reads and decrypts the session data block.
func establishSession(conn Connection, set ServiceSet, keys *crypto.Keyset) (*crypto.Session, error) {
	sessionChar, err := conn.Characteristic(set.Service, set.SessionData)
	if err != nil {
		return nil, err
	}

	key := keys.Key(crypto.LevelBasic)
	level := keys.HighestLevel()
	var sessionKey []byte
	if set.Mode == ServiceModeSetup {
		keyChar, err := conn.Characteristic(SetupServiceUUID, SessionKeyCharUUID)
		if err != nil {
			return nil, err
		}
		sessionKey, err = keyChar.Read()
		if err != nil {
			return nil, fmt.Errorf("ble: read session key: %w", err)
		}
		if len(sessionKey) < crypto.KeySize {
			return nil, fmt.Errorf("ble: session key is %d bytes, want %d", len(sessionKey), crypto.KeySize)
		}
		sessionKey = sessionKey[:crypto.KeySize]
		key = sessionKey
		level = crypto.LevelSetup
	}
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("ble: establish session: %w basic", crypto.ErrMissingKey)
	}

	raw, err := sessionChar.Read()
	if err != nil {
		return nil, fmt.Errorf("ble: read session data: %w", err)
	}
	if len(raw) < protocol.SessionDataSize {
		return nil, fmt.Errorf("%w: session data is %d bytes", ErrSessionValidation, len(raw))
	}
	block, err := crypto.DecryptECB(key, raw[:protocol.SessionDataSize])
	if err != nil {
		return nil, fmt.Errorf("ble: decrypt session data: %w", err)
	}
	sd, err := protocol.ParseSessionData(block)
	if errors.Is(err, protocol.ErrSessionChecksum) {
		return nil, ErrSessionValidation
	}
	if err != nil {
		return nil, fmt.Errorf("ble: parse session data: %w", err)
	}

	slog.Debug("[BLE] session established", "mode", set.Mode, "level", level, "protocol", sd.Protocol)
	return &crypto.Session{
		Nonce:         sd.Nonce,
		ValidationKey: sd.ValidationKey,
		Protocol:      sd.Protocol,
		Level:         level,
		SessionKey:    sessionKey,
	}, nil
}
