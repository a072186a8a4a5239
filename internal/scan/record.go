// Package scan turns the advertisement stream of nearby stones into trusted
// events and answers scan-window queries over them: operating mode, average
// RSSI, nearest stone and a full inventory.
package scan

import (
	"fmt"
	"strings"

	"github.com/chaz8081/stonectl/internal/ble"
	"github.com/chaz8081/stonectl/internal/ble/crypto"
	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// Mode is the operating mode a stone advertises.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeNormal
	ModeSetup
	ModeDFU
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSetup:
		return "setup"
	case ModeDFU:
		return "dfu"
	default:
		return "unknown"
	}
}

// MarshalText makes modes readable in JSON output.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Record is one decoded advertisement. Records are never modified after
// NewRecord returns.
type Record struct {
	Address         string
	RSSI            int
	Name            string
	Mode            Mode
	ServiceUUID     uint16
	HasScanResponse bool
	// Data is nil for DFU advertisements.
	Data *protocol.ServiceData
}

// NewRecord decodes adv with the advertisement keys in keys.
func NewRecord(adv ble.Advertisement, keys *crypto.Keyset) (*Record, error) {
	r := &Record{
		Address:         strings.ToLower(adv.Address),
		RSSI:            adv.RSSI,
		Name:            adv.Name,
		ServiceUUID:     adv.ServiceUUID,
		HasScanResponse: adv.HasScanResponse,
	}
	if adv.ServiceUUID == protocol.ServiceUUIDDFU {
		r.Mode = ModeDFU
		return r, nil
	}
	if !protocol.IsFamilyUUID(adv.ServiceUUID) {
		return nil, fmt.Errorf("scan: %s: service uuid 0x%04X is not a stone", r.Address, adv.ServiceUUID)
	}

	sd, err := protocol.ParseServiceData(adv.ServiceUUID, adv.ServiceData, keys)
	if err != nil {
		return nil, fmt.Errorf("scan: %s: %w", r.Address, err)
	}
	r.Data = sd
	r.Mode = modeOf(sd.OpCode)
	return r, nil
}

func modeOf(opCode uint8) Mode {
	switch {
	case opCode == protocol.OpCodeSetup:
		return ModeSetup
	case opCode >= protocol.OpCodeLegacyState && opCode <= protocol.OpCodeState,
		opCode >= protocol.OpCodeEncrypted:
		return ModeNormal
	default:
		return ModeUnknown
	}
}

// DeviceID returns the stone id claimed by the advertisement, or 0.
func (r *Record) DeviceID() uint8 {
	if r.Data == nil {
		return 0
	}
	return r.Data.DeviceID
}

// Summary is the condensed view of a record handed to callers.
type Summary struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	RSSI      int    `json:"rssi"`
	Mode      Mode   `json:"mode"`
	Setup     bool   `json:"setupMode"`
	DeviceID  uint8  `json:"crownstoneId"`
	Validated bool   `json:"validated"`
}

// Summarize condenses r.
func (r *Record) Summarize(validated bool) Summary {
	return Summary{
		Name:      r.Name,
		Address:   r.Address,
		RSSI:      r.RSSI,
		Mode:      r.Mode,
		Setup:     r.Mode == ModeSetup,
		DeviceID:  r.DeviceID(),
		Validated: validated,
	}
}
