package scan

import (
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

const (
	// RequiredMatches is the number of consecutive consistent
	// advertisements that verify a normal-mode stone.
	RequiredMatches = 2
	// DefaultTrustTimeout evicts an address that stopped advertising.
	DefaultTrustTimeout = 10 * time.Second
	// DefaultTrackedAddresses bounds the trust table.
	DefaultTrackedAddresses = 1024
)

// EventType says which stream an event belongs to.
type EventType int

const (
	// EventRaw is emitted for every decoded advertisement.
	EventRaw EventType = iota
	// EventValidated is emitted for advertisements of verified stones.
	EventValidated
	// EventNewData follows EventValidated when a scan response was received.
	EventNewData
)

func (t EventType) String() string {
	switch t {
	case EventRaw:
		return "raw"
	case EventValidated:
		return "validated"
	case EventNewData:
		return "new_data"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one item of the scan output.
type Event struct {
	Type   EventType
	Record *Record
	// Validated reports whether the address was verified after the record
	// was processed.
	Validated bool
}

// TrustState is what the validator remembers about one address.
type TrustState struct {
	Name             string
	RSSI             int
	DeviceID         uint8
	Verified         bool
	Matches          int
	UniqueIdentifier uint16
	LastSeen         time.Time
	DFU              bool
}

// ValidatorOptions configures a Validator.
type ValidatorOptions struct {
	Timeout  time.Duration
	Capacity int
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Validator decides which addresses are trusted. It is not safe for
// concurrent use; the Scanner drives it from a single goroutine.
type Validator struct {
	table   *lru.Cache
	timeout time.Duration
	now     func() time.Time
}

// NewValidator creates a Validator, filling unset options with defaults.
func NewValidator(opts ValidatorOptions) (*Validator, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTrustTimeout
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultTrackedAddresses
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	table, err := lru.New(opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("scan: create trust table: %w", err)
	}
	return &Validator{table: table, timeout: opts.Timeout, now: opts.Now}, nil
}

// Process updates the trust state of r's address and returns the events
// the record produces, raw first.
func (v *Validator) Process(r *Record) []Event {
	now := v.now()
	v.evict(now)

	var st *TrustState
	if val, ok := v.table.Get(r.Address); ok {
		st = val.(*TrustState)
	} else {
		st = &TrustState{}
		v.table.Add(r.Address, st)
	}
	st.Name = r.Name
	st.RSSI = r.RSSI
	st.LastSeen = now

	switch {
	case r.Mode == ModeDFU:
		st.Verified = true
		st.DFU = true
		st.Matches = 0
	case r.Data != nil:
		v.verify(r, st)
	}

	events := []Event{{Type: EventRaw, Record: r, Validated: st.Verified}}
	if st.Verified {
		events = append(events, Event{Type: EventValidated, Record: r, Validated: true})
		if r.HasScanResponse {
			events = append(events, Event{Type: EventNewData, Record: r, Validated: true})
		}
	}
	return events
}

func (v *Validator) verify(r *Record, st *TrustState) {
	sd := r.Data
	defer func() { st.UniqueIdentifier = sd.UniqueIdentifier }()

	if r.Mode == ModeSetup {
		st.Verified = true
		st.Matches = 0
		return
	}
	if !sd.DataReady {
		slog.Debug("[SCAN] invalidate, data not ready", "address", r.Address)
		invalidate(st, sd)
		return
	}
	if st.UniqueIdentifier == sd.UniqueIdentifier {
		return
	}

	switch {
	case sd.Validation != 0 && (sd.OpCode == protocol.OpCodeState || sd.OpCode == protocol.OpCodeLegacyState):
		if sd.DataType == protocol.DataTypeError {
			return
		}
		if sd.Validation == protocol.ValidationSentinel {
			match(st, sd)
		} else {
			invalidate(st, sd)
		}
	case !sd.ExternalState:
		if sd.DeviceID == st.DeviceID {
			match(st, sd)
		} else {
			invalidate(st, sd)
		}
	}
}

func match(st *TrustState, sd *protocol.ServiceData) {
	st.Matches++
	if st.Matches >= RequiredMatches {
		st.Verified = true
		st.Matches = 0
	}
	st.DeviceID = sd.DeviceID
}

func invalidate(st *TrustState, sd *protocol.ServiceData) {
	if !sd.ExternalState {
		st.DeviceID = sd.DeviceID
	}
	st.Matches = 0
	st.Verified = false
}

func (v *Validator) evict(now time.Time) {
	for _, key := range v.table.Keys() {
		val, ok := v.table.Peek(key)
		if !ok {
			continue
		}
		if !now.Before(val.(*TrustState).LastSeen.Add(v.timeout)) {
			slog.Debug("[SCAN] tracker expired", "address", key)
			v.table.Remove(key)
		}
	}
}

// State returns a copy of the trust state of address.
func (v *Validator) State(address string) (TrustState, bool) {
	val, ok := v.table.Peek(address)
	if !ok {
		return TrustState{}, false
	}
	return *val.(*TrustState), true
}

// Len returns the number of tracked addresses.
func (v *Validator) Len() int {
	return v.table.Len()
}
