package scan

import (
	"context"
	"testing"

	"github.com/chaz8081/stonectl/internal/ble"
	"github.com/chaz8081/stonectl/internal/ble/crypto"
	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

var testKeys = &crypto.Keyset{Basic: []byte("basicKeyForOther")}

// stateAdv builds a basic-key encrypted state advertisement.
func stateAdv(t *testing.T, address string, rssi int, opCode uint8, sd protocol.ServiceData) ble.Advertisement {
	t.Helper()
	enc, err := crypto.EncryptECB(testKeys.Basic, protocol.MarshalStateBlock(&sd))
	if err != nil {
		t.Fatalf("EncryptECB() error = %v", err)
	}
	return ble.Advertisement{
		Address:     address,
		RSSI:        rssi,
		Name:        "CS",
		ServiceUUID: protocol.ServiceUUIDPlug,
		ServiceData: append([]byte{opCode, 1}, enc...),
	}
}

// validState is an op-code 5 state block with the validation sentinel.
func validState(token uint16) protocol.ServiceData {
	return protocol.ServiceData{
		DataType:         protocol.DataTypeState,
		DeviceID:         7,
		UniqueIdentifier: token,
		Validation:       protocol.ValidationSentinel,
	}
}

func setupAdv(address string, rssi int) ble.Advertisement {
	data := make([]byte, 18)
	data[0] = protocol.OpCodeSetup
	return ble.Advertisement{Address: address, RSSI: rssi, Name: "CS", ServiceUUID: protocol.ServiceUUIDBuiltin, ServiceData: data}
}

func dfuAdv(address string, rssi int) ble.Advertisement {
	return ble.Advertisement{Address: address, RSSI: rssi, Name: "DfuTarg", ServiceUUID: protocol.ServiceUUIDDFU}
}

// fakeAdapter delivers a fixed list of advertisements, then scans until
// the context ends.
type fakeAdapter struct {
	ads      []ble.Advertisement
	scanErr  error
	returned chan struct{}
}

func newFakeAdapter(ads ...ble.Advertisement) *fakeAdapter {
	return &fakeAdapter{ads: ads, returned: make(chan struct{})}
}

func (a *fakeAdapter) Enable() error { return nil }

func (a *fakeAdapter) Scan(ctx context.Context, fn func(ble.Advertisement)) error {
	defer close(a.returned)
	for _, adv := range a.ads {
		fn(adv)
	}
	if a.scanErr != nil {
		return a.scanErr
	}
	<-ctx.Done()
	return nil
}

func (a *fakeAdapter) Connect(context.Context, string) (ble.Connection, error) {
	return nil, ble.ErrNotConnected
}

func newTestScanner(t *testing.T, ads ...ble.Advertisement) (*Scanner, *fakeAdapter) {
	t.Helper()
	adapter := newFakeAdapter(ads...)
	s, err := NewScanner(adapter, testKeys, nil)
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}
	return s, adapter
}
