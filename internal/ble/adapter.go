// Package ble provides the connected-mode client for stones: session
// establishment, encrypted control commands, notification reassembly,
// recovery and the BLE side of firmware updates.
package ble

import "context"

// Stone GATT services and characteristics.
const (
	CrownstoneServiceUUID = "24f00000-7d10-4805-bfc1-7663a01c3bff"
	ControlCharUUID       = "24f0000c-7d10-4805-bfc1-7663a01c3bff"
	ResultCharUUID        = "24f0000d-7d10-4805-bfc1-7663a01c3bff"
	SessionDataCharUUID   = "24f0000e-7d10-4805-bfc1-7663a01c3bff"
	FactoryResetCharUUID  = "24f00009-7d10-4805-bfc1-7663a01c3bff"

	SetupServiceUUID         = "24f10000-7d10-4805-bfc1-7663a01c3bff"
	SetupControlCharUUID     = "24f1000c-7d10-4805-bfc1-7663a01c3bff"
	SetupResultCharUUID      = "24f1000d-7d10-4805-bfc1-7663a01c3bff"
	SetupSessionDataCharUUID = "24f1000e-7d10-4805-bfc1-7663a01c3bff"
	SessionKeyCharUUID       = "24f10003-7d10-4805-bfc1-7663a01c3bff"

	DFUServiceUUID          = "0000fe59-0000-1000-8000-00805f9b34fb"
	DFUControlPointCharUUID = "8ec90001-f315-4f60-9fb8-838830daea50"
	DFUPacketCharUUID       = "8ec90002-f315-4f60-9fb8-838830daea50"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Read returns the current value.
	Read() ([]byte, error)
	// Write sends data, waiting for the write response when withResponse is set.
	Write(data []byte, withResponse bool) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe stops notifications.
	Unsubscribe() error
}

// Advertisement is one observed advertisement of a stone. Only
// advertisements carrying family service data or the DFU service are
// delivered by an Adapter.
type Advertisement struct {
	Address     string
	RSSI        int
	Name        string
	ServiceUUID uint16
	ServiceData []byte
	// HasScanResponse is set when the scan response with service data was
	// received along with the advertisement.
	HasScanResponse bool
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// HasCharacteristic reports whether the connected device exposes the
	// characteristic in its service table.
	HasCharacteristic(serviceUUID, charUUID string) bool
	// Characteristic returns a characteristic from the service table, or
	// ErrCharacteristicNotFound.
	Characteristic(serviceUUID, charUUID string) (Characteristic, error)
	// MTU returns the negotiated ATT MTU.
	MTU() int
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan delivers stone advertisements to fn until ctx is cancelled.
	Scan(ctx context.Context, fn func(Advertisement)) error
	// Connect establishes a connection and discovers the service table.
	Connect(ctx context.Context, address string) (Connection, error)
}
