package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

const (
	defaultATTMTU = 23
	readBufSize   = 512
)

var dfuServiceUUID = bluetooth.New16BitUUID(protocol.ServiceUUIDDFU)

// TinygoAdapter wraps tinygo-org/bluetooth. On Linux it drives BlueZ, on
// macOS CoreBluetooth, where addresses are CoreBluetooth UUIDs rather
// than MAC addresses.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinygoConnection // keyed by lowercase address
}

// NewTinygoAdapter creates an adapter. id selects the HCI adapter on Linux
// (for example "hci1"); empty selects the default adapter.
func NewTinygoAdapter(id string) *TinygoAdapter {
	return &TinygoAdapter{
		adapter:     platformAdapter(id),
		connections: make(map[string]*tinygoConnection),
	}
}

func (a *TinygoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler fires with connected=false when a
	// peripheral drops the link.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := strings.ToLower(device.Address.String())
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinygoAdapter) Scan(ctx context.Context, fn func(Advertisement)) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if adv, ok := toAdvertisement(result); ok {
			fn(adv)
		}
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

// toAdvertisement keeps results carrying family service data or the DFU
// service UUID.
func toAdvertisement(result bluetooth.ScanResult) (Advertisement, bool) {
	adv := Advertisement{
		Address: strings.ToLower(result.Address.String()),
		RSSI:    int(result.RSSI),
		Name:    result.LocalName(),
	}
	for _, el := range result.ServiceData() {
		if !el.UUID.Is16Bit() {
			continue
		}
		if uuid := el.UUID.Get16Bit(); protocol.IsFamilyUUID(uuid) {
			adv.ServiceUUID = uuid
			adv.ServiceData = el.Data
			adv.HasScanResponse = true
			return adv, true
		}
	}
	if result.HasServiceUUID(dfuServiceUUID) {
		adv.ServiceUUID = protocol.ServiceUUIDDFU
		return adv, true
	}
	return adv, false
}

func (a *TinygoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	var device bluetooth.Device
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		device = result.device
	}

	conn := &tinygoConnection{device: device, chars: make(map[string]*tinygoCharacteristic)}
	if err := conn.discover(); err != nil {
		device.Disconnect()
		return nil, err
	}

	a.mu.Lock()
	a.connections[strings.ToLower(address)] = conn
	a.mu.Unlock()
	return conn, nil
}

// Compile-time check that TinygoAdapter implements Adapter.
var _ Adapter = (*TinygoAdapter)(nil)

type tinygoConnection struct {
	device bluetooth.Device
	chars  map[string]*tinygoCharacteristic // keyed by service|characteristic
	mtu    int

	mu           sync.Mutex
	disconnectCb func()
}

func charKey(serviceUUID, charUUID string) string {
	return strings.ToLower(serviceUUID) + "|" + strings.ToLower(charUUID)
}

// discover walks the full service table once.
func (c *tinygoConnection) discover() error {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("ble: discover services: %w", err)
	}
	c.mtu = defaultATTMTU
	for i := range svcs {
		svc := svcs[i]
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("ble: discover characteristics of %s: %w", svc.UUID(), err)
		}
		for j := range chars {
			ch := chars[j]
			c.chars[charKey(svc.UUID().String(), ch.UUID().String())] = &tinygoCharacteristic{char: ch}
			if mtu, err := ch.GetMTU(); err == nil && int(mtu) > c.mtu {
				c.mtu = int(mtu)
			}
		}
	}
	slog.Debug("[BLE] service table discovered", "characteristics", len(c.chars), "mtu", c.mtu)
	return nil
}

func (c *tinygoConnection) HasCharacteristic(serviceUUID, charUUID string) bool {
	_, ok := c.chars[charKey(serviceUUID, charUUID)]
	return ok
}

func (c *tinygoConnection) Characteristic(serviceUUID, charUUID string) (Characteristic, error) {
	ch, ok := c.chars[charKey(serviceUUID, charUUID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, charUUID)
	}
	return ch, nil
}

func (c *tinygoConnection) MTU() int {
	return c.mtu
}

func (c *tinygoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinygoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinygoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

var _ Characteristic = (*tinygoCharacteristic)(nil)

func (c *tinygoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, readBufSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinygoCharacteristic) Write(data []byte, withResponse bool) error {
	if withResponse {
		return c.writeWithResponse(data)
	}
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinygoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// The buffer is reused by the stack.
		cb(append([]byte(nil), buf...))
	})
}

func (c *tinygoCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
