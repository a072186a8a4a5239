package ble

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

const (
	attHeaderSize     = 3
	minDFUPacketSize  = 20
	dfuResponseBuffer = 32
)

// DFUTransport carries the secure DFU object protocol over an open
// connection to a stone in bootloader mode.
type DFUTransport struct {
	client   *Client
	control  Characteristic
	packet   Characteristic
	mtu      int
	timeout  time.Duration
	notifier *Reassembler
	messages chan []byte
}

// OpenDFU subscribes to the DFU control point of the current connection.
// Connect with ignoreEncryption before calling it.
func (c *Client) OpenDFU() (*DFUTransport, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	control, err := conn.Characteristic(DFUServiceUUID, DFUControlPointCharUUID)
	if err != nil {
		return nil, err
	}
	packet, err := conn.Characteristic(DFUServiceUUID, DFUPacketCharUUID)
	if err != nil {
		return nil, err
	}

	t := &DFUTransport{
		client:   c,
		control:  control,
		packet:   packet,
		mtu:      conn.MTU(),
		timeout:  c.opts.CommandTimeout,
		messages: make(chan []byte, dfuResponseBuffer),
	}
	t.notifier = NewReassembler(FramingRaw, nil, t.forward)

	c.mu.Lock()
	c.pending = t.notifier
	c.mu.Unlock()

	if err := control.Subscribe(t.notifier.Feed); err != nil {
		t.release()
		return nil, fmt.Errorf("ble: subscribe to DFU control point: %w", err)
	}
	slog.Debug("[BLE] DFU transport open", "mtu", t.mtu)
	return t, nil
}

func (t *DFUTransport) forward(message []byte) ProcessType {
	select {
	case t.messages <- message:
	default:
		slog.Warn("[BLE] DFU response dropped, reader too slow")
	}
	return ProcessContinue
}

// WriteControl writes a request to the control point. Responses still
// queued from earlier requests are discarded first.
func (t *DFUTransport) WriteControl(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.drain()
	if err := t.control.Write(data, true); err != nil {
		return fmt.Errorf("ble: write DFU control point: %w", err)
	}
	return nil
}

func (t *DFUTransport) drain() {
	for {
		select {
		case stale := <-t.messages:
			slog.Debug("[BLE] discarding stale DFU response", "data", hex.EncodeToString(stale))
		default:
			return
		}
	}
}

// WriteData writes one packet to the data characteristic without response.
func (t *DFUTransport) WriteData(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.packet.Write(data, false); err != nil {
		return fmt.Errorf("ble: write DFU packet: %w", err)
	}
	return nil
}

// Response returns the next control point notification.
func (t *DFUTransport) Response(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case msg := <-t.messages:
		return msg, nil
	case <-t.notifier.Done():
		err := t.notifier.Err()
		if err == nil {
			err = ErrStreamAborted
		}
		return nil, err
	case <-timer.C:
		return nil, ErrNoNotificationData
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PacketSize is the largest data packet that fits the negotiated MTU.
func (t *DFUTransport) PacketSize() int {
	return max(t.mtu-attHeaderSize, minDFUPacketSize)
}

// Close stops control point notifications.
func (t *DFUTransport) Close() error {
	t.release()
	t.notifier.Fail(ErrStreamAborted)
	if err := t.control.Unsubscribe(); err != nil {
		return fmt.Errorf("ble: unsubscribe DFU control point: %w", err)
	}
	return nil
}

func (t *DFUTransport) release() {
	t.client.mu.Lock()
	if t.client.pending == t.notifier {
		t.client.pending = nil
	}
	t.client.mu.Unlock()
}
