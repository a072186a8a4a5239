// Package dfu implements the Nordic secure DFU object transfer used to
// update stone firmware: select, create, stream, checksum and execute, with
// resumption of interrupted transfers.
package dfu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// Object types.
const (
	ObjectCommand uint8 = 0x01 // init packet
	ObjectData    uint8 = 0x02 // firmware image
)

const (
	DefaultRetries = 3
	DefaultPRN     = 0
)

// Transport moves control point requests, responses and data packets.
// ble.DFUTransport implements it.
type Transport interface {
	WriteControl(ctx context.Context, data []byte) error
	WriteData(ctx context.Context, data []byte) error
	// Response returns the next control point notification.
	Response(ctx context.Context) ([]byte, error)
	// PacketSize is the largest data packet the link carries.
	PacketSize() int
}

// Options tune an Engine.
type Options struct {
	// PRN is the packet receipt notification interval; 0 validates only at
	// the end of each object.
	PRN uint16
	// Retries per object before the transfer fails.
	Retries int
	// Progress is called with the number of firmware bytes confirmed since
	// the previous call.
	Progress func(delta int)
}

// Engine runs transfers over one Transport.
type Engine struct {
	t    Transport
	opts Options
}

func NewEngine(t Transport, opts Options) *Engine {
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	return &Engine{t: t, opts: opts}
}

// Update sends the init packet and the firmware of img.
func (e *Engine) Update(ctx context.Context, img *Image) error {
	if err := e.SetPRN(ctx); err != nil {
		return err
	}
	if err := e.SendInitPacket(ctx, img.Init); err != nil {
		return err
	}
	return e.SendFirmware(ctx, img.Firmware)
}

// SetPRN tells the device how often to report a checksum while streaming.
func (e *Engine) SetPRN(ctx context.Context) error {
	slog.Debug("[DFU] set packet receipt notification", "prn", e.opts.PRN)
	_, err := e.request(ctx, OpSetPRN, binary.LittleEndian.AppendUint16(nil, e.opts.PRN))
	return err
}

// SendInitPacket transfers the init packet, resuming a partial transfer when
// the device already holds a valid prefix.
func (e *Engine) SendInitPacket(ctx context.Context, initPacket []byte) error {
	obj, err := e.selectObject(ctx, ObjectCommand)
	if err != nil {
		return err
	}
	if uint32(len(initPacket)) > obj.MaxSize {
		return &Error{Op: OpSelect, Message: fmt.Sprintf("init packet of %d bytes exceeds max object size %d", len(initPacket), obj.MaxSize)}
	}

	resumed, err := e.resumeInit(ctx, obj, initPacket)
	if err != nil || resumed {
		return err
	}

	for attempt := 1; attempt <= e.opts.Retries; attempt++ {
		err = e.sendObject(ctx, ObjectCommand, initPacket, 0, 0)
		if err == nil {
			slog.Info("[DFU] init packet sent", "size", len(initPacket))
			return nil
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		slog.Warn("[DFU] init packet validation failed, retrying", "attempt", attempt, "error", err)
	}
	return &Error{Op: OpExecute, Message: fmt.Sprintf("failed to send init packet after %d attempts: %v", e.opts.Retries, err)}
}

func (e *Engine) resumeInit(ctx context.Context, obj Object, initPacket []byte) (bool, error) {
	offset := int(obj.Offset)
	if offset == 0 || offset > len(initPacket) {
		return false, nil
	}
	expected := crc32.ChecksumIEEE(initPacket[:offset])
	if expected != obj.CRC {
		slog.Debug("[DFU] init packet on device is invalid, resending", "offset", offset)
		return false, nil
	}
	if offset < len(initPacket) {
		slog.Info("[DFU] resuming init packet", "offset", offset)
		if _, err := e.stream(ctx, initPacket[offset:], expected, uint32(offset)); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return false, nil
			}
			return false, err
		}
	}
	if err := e.execute(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// SendFirmware transfers the firmware image page by page, keeping every
// page the device has already confirmed.
func (e *Engine) SendFirmware(ctx context.Context, fw []byte) error {
	obj, err := e.selectObject(ctx, ObjectData)
	if err != nil {
		return err
	}
	if obj.MaxSize == 0 {
		return &Error{Op: OpSelect, Message: "device reported a zero max object size"}
	}
	offset, crc, err := e.resumeFirmware(ctx, obj, fw)
	if err != nil {
		return err
	}

	page := int(obj.MaxSize)
	for start := offset; start < len(fw); start += page {
		end := min(start+page, len(fw))
		slice := fw[start:end]

		var sliceErr error
		sent := false
		for attempt := 1; attempt <= e.opts.Retries; attempt++ {
			var next uint32
			next, sliceErr = e.sendPage(ctx, slice, crc, uint32(start))
			if sliceErr == nil {
				crc = next
				sent = true
				break
			}
			var verr *ValidationError
			if !errors.As(sliceErr, &verr) {
				return sliceErr
			}
			slog.Warn("[DFU] page validation failed, retrying", "offset", start, "attempt", attempt, "error", sliceErr)
		}
		if !sent {
			return &Error{Op: OpExecute, Message: fmt.Sprintf("failed to send firmware page at offset %d after %d attempts: %v", start, e.opts.Retries, sliceErr)}
		}
		e.progress(len(slice))
	}
	slog.Info("[DFU] firmware sent", "size", len(fw))
	return nil
}

// resumeFirmware returns the offset and running CRC to continue from.
func (e *Engine) resumeFirmware(ctx context.Context, obj Object, fw []byte) (int, uint32, error) {
	offset := int(obj.Offset)
	page := int(obj.MaxSize)
	if offset == 0 {
		return 0, 0, nil
	}
	if offset > len(fw) {
		slog.Warn("[DFU] device holds more data than the image, restarting", "offset", offset, "size", len(fw))
		return 0, 0, nil
	}

	crc := crc32.ChecksumIEEE(fw[:offset])
	rem := offset % page
	if crc != obj.CRC {
		if rem != 0 {
			offset -= rem
		} else {
			offset -= page
		}
		slog.Info("[DFU] discarding corrupted page", "offset", offset)
		return offset, crc32.ChecksumIEEE(fw[:offset]), nil
	}

	if rem != 0 && offset != len(fw) {
		end := min(offset+page-rem, len(fw))
		slog.Info("[DFU] resuming firmware page", "offset", offset, "size", end-offset)
		next, err := e.stream(ctx, fw[offset:end], crc, uint32(offset))
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				return 0, 0, err
			}
			offset -= rem
			return offset, crc32.ChecksumIEEE(fw[:offset]), nil
		}
		crc = next
		offset = end
	}
	if err := e.execute(ctx); err != nil {
		return 0, 0, err
	}
	e.progress(offset)
	return offset, crc, nil
}

func (e *Engine) progress(delta int) {
	if e.opts.Progress != nil {
		e.opts.Progress(delta)
	}
}

// sendPage creates, streams and executes one data object.
func (e *Engine) sendPage(ctx context.Context, data []byte, crc, offset uint32) (uint32, error) {
	if err := e.create(ctx, ObjectData, len(data)); err != nil {
		return 0, err
	}
	next, err := e.stream(ctx, data, crc, offset)
	if err != nil {
		return 0, err
	}
	if err := e.execute(ctx); err != nil {
		return 0, err
	}
	return next, nil
}

func (e *Engine) sendObject(ctx context.Context, typ uint8, data []byte, crc, offset uint32) error {
	if err := e.create(ctx, typ, len(data)); err != nil {
		return err
	}
	if _, err := e.stream(ctx, data, crc, offset); err != nil {
		return err
	}
	return e.execute(ctx)
}

// stream writes data in packets and validates the device's running
// checksum, returning the CRC after data.
func (e *Engine) stream(ctx context.Context, data []byte, crc, offset uint32) (uint32, error) {
	slog.Debug("[DFU] streaming", "size", len(data), "offset", offset, "crc", fmt.Sprintf("0x%08X", crc))
	packets := 0
	for _, pkt := range protocol.ChunkBytes(data, e.t.PacketSize()) {
		if err := e.t.WriteData(ctx, pkt); err != nil {
			return 0, err
		}
		crc = crc32.Update(crc, crc32.IEEETable, pkt)
		offset += uint32(len(pkt))
		packets++

		if e.opts.PRN != 0 && packets%int(e.opts.PRN) == 0 {
			sum, err := e.receipt(ctx)
			if err != nil {
				return 0, err
			}
			if err := sum.validate(offset, crc); err != nil {
				return 0, err
			}
		}
	}

	sum, err := e.calcChecksum(ctx)
	if err != nil {
		return 0, err
	}
	if err := sum.validate(offset, crc); err != nil {
		return 0, err
	}
	return crc, nil
}

// receipt reads an unsolicited packet receipt notification.
func (e *Engine) receipt(ctx context.Context) (Checksum, error) {
	raw, err := e.t.Response(ctx)
	if err != nil {
		return Checksum{}, fmt.Errorf("dfu: packet receipt: %w", err)
	}
	payload, err := parseResponse(raw, OpCalcChecksum)
	if err != nil {
		return Checksum{}, err
	}
	return parseChecksum(payload)
}

func (e *Engine) request(ctx context.Context, op OpCode, payload []byte) ([]byte, error) {
	req := append([]byte{byte(op)}, payload...)
	if err := e.t.WriteControl(ctx, req); err != nil {
		return nil, fmt.Errorf("dfu: %s: %w", op, err)
	}
	raw, err := e.t.Response(ctx)
	if err != nil {
		return nil, fmt.Errorf("dfu: %s: %w", op, err)
	}
	return parseResponse(raw, op)
}

func (e *Engine) selectObject(ctx context.Context, typ uint8) (Object, error) {
	payload, err := e.request(ctx, OpSelect, []byte{typ})
	if err != nil {
		return Object{}, err
	}
	obj, err := parseObject(payload)
	if err != nil {
		return Object{}, err
	}
	slog.Debug("[DFU] object selected", "type", typ, "max_size", obj.MaxSize, "offset", obj.Offset, "crc", fmt.Sprintf("0x%08X", obj.CRC))
	return obj, nil
}

func (e *Engine) create(ctx context.Context, typ uint8, size int) error {
	payload := binary.LittleEndian.AppendUint32([]byte{typ}, uint32(size))
	_, err := e.request(ctx, OpCreate, payload)
	return err
}

func (e *Engine) calcChecksum(ctx context.Context) (Checksum, error) {
	payload, err := e.request(ctx, OpCalcChecksum, nil)
	if err != nil {
		return Checksum{}, err
	}
	return parseChecksum(payload)
}

func (e *Engine) execute(ctx context.Context) error {
	_, err := e.request(ctx, OpExecute, nil)
	return err
}
