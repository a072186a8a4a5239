package dfu

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"sync"
)

var errNoResponse = errors.New("fake: no pending response")

type createReq struct {
	typ  uint8
	size uint32
}

// fakeDevice simulates a secure DFU bootloader. held preloads the bytes a
// previous, interrupted transfer left behind for each object type.
type fakeDevice struct {
	mu         sync.Mutex
	maxSize    map[uint8]uint32
	packetSize int
	held       map[uint8][]byte

	cur       uint8
	buf       map[uint8][]byte
	committed map[uint8]int
	prn       uint16
	packets   int
	pending   [][]byte

	creates    []createReq
	executes   int
	dataWrites int
	// corruptChecksums makes that many checksum reports lie about the CRC.
	corruptChecksums int
	// reject answers the op with this response instead.
	reject map[OpCode][]byte
}

func newFakeDevice(commandMax, dataMax uint32) *fakeDevice {
	return &fakeDevice{
		maxSize:    map[uint8]uint32{ObjectCommand: commandMax, ObjectData: dataMax},
		packetSize: 20,
		held:       map[uint8][]byte{},
		buf:        map[uint8][]byte{},
		committed:  map[uint8]int{},
		reject:     map[OpCode][]byte{},
	}
}

func (d *fakeDevice) respond(op OpCode, payload ...byte) {
	d.pending = append(d.pending, append([]byte{byte(OpResponse), byte(op), byte(ResultSuccess)}, payload...))
}

func (d *fakeDevice) checksum(op OpCode, lie bool) {
	buf := d.buf[d.cur]
	crc := crc32.ChecksumIEEE(buf)
	if lie {
		crc ^= 0xFFFF
	}
	payload := binary.LittleEndian.AppendUint32(nil, uint32(len(buf)))
	d.respond(op, binary.LittleEndian.AppendUint32(payload, crc)...)
}

func (d *fakeDevice) WriteControl(_ context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	op := OpCode(data[0])
	if resp, ok := d.reject[op]; ok {
		d.pending = append(d.pending, resp)
		return nil
	}
	switch op {
	case OpSelect:
		typ := data[1]
		d.cur = typ
		if _, ok := d.buf[typ]; !ok {
			held := d.held[typ]
			d.buf[typ] = append([]byte(nil), held...)
			if typ == ObjectData {
				d.committed[typ] = len(held) - len(held)%int(d.maxSize[typ])
			}
		}
		d.packets = 0
		buf := d.buf[typ]
		payload := binary.LittleEndian.AppendUint32(nil, d.maxSize[typ])
		payload = binary.LittleEndian.AppendUint32(payload, uint32(len(buf)))
		payload = binary.LittleEndian.AppendUint32(payload, crc32.ChecksumIEEE(buf))
		d.respond(op, payload...)
	case OpSetPRN:
		d.prn = binary.LittleEndian.Uint16(data[1:3])
		d.respond(op)
	case OpCreate:
		typ := data[1]
		d.cur = typ
		d.creates = append(d.creates, createReq{typ: typ, size: binary.LittleEndian.Uint32(data[2:6])})
		d.buf[typ] = d.buf[typ][:d.committed[typ]]
		d.packets = 0
		d.respond(op)
	case OpCalcChecksum:
		lie := d.corruptChecksums > 0
		if lie {
			d.corruptChecksums--
		}
		d.checksum(op, lie)
	case OpExecute:
		d.committed[d.cur] = len(d.buf[d.cur])
		d.executes++
		d.respond(op)
	}
	return nil
}

func (d *fakeDevice) WriteData(_ context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf[d.cur] = append(d.buf[d.cur], data...)
	d.dataWrites++
	d.packets++
	if d.prn != 0 && d.packets%int(d.prn) == 0 {
		d.checksum(OpCalcChecksum, false)
	}
	return nil
}

func (d *fakeDevice) Response(context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return nil, errNoResponse
	}
	resp := d.pending[0]
	d.pending = d.pending[1:]
	return resp, nil
}

func (d *fakeDevice) PacketSize() int { return d.packetSize }

func (d *fakeDevice) holds(typ uint8, want []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Equal(d.buf[typ], want)
}

func testBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/256)
	}
	return b
}
