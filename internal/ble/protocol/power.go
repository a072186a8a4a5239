package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// PowerSamplesType selects which buffer of raw ADC samples to read.
type PowerSamplesType uint8

const (
	PowerSamplesSwitchcraft             PowerSamplesType = 0
	PowerSamplesSwitchcraftNonTriggered PowerSamplesType = 1
	PowerSamplesNowFiltered             PowerSamplesType = 2
	PowerSamplesNowUnfiltered           PowerSamplesType = 3
	PowerSamplesSoftFuse                PowerSamplesType = 4
)

var powerSamplesNames = map[PowerSamplesType]string{
	PowerSamplesSwitchcraft:             "switchcraft",
	PowerSamplesSwitchcraftNonTriggered: "switchcraft_non_triggered",
	PowerSamplesNowFiltered:             "now_filtered",
	PowerSamplesNowUnfiltered:           "now_unfiltered",
	PowerSamplesSoftFuse:                "soft_fuse",
}

func (t PowerSamplesType) String() string {
	if name, ok := powerSamplesNames[t]; ok {
		return name
	}
	return fmt.Sprintf("power_samples(%d)", uint8(t))
}

// ParsePowerSamplesType maps a name such as "now_unfiltered" to its type.
func ParsePowerSamplesType(name string) (PowerSamplesType, error) {
	for t, n := range powerSamplesNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("protocol: unknown power samples type %q", name)
}

// MarshalPowerSamplesRequest encodes the payload of a get-power-samples
// command.
func MarshalPowerSamplesRequest(t PowerSamplesType, index uint8) []byte {
	return []byte{uint8(t), index}
}

// powerSamplesHeaderSize covers type, index, count, timestamp, delay,
// interval, reserved, offset and multiplier.
const powerSamplesHeaderSize = 20

// PowerSamples is one buffer of ADC samples. Sample i in real units is
// (Samples[i] - Offset) * Multiplier.
type PowerSamples struct {
	Type       PowerSamplesType
	Index      uint8
	Timestamp  time.Time
	Delay      time.Duration
	Interval   time.Duration
	Offset     int16
	Multiplier float32
	Samples    []int16
}

// ParsePowerSamples decodes a get-power-samples result payload.
func ParsePowerSamples(payload []byte) (*PowerSamples, error) {
	if len(payload) < powerSamplesHeaderSize {
		return nil, fmt.Errorf("%w: power samples header needs %d bytes, got %d", ErrTruncated, powerSamplesHeaderSize, len(payload))
	}
	count := int(binary.LittleEndian.Uint16(payload[2:4]))
	if need := powerSamplesHeaderSize + 2*count; len(payload) < need {
		return nil, fmt.Errorf("%w: %d power samples need %d bytes, got %d", ErrTruncated, count, need, len(payload))
	}
	ps := &PowerSamples{
		Type:       PowerSamplesType(payload[0]),
		Index:      payload[1],
		Timestamp:  time.Unix(int64(binary.LittleEndian.Uint32(payload[4:8])), 0),
		Delay:      time.Duration(binary.LittleEndian.Uint16(payload[8:10])) * time.Microsecond,
		Interval:   time.Duration(binary.LittleEndian.Uint16(payload[10:12])) * time.Microsecond,
		Offset:     int16(binary.LittleEndian.Uint16(payload[14:16])),
		Multiplier: math.Float32frombits(binary.LittleEndian.Uint32(payload[16:20])),
		Samples:    make([]int16, count),
	}
	for i := range ps.Samples {
		off := powerSamplesHeaderSize + 2*i
		ps.Samples[i] = int16(binary.LittleEndian.Uint16(payload[off : off+2]))
	}
	return ps, nil
}

// MarshalPowerSamples encodes ps as a result payload.
func MarshalPowerSamples(ps *PowerSamples) []byte {
	buf := make([]byte, powerSamplesHeaderSize, powerSamplesHeaderSize+2*len(ps.Samples))
	buf[0] = uint8(ps.Type)
	buf[1] = ps.Index
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(ps.Samples)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(ps.Timestamp.Unix()))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(ps.Delay/time.Microsecond))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(ps.Interval/time.Microsecond))
	binary.LittleEndian.PutUint16(buf[14:16], uint16(ps.Offset))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(ps.Multiplier))
	for _, s := range ps.Samples {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s))
	}
	return buf
}

func (ps *PowerSamples) String() string {
	return fmt.Sprintf("%s #%d at %s: %d samples every %s, offset %d, multiplier %g",
		ps.Type, ps.Index, ps.Timestamp.UTC().Format(time.RFC3339), len(ps.Samples), ps.Interval, ps.Offset, ps.Multiplier)
}
