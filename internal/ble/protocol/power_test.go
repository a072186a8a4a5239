package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestMarshalPowerSamplesRequest(t *testing.T) {
	got := MarshalPowerSamplesRequest(PowerSamplesNowUnfiltered, 2)
	if !bytes.Equal(got, []byte{0x03, 0x02}) {
		t.Errorf("MarshalPowerSamplesRequest() = %x, want 0302", got)
	}
}

func TestParsePowerSamples(t *testing.T) {
	payload := []byte{
		0x03, 0x01, // type, index
		0x02, 0x00, // count
		0x10, 0x00, 0x00, 0x00, // timestamp 16
		0xE8, 0x03, // delay 1000us
		0xC8, 0x00, // interval 200us
		0x00, 0x00, // reserved
		0xFE, 0xFF, // offset -2
		0x00, 0x00, 0x80, 0x3F, // multiplier 1.0
		0x0A, 0x00, 0xF6, 0xFF, // samples 10, -10
	}
	got, err := ParsePowerSamples(payload)
	if err != nil {
		t.Fatalf("ParsePowerSamples() error = %v", err)
	}
	if got.Type != PowerSamplesNowUnfiltered || got.Index != 1 || got.Timestamp.Unix() != 16 {
		t.Errorf("header = %+v", got)
	}
	if got.Delay != time.Millisecond || got.Interval != 200*time.Microsecond {
		t.Errorf("Delay = %v, Interval = %v", got.Delay, got.Interval)
	}
	if got.Offset != -2 || got.Multiplier != 1 {
		t.Errorf("Offset = %d, Multiplier = %g", got.Offset, got.Multiplier)
	}
	if len(got.Samples) != 2 || got.Samples[0] != 10 || got.Samples[1] != -10 {
		t.Errorf("Samples = %v, want [10 -10]", got.Samples)
	}
	if again := MarshalPowerSamples(got); !bytes.Equal(again, payload) {
		t.Errorf("MarshalPowerSamples() = %x, want %x", again, payload)
	}
}

func TestParsePowerSamplesTruncated(t *testing.T) {
	short := make([]byte, 19)
	if _, err := ParsePowerSamples(short); !errors.Is(err, ErrTruncated) {
		t.Errorf("short header error = %v, want ErrTruncated", err)
	}

	missing := make([]byte, 22)
	missing[2] = 3 // three samples but room for one
	if _, err := ParsePowerSamples(missing); !errors.Is(err, ErrTruncated) {
		t.Errorf("missing samples error = %v, want ErrTruncated", err)
	}
}

func TestParsePowerSamplesType(t *testing.T) {
	got, err := ParsePowerSamplesType("NOW_UNFILTERED")
	if err != nil || got != PowerSamplesNowUnfiltered {
		t.Errorf("ParsePowerSamplesType() = %v, %v", got, err)
	}
	if _, err := ParsePowerSamplesType("bogus"); err == nil {
		t.Error("ParsePowerSamplesType(bogus) should fail")
	}
}

func TestMarshalStateSet(t *testing.T) {
	got := MarshalStateSet(StateCurrentThresholdDimmer, 0, PersistenceStored, MarshalUint16(1500))
	want := []byte{0x15, 0x00, 0x00, 0x00, 0x01, 0x00, 0xDC, 0x05}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalStateSet() = %x, want %x", got, want)
	}
}
