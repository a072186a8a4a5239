package ble

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// powerStone serves buffers power sample buffers and answers
// wrong_parameter past the last one.
func powerStone(buffers int) stoneResponder {
	return func(cmd protocol.CommandType, payload []byte) [][]byte {
		if cmd != protocol.CommandGetPowerSamples || len(payload) != 2 {
			return [][]byte{protocol.MarshalResult(cmd, protocol.ResultWrongPayloadLength, nil)}
		}
		index := payload[1]
		if int(index) >= buffers {
			return [][]byte{protocol.MarshalResult(cmd, protocol.ResultWrongParameter, nil)}
		}
		ps := &protocol.PowerSamples{
			Type:       protocol.PowerSamplesType(payload[0]),
			Index:      index,
			Timestamp:  time.Unix(1000, 0),
			Interval:   200 * time.Microsecond,
			Multiplier: 0.5,
			Samples:    []int16{int16(index), -int16(index)},
		}
		return [][]byte{protocol.MarshalResult(cmd, protocol.ResultSuccess, protocol.MarshalPowerSamples(ps))}
	}
}

func TestGetPowerSamples(t *testing.T) {
	stone := newMockStone(t, false, powerStone(3))
	client, _ := connectedClient(t, stone)

	all, err := client.GetPowerSamples(context.Background(), protocol.PowerSamplesNowUnfiltered)
	if err != nil {
		t.Fatalf("GetPowerSamples() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("GetPowerSamples() returned %d buffers, want 3", len(all))
	}
	for i, ps := range all {
		if ps.Index != uint8(i) || ps.Type != protocol.PowerSamplesNowUnfiltered || ps.Samples[0] != int16(i) {
			t.Errorf("buffer %d = %+v", i, ps)
		}
	}
	if stone.commandCount() != 4 {
		t.Errorf("stone got %d commands, want 4", stone.commandCount())
	}
	if _, payload := stone.lastCommand(); !bytes.Equal(payload, []byte{0x03, 0x03}) {
		t.Errorf("last request = %x, want 0303", payload)
	}
}

func TestGetPowerSamplesAtIndex(t *testing.T) {
	stone := newMockStone(t, false, powerStone(2))
	client, _ := connectedClient(t, stone)
	ctx := context.Background()

	ps, err := client.GetPowerSamplesAtIndex(ctx, protocol.PowerSamplesSoftFuse, 1)
	if err != nil {
		t.Fatalf("GetPowerSamplesAtIndex() error = %v", err)
	}
	if ps.Index != 1 || ps.Multiplier != 0.5 || ps.Interval != 200*time.Microsecond {
		t.Errorf("GetPowerSamplesAtIndex() = %+v", ps)
	}

	var notAccepted *ResultNotAcceptedError
	_, err = client.GetPowerSamplesAtIndex(ctx, protocol.PowerSamplesSoftFuse, 5)
	if !errors.As(err, &notAccepted) || notAccepted.Code != protocol.ResultWrongParameter {
		t.Errorf("GetPowerSamplesAtIndex(5) error = %v, want wrong_parameter rejection", err)
	}
}

func TestGetPowerSamplesFailure(t *testing.T) {
	stone := newMockStone(t, false, reply(protocol.ResultBusy, nil))
	client, _ := connectedClient(t, stone)

	_, err := client.GetPowerSamples(context.Background(), protocol.PowerSamplesSwitchcraft)
	if !errors.Is(err, ErrResultNotAccepted) {
		t.Errorf("GetPowerSamples() error = %v, want ErrResultNotAccepted", err)
	}
}

func TestGetPowerSamplesMalformed(t *testing.T) {
	stone := newMockStone(t, false, reply(protocol.ResultSuccess, []byte{0x03, 0x00}))
	client, _ := connectedClient(t, stone)

	_, err := client.GetPowerSamples(context.Background(), protocol.PowerSamplesSwitchcraft)
	if !errors.Is(err, ErrResultInvalid) {
		t.Errorf("GetPowerSamples() error = %v, want ErrResultInvalid", err)
	}
}
