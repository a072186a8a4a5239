package ble

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// maxPowerSampleBuffers bounds GetPowerSamples when a stone keeps
// answering success.
const maxPowerSampleBuffers = 256

// GetPowerSamplesAtIndex reads one buffer of power samples.
func (c *Client) GetPowerSamplesAtIndex(ctx context.Context, t protocol.PowerSamplesType, index uint8) (*protocol.PowerSamples, error) {
	result, err := c.SendCommand(ctx, protocol.CommandGetPowerSamples, protocol.MarshalPowerSamplesRequest(t, index))
	if err != nil {
		return nil, err
	}
	return parsePowerSamples(result.Payload)
}

// GetPowerSamples reads every buffer of type t, from index 0 until the
// stone answers wrong_parameter.
func (c *Client) GetPowerSamples(ctx context.Context, t protocol.PowerSamplesType) ([]*protocol.PowerSamples, error) {
	var all []*protocol.PowerSamples
	for index := range maxPowerSampleBuffers {
		result, err := c.SendCommand(ctx, protocol.CommandGetPowerSamples,
			protocol.MarshalPowerSamplesRequest(t, uint8(index)),
			protocol.ResultSuccess, protocol.ResultWrongParameter)
		if err != nil {
			return all, err
		}
		if result.Code == protocol.ResultWrongParameter {
			slog.Debug("[BLE] power samples read", "type", t, "buffers", len(all))
			return all, nil
		}
		samples, err := parsePowerSamples(result.Payload)
		if err != nil {
			return all, err
		}
		all = append(all, samples)
	}
	return all, fmt.Errorf("ble: power samples %s: more than %d buffers", t, maxPowerSampleBuffers)
}

func parsePowerSamples(payload []byte) (*protocol.PowerSamples, error) {
	samples, err := protocol.ParsePowerSamples(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultInvalid, err)
	}
	return samples, nil
}
