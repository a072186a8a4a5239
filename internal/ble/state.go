package ble

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// getState reads a state variable and returns its value without the
// state header.
func (c *Client) getState(ctx context.Context, state protocol.StateType, minLen int) ([]byte, error) {
	result, err := c.SendCommand(ctx, protocol.CommandGetState, protocol.MarshalStateGet(state, 0))
	if err != nil {
		return nil, err
	}
	value, err := protocol.StateValue(result.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultInvalid, err)
	}
	if len(value) < minLen {
		return nil, fmt.Errorf("%w: state %d value is %d bytes, want %d", ErrResultInvalid, state, len(value), minLen)
	}
	return value, nil
}

// SetState writes a state variable. Stored values survive a reboot.
func (c *Client) SetState(ctx context.Context, state protocol.StateType, mode protocol.PersistenceMode, value []byte) error {
	_, err := c.SendCommand(ctx, protocol.CommandSetState, protocol.MarshalStateSet(state, 0, mode, value))
	return err
}

// SetCurrentThresholdDimmer sets the current in amperes above which the
// dimmer is turned off.
func (c *Client) SetCurrentThresholdDimmer(ctx context.Context, amps float64) error {
	ma := math.Round(amps * 1000)
	if ma < 0 || ma > math.MaxUint16 {
		return fmt.Errorf("ble: current threshold %.3fA out of range", amps)
	}
	return c.SetState(ctx, protocol.StateCurrentThresholdDimmer, protocol.PersistenceStored, protocol.MarshalUint16(uint16(ma)))
}

// GetCurrentThresholdDimmer returns the dimmer current threshold in amperes.
func (c *Client) GetCurrentThresholdDimmer(ctx context.Context) (float64, error) {
	v, err := c.getState(ctx, protocol.StateCurrentThresholdDimmer, 2)
	if err != nil {
		return 0, err
	}
	return float64(binary.LittleEndian.Uint16(v)) / 1000, nil
}

// GetSwitchState returns the relay and dimmer state.
func (c *Client) GetSwitchState(ctx context.Context) (protocol.SwitchState, error) {
	v, err := c.getState(ctx, protocol.StateSwitchState, 1)
	if err != nil {
		return 0, err
	}
	return protocol.SwitchState(v[0]), nil
}

// GetTime returns the stone's clock.
func (c *Client) GetTime(ctx context.Context) (time.Time, error) {
	v, err := c.getState(ctx, protocol.StateTime, 4)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(binary.LittleEndian.Uint32(v)), 0), nil
}

// GetPowerUsage returns the power usage in watts.
func (c *Client) GetPowerUsage(ctx context.Context) (float64, error) {
	v, err := c.getState(ctx, protocol.StatePowerUsage, 4)
	if err != nil {
		return 0, err
	}
	return float64(int32(binary.LittleEndian.Uint32(v))) / 1000, nil
}

// GetErrors returns the error bitmask.
func (c *Client) GetErrors(ctx context.Context) (protocol.ErrorBitmask, error) {
	v, err := c.getState(ctx, protocol.StateErrorBitmask, 4)
	if err != nil {
		return 0, err
	}
	return protocol.ErrorBitmask(binary.LittleEndian.Uint32(v)), nil
}

// GetChipTemperature returns the chip temperature in degrees Celsius.
func (c *Client) GetChipTemperature(ctx context.Context) (int8, error) {
	v, err := c.getState(ctx, protocol.StateTemperature, 1)
	if err != nil {
		return 0, err
	}
	return int8(v[0]), nil
}

// GetDimmingAllowed reports whether the dimmer is enabled.
func (c *Client) GetDimmingAllowed(ctx context.Context) (bool, error) {
	v, err := c.getState(ctx, protocol.StatePWMAllowed, 1)
	if err != nil {
		return false, err
	}
	return v[0] != 0, nil
}
