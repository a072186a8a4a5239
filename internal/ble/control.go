package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// SetSwitch sets the switch to 0..100 percent or one of the special values
// protocol.SwitchToggle, SwitchBehaviour or SwitchSmartOn.
func (c *Client) SetSwitch(ctx context.Context, value uint8) error {
	if value > 100 && value < protocol.SwitchToggle {
		return fmt.Errorf("ble: switch value %d out of range", value)
	}
	_, err := c.SendCommand(ctx, protocol.CommandSwitch, protocol.MarshalUint8(value))
	return err
}

// SetRelay switches the relay on or off.
func (c *Client) SetRelay(ctx context.Context, on bool) error {
	_, err := c.SendCommand(ctx, protocol.CommandRelay, protocol.MarshalBool(on))
	return err
}

// SetDimmer sets the dimmer intensity in percent.
func (c *Client) SetDimmer(ctx context.Context, percent uint8) error {
	if percent > 100 {
		return fmt.Errorf("ble: dimmer percentage %d out of range", percent)
	}
	_, err := c.SendCommand(ctx, protocol.CommandDimmer, protocol.MarshalUint8(percent))
	return err
}

// AllowDimming enables or disables the dimmer.
func (c *Client) AllowDimming(ctx context.Context, allow bool) error {
	_, err := c.SendCommand(ctx, protocol.CommandAllowDimming, protocol.MarshalBool(allow))
	return err
}

// LockSwitch locks or unlocks the switch.
func (c *Client) LockSwitch(ctx context.Context, lock bool) error {
	_, err := c.SendCommand(ctx, protocol.CommandLockSwitch, protocol.MarshalBool(lock))
	return err
}

// ResetErrors clears the errors selected by bitmask.
func (c *Client) ResetErrors(ctx context.Context, bitmask protocol.ErrorBitmask) error {
	_, err := c.SendCommand(ctx, protocol.CommandResetErrors, protocol.MarshalUint32(uint32(bitmask)))
	return err
}

// SetTime sets the stone's clock.
func (c *Client) SetTime(ctx context.Context, t time.Time) error {
	_, err := c.SendCommand(ctx, protocol.CommandSetTime, protocol.MarshalUint32(uint32(t.Unix())))
	return err
}

// FactoryReset wipes the stone back to setup mode. Requires the admin key.
func (c *Client) FactoryReset(ctx context.Context) error {
	_, err := c.SendCommand(ctx, protocol.CommandFactoryReset, protocol.MarshalUint32(protocol.FactoryResetCode))
	return err
}

// Reset reboots the stone.
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.SendCommand(ctx, protocol.CommandReset, nil)
	return err
}

// PutInDFUMode reboots the stone into its bootloader.
func (c *Client) PutInDFUMode(ctx context.Context) error {
	_, err := c.SendCommand(ctx, protocol.CommandGotoDFU, nil)
	return err
}

// CommandDisconnect asks the stone to drop the link, then disconnects
// from this side as well.
func (c *Client) CommandDisconnect(ctx context.Context) error {
	if _, err := c.SendCommand(ctx, protocol.CommandDisconnect, nil); err != nil {
		return err
	}
	slog.Debug("[BLE] disconnect command accepted")
	return c.Disconnect()
}
