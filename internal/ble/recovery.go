package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// Recovery status bytes read back from the factory reset characteristic.
const (
	recoveryAccepted = 1
	recoveryDisabled = 2
)

// recoveryRounds is how many times the recovery sequence is written.
const recoveryRounds = 2

// Recover factory-resets a stone whose keys are lost. It only works in the
// short window after the stone powers on. The sequence runs twice, each
// round connecting without a session, writing the recovery code, checking
// the status, disconnecting and settling.
func (c *Client) Recover(ctx context.Context, address string) error {
	for round := range recoveryRounds {
		settle := c.recoverySettle(round)
		slog.Info("[BLE] recovery round", "address", address, "round", round+1)
		if err := c.recoverOnce(ctx, address); err != nil {
			return err
		}
		select {
		case <-time.After(settle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	slog.Info("[BLE] recovery complete", "address", address)
	return nil
}

// recoverySettle returns the pause after round. Missing entries reuse the
// last configured value.
func (c *Client) recoverySettle(round int) time.Duration {
	settle := c.opts.RecoverySettle
	if len(settle) == 0 {
		settle = DefaultClientOptions().RecoverySettle
	}
	if round >= len(settle) {
		return settle[len(settle)-1]
	}
	return settle[round]
}

func (c *Client) recoverOnce(ctx context.Context, address string) error {
	if err := c.Connect(ctx, address, true); err != nil {
		return err
	}
	defer c.Disconnect()

	code := protocol.MarshalUint32(protocol.FactoryResetCode)
	if err := c.WriteUnencrypted(CrownstoneServiceUUID, FactoryResetCharUUID, code); err != nil {
		return err
	}
	status, err := c.ReadUnencrypted(CrownstoneServiceUUID, FactoryResetCharUUID)
	if err != nil {
		return err
	}
	if len(status) == 0 {
		return fmt.Errorf("%w: empty status", ErrNotInRecoveryWindow)
	}
	switch status[0] {
	case recoveryAccepted:
		return nil
	case recoveryDisabled:
		return ErrRecoveryDisabled
	default:
		return fmt.Errorf("%w: status %d", ErrNotInRecoveryWindow, status[0])
	}
}
