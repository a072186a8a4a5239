package ble

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// sendMicroappCommand runs a microapp command over the streaming result
// protocol: wait-for-success results keep the exchange open, the first
// other result ends it and must be in accepted.
func (c *Client) sendMicroappCommand(ctx context.Context, cmd protocol.CommandType, payload []byte, accepted ...protocol.ResultCode) (*protocol.ResultPacket, error) {
	result, err := c.SendStreamCommand(ctx, cmd, payload, func(r *protocol.ResultPacket) ProcessType {
		if r.Code == protocol.ResultWaitForSuccess {
			slog.Debug("[BLE] waiting for stone", "command", cmd)
			return ProcessContinue
		}
		return ProcessFinished
	})
	if err != nil {
		return nil, err
	}
	if !slices.Contains(accepted, result.Code) {
		slog.Warn("[BLE] microapp command failed", "command", cmd, "result", result.Code)
		return nil, &ResultNotAcceptedError{Command: cmd, Code: result.Code, Payload: result.Payload}
	}
	return result, nil
}

// GetMicroappInfo returns the microapp capabilities and app states.
func (c *Client) GetMicroappInfo(ctx context.Context) (*protocol.MicroappInfo, error) {
	result, err := c.sendMicroappCommand(ctx, protocol.CommandMicroappGetInfo, nil, protocol.ResultSuccess)
	if err != nil {
		return nil, err
	}
	info, err := protocol.ParseMicroappInfo(result.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultInvalid, err)
	}
	return info, nil
}

// UploadMicroappChunk writes one chunk at offset. The chunk length must be
// a multiple of 4.
func (c *Client) UploadMicroappChunk(ctx context.Context, index uint8, offset uint16, chunk []byte) error {
	slog.Debug("[BLE] upload microapp chunk", "index", index, "offset", offset, "size", len(chunk))
	packet := protocol.MarshalMicroappUpload(index, offset, chunk)
	_, err := c.sendMicroappCommand(ctx, protocol.CommandMicroappUpload, packet, protocol.ResultSuccess, protocol.ResultSuccessNoChange)
	return err
}

// UploadMicroapp uploads a whole microapp binary in chunks, padding each
// chunk with 0xFF to a multiple of 4 bytes.
func (c *Client) UploadMicroapp(ctx context.Context, data []byte, index uint8, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = protocol.DefaultMicroappChunkSize
	}
	if len(data) > 0xFFFF+1 {
		return fmt.Errorf("ble: microapp of %d bytes exceeds the 16 bit offset range", len(data))
	}
	for i, chunk := range protocol.ChunkBytes(data, chunkSize) {
		offset := i * chunkSize
		if err := c.UploadMicroappChunk(ctx, index, uint16(offset), protocol.PadWords(chunk, 0xFF)); err != nil {
			return fmt.Errorf("ble: upload microapp chunk at %d: %w", offset, err)
		}
	}
	slog.Info("[BLE] microapp uploaded", "index", index, "size", len(data))
	return nil
}

// ValidateMicroapp asks the stone to check the uploaded binary.
func (c *Client) ValidateMicroapp(ctx context.Context, index uint8) error {
	_, err := c.sendMicroappCommand(ctx, protocol.CommandMicroappValidate, protocol.MarshalMicroappHeader(index), protocol.ResultSuccess)
	return err
}

// EnableMicroapp starts the microapp.
func (c *Client) EnableMicroapp(ctx context.Context, index uint8) error {
	_, err := c.sendMicroappCommand(ctx, protocol.CommandMicroappEnable, protocol.MarshalMicroappHeader(index), protocol.ResultSuccess)
	return err
}

// DisableMicroapp stops the microapp.
func (c *Client) DisableMicroapp(ctx context.Context, index uint8) error {
	_, err := c.sendMicroappCommand(ctx, protocol.CommandMicroappDisable, protocol.MarshalMicroappHeader(index), protocol.ResultSuccess)
	return err
}

// RemoveMicroapp erases the microapp.
func (c *Client) RemoveMicroapp(ctx context.Context, index uint8) error {
	_, err := c.sendMicroappCommand(ctx, protocol.CommandMicroappRemove, protocol.MarshalMicroappHeader(index), protocol.ResultSuccess, protocol.ResultSuccessNoChange)
	return err
}
