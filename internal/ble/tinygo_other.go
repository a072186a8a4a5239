//go:build !linux

package ble

import (
	"log/slog"

	"tinygo.org/x/bluetooth"
)

func platformAdapter(id string) *bluetooth.Adapter {
	if id != "" {
		slog.Warn("[BLE] adapter selection is only supported on Linux, using default", "adapter", id)
	}
	return bluetooth.DefaultAdapter
}
