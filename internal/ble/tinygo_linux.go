//go:build linux

package ble

import "tinygo.org/x/bluetooth"

func platformAdapter(id string) *bluetooth.Adapter {
	if id == "" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(id)
}
