//go:build !linux

package ble

import "errors"

// ResolveAdapterID is only supported on Linux.
func ResolveAdapterID(address string) (string, error) {
	return "", errors.New("ble: adapter selection by address requires BlueZ")
}
