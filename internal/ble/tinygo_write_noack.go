//go:build !darwin && !windows

package ble

// writeWithResponse goes through BlueZ WriteValue with no "type" option,
// which BlueZ sends as a write request when the characteristic supports it.
// The tinygo stack has no explicit write request call outside darwin and
// windows.
func (c *tinygoCharacteristic) writeWithResponse(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
