//go:build darwin || windows

package ble

func (c *tinygoCharacteristic) writeWithResponse(data []byte) error {
	_, err := c.char.Write(data)
	return err
}
