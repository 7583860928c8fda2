//go:build darwin || windows

package radio

import "tinygo.org/x/bluetooth"

// writeCharacteristic performs a write with response; it returns once the
// peer has acknowledged the value.
func writeCharacteristic(c *bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := c.Write(data)
	return err
}
