//go:build !darwin && !windows

package radio

import "tinygo.org/x/bluetooth"

// writeCharacteristic issues a write without response. BlueZ only reports
// that the value was handed to the controller, not that the peer took it.
func writeCharacteristic(c *bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := c.WriteWithoutResponse(data)
	return err
}
