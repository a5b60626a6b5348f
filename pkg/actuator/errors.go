package actuator

import "fmt"

// CheckChannel returns an error if channel is not addressable.
func CheckChannel(channel int) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("channel %d out of range [0, %d)", channel, NumChannels)
	}
	return nil
}
