// Package gpio provides the pump relay output with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Relay drives the pump relay.
type Relay interface {
	// Set drives the relay: true = pump on.
	Set(on bool) error

	// Close turns the relay off and releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultChip     = "gpiochip0"
	DefaultPinRelay = 26
)
