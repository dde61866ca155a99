// Package config loads the irrigation-node configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/irrigation-node/internal/gpio"
	"github.com/sweeney/irrigation-node/internal/irrigation"
	"github.com/sweeney/irrigation-node/internal/moisture"
	"github.com/sweeney/irrigation-node/internal/sensor"
)

// Sensor backends.
const (
	BackendIIO    = "iio"
	BackendSerial = "serial"
)

// Config represents the daemon configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Control     ControlConfig     `yaml:"control"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Relay       RelayConfig       `yaml:"relay"`
	Sensors     SensorsConfig     `yaml:"sensors"`
	Calibration CalibrationConfig `yaml:"calibration"`
}

// HTTPConfig contains the status server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// ControlConfig contains control loop timing.
type ControlConfig struct {
	Poll               time.Duration `yaml:"poll"`
	Warmup             time.Duration `yaml:"warmup"`
	RequiredDrySamples int           `yaml:"required_dry_samples"`
}

// MQTTConfig contains broker settings.
type MQTTConfig struct {
	Broker     string        `yaml:"broker"`
	ClientID   string        `yaml:"client_id"`
	Heartbeat  time.Duration `yaml:"heartbeat"` // 0 disables
	BufferSize int           `yaml:"buffer_size"`
}

// RelayConfig contains the pump relay output line.
type RelayConfig struct {
	Chip      string `yaml:"chip"`
	Pin       int    `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`
}

// SensorsConfig selects and configures the sensor backend.
type SensorsConfig struct {
	Backend string       `yaml:"backend"`
	IIO     IIOConfig    `yaml:"iio"`
	Serial  SerialConfig `yaml:"serial"`
}

// IIOConfig names the kernel IIO devices.
type IIOConfig struct {
	Root       string `yaml:"root"`
	ADC        string `yaml:"adc"`
	ADCChannel int    `yaml:"adc_channel"`
	ADCBits    int    `yaml:"adc_bits"`
	Climate    string `yaml:"climate"`
}

// SerialConfig contains the sensor bridge port.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// CalibrationConfig holds the two soil probe calibration points.
type CalibrationConfig struct {
	Dry int `yaml:"dry"`
	Wet int `yaml:"wet"`
}

// Default returns the configuration for the reference wiring: DHT11 and
// MCP3008 on the kernel IIO bus, relay on BCM 26.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":80"},
		Control: ControlConfig{
			Poll:               time.Second,
			Warmup:             irrigation.DefaultWarmup,
			RequiredDrySamples: irrigation.DefaultParams().RequiredDrySamples,
		},
		MQTT: MQTTConfig{
			Broker:     "tcp://192.168.1.200:1883",
			ClientID:   "irrigation-node",
			Heartbeat:  15 * time.Minute,
			BufferSize: 100,
		},
		Relay: RelayConfig{
			Chip: gpio.DefaultChip,
			Pin:  gpio.DefaultPinRelay,
		},
		Sensors: SensorsConfig{
			Backend: BackendIIO,
			IIO: IIOConfig{
				Root:       sensor.DefaultIIODir,
				ADC:        "mcp3008",
				ADCChannel: 0,
				ADCBits:    10,
				Climate:    "dht11",
			},
			Serial: SerialConfig{
				Port:     "/dev/ttyUSB0",
				BaudRate: sensor.DefaultBaudRate,
			},
		},
		Calibration: CalibrationConfig{
			Dry: moisture.DefaultDry,
			Wet: moisture.DefaultWet,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; missing fields keep their default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Control.Poll <= 0 {
		return fmt.Errorf("control.poll must be positive, got %v", c.Control.Poll)
	}
	if c.Control.Warmup < 0 {
		return fmt.Errorf("control.warmup must not be negative, got %v", c.Control.Warmup)
	}
	if c.Control.RequiredDrySamples < 1 {
		return fmt.Errorf("control.required_dry_samples must be at least 1, got %d", c.Control.RequiredDrySamples)
	}
	if c.MQTT.Heartbeat < 0 {
		return fmt.Errorf("mqtt.heartbeat must not be negative, got %v", c.MQTT.Heartbeat)
	}
	if c.Relay.Pin < 0 {
		return fmt.Errorf("relay.pin must not be negative, got %d", c.Relay.Pin)
	}
	switch c.Sensors.Backend {
	case BackendIIO:
		if c.Sensors.IIO.ADCBits < 10 {
			return fmt.Errorf("sensors.iio.adc_bits must be at least 10, got %d", c.Sensors.IIO.ADCBits)
		}
	case BackendSerial:
		if c.Sensors.Serial.Port == "" {
			return fmt.Errorf("sensors.serial.port is required for the serial backend")
		}
	default:
		return fmt.Errorf("unknown sensors.backend %q (want %q or %q)", c.Sensors.Backend, BackendIIO, BackendSerial)
	}
	if err := c.MoistureCalibration().Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	return nil
}

// MoistureCalibration returns the calibration points for the mapper.
func (c *Config) MoistureCalibration() moisture.Calibration {
	return moisture.Calibration{Dry: c.Calibration.Dry, Wet: c.Calibration.Wet}
}

// ControllerParams returns the compiled-in controller parameters with the
// configured debounce length.
func (c *Config) ControllerParams() irrigation.Params {
	p := irrigation.DefaultParams()
	p.RequiredDrySamples = c.Control.RequiredDrySamples
	return p
}

// ensureDefaults fills fields that were set to their zero value in the file.
// http.addr and mqtt.heartbeat keep an explicit zero, which disables them.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Control.Poll == 0 {
		c.Control.Poll = def.Control.Poll
	}
	if c.Control.RequiredDrySamples == 0 {
		c.Control.RequiredDrySamples = def.Control.RequiredDrySamples
	}

	if c.MQTT.Broker == "" {
		c.MQTT.Broker = def.MQTT.Broker
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = def.MQTT.BufferSize
	}

	if c.Relay.Chip == "" {
		c.Relay.Chip = def.Relay.Chip
	}

	if c.Sensors.Backend == "" {
		c.Sensors.Backend = def.Sensors.Backend
	}
	if c.Sensors.IIO.Root == "" {
		c.Sensors.IIO.Root = def.Sensors.IIO.Root
	}
	if c.Sensors.IIO.ADC == "" {
		c.Sensors.IIO.ADC = def.Sensors.IIO.ADC
	}
	if c.Sensors.IIO.ADCBits == 0 {
		c.Sensors.IIO.ADCBits = def.Sensors.IIO.ADCBits
	}
	if c.Sensors.IIO.Climate == "" {
		c.Sensors.IIO.Climate = def.Sensors.IIO.Climate
	}
	if c.Sensors.Serial.BaudRate == 0 {
		c.Sensors.Serial.BaudRate = def.Sensors.Serial.BaudRate
	}

	if c.Calibration.Dry == 0 && c.Calibration.Wet == 0 {
		c.Calibration = def.Calibration
	}
}
