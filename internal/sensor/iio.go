package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultIIODir is where the kernel exposes Industrial I/O devices.
const DefaultIIODir = "/sys/bus/iio/devices"

// IIOADC reads one channel of an ADC bound to a kernel IIO driver
// (mcp320x, ti-ads1015, ...).
type IIOADC struct {
	path  string
	shift uint // right shift to bring wider converters down to 10 bits
}

// NewIIOADC returns a reader for in_voltage<channel>_raw under device.
// bits is the converter resolution; samples are scaled to 10 bits.
func NewIIOADC(device string, channel, bits int) (*IIOADC, error) {
	if bits < 10 {
		return nil, fmt.Errorf("iio adc: %d-bit converter is too coarse", bits)
	}
	path := filepath.Join(device, fmt.Sprintf("in_voltage%d_raw", channel))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("iio adc: %w", err)
	}
	return &IIOADC{path: path, shift: uint(bits - 10)}, nil
}

// ReadRaw returns one sample scaled to [0,1023].
func (a *IIOADC) ReadRaw() (int, error) {
	v, err := readSysfsInt(a.path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", a.path, err)
	}
	v >>= a.shift
	if v < 0 {
		v = 0
	}
	if v > MaxRaw {
		v = MaxRaw
	}
	return v, nil
}

// IIOClimate reads a DHT11/DHT22 bound to the kernel dht11 IIO driver.
// The driver reports milli-degrees and milli-percent and returns EIO when a
// transaction fails its checksum.
type IIOClimate struct {
	tempPath string
	humPath  string
}

// NewIIOClimate returns a reader for the dht11 device directory.
func NewIIOClimate(device string) (*IIOClimate, error) {
	c := &IIOClimate{
		tempPath: filepath.Join(device, "in_temp_input"),
		humPath:  filepath.Join(device, "in_humidityrelative_input"),
	}
	if _, err := os.Stat(c.tempPath); err != nil {
		return nil, fmt.Errorf("iio climate: %w", err)
	}
	return c, nil
}

// Read performs one sensor transaction.
func (c *IIOClimate) Read() (float64, float64, error) {
	t, err := readSysfsInt(c.tempPath)
	if err != nil {
		return 0, 0, fmt.Errorf("read temperature: %w", err)
	}
	h, err := readSysfsInt(c.humPath)
	if err != nil {
		return 0, 0, fmt.Errorf("read humidity: %w", err)
	}
	return float64(t) / 1000, float64(h) / 1000, nil
}

// FindIIODevice returns the IIO device directory whose name file matches name.
func FindIIODevice(root, name string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("list iio devices: %w", err)
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		b, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(b)) == name {
			return dir, nil
		}
	}
	return "", fmt.Errorf("iio device %q not found under %s", name, root)
}

func readSysfsInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}
