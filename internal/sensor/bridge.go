package sensor

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the bridge firmware's serial speed.
	DefaultBaudRate = 115200
	// DefaultBridgeTimeout bounds one request/response exchange.
	DefaultBridgeTimeout = 500 * time.Millisecond

	maxLineLen = 64
)

var errBridgeTimeout = errors.New("bridge: response timeout")

// bridgePort is the part of serial.Port the bridge needs.
type bridgePort interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Bridge talks to a microcontroller that owns the soil ADC and the DHT11.
//
// Protocol, one request per line:
//
//	S  -> "<raw>"          soil ADC sample, 0..1023
//	C  -> "<temp> <hum>"   climate reading, or "ERR" when the transaction failed
type Bridge struct {
	mu      sync.Mutex
	conn    bridgePort
	timeout time.Duration
	now     func() time.Time
}

// OpenBridge opens the serial port and returns a bridge on it.
func OpenBridge(port string, baudRate int) (*Bridge, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	// Short per-read timeout; readLine enforces the overall deadline.
	if err := p.SetReadTimeout(50 * time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return newBridge(p, DefaultBridgeTimeout), nil
}

func newBridge(conn bridgePort, timeout time.Duration) *Bridge {
	return &Bridge{conn: conn, timeout: timeout, now: time.Now}
}

// ReadRaw requests one soil ADC sample.
func (b *Bridge) ReadRaw() (int, error) {
	line, err := b.exchange("S")
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("bridge: bad soil response %q", line)
	}
	if v < 0 || v > MaxRaw {
		return 0, fmt.Errorf("bridge: soil sample %d out of range", v)
	}
	return v, nil
}

// Read requests one climate transaction.
func (b *Bridge) Read() (float64, float64, error) {
	line, err := b.exchange("C")
	if err != nil {
		return 0, 0, err
	}
	if line == "ERR" {
		return 0, 0, errors.New("bridge: climate sensor transaction failed")
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("bridge: bad climate response %q", line)
	}
	temp, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bridge: bad temperature %q", fields[0])
	}
	hum, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bridge: bad humidity %q", fields[1])
	}
	return temp, hum, nil
}

// Close closes the serial port.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.Close()
}

func (b *Bridge) exchange(cmd string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A reply that missed its deadline may still be in the input buffer;
	// it must not be read as the answer to this request.
	if err := b.conn.ResetInputBuffer(); err != nil {
		return "", fmt.Errorf("bridge: reset input: %w", err)
	}
	if _, err := io.WriteString(b.conn, cmd+"\n"); err != nil {
		return "", fmt.Errorf("bridge: write %s: %w", cmd, err)
	}
	return b.readLine()
}

// readLine reads up to '\n'. The serial port returns (0, nil) when its
// per-read timeout expires, so the overall deadline is checked here.
func (b *Bridge) readLine() (string, error) {
	deadline := b.now().Add(b.timeout)
	var sb strings.Builder
	buf := make([]byte, 1)

	for {
		n, err := b.conn.Read(buf)
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("bridge: read: %w", err)
		}
		if n == 1 {
			if buf[0] == '\n' {
				return strings.TrimSpace(sb.String()), nil
			}
			if sb.Len() >= maxLineLen {
				return "", errors.New("bridge: response line too long")
			}
			sb.WriteByte(buf[0])
			continue
		}
		if err == io.EOF {
			return "", fmt.Errorf("bridge: read: %w", io.ErrUnexpectedEOF)
		}
		if b.now().After(deadline) {
			return "", errBridgeTimeout
		}
	}
}
