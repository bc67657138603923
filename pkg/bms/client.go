package bms

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// The BMS speaks a half-duplex request / response protocol on RS-485 :
// a fixed 6-byte query, a turnaround pause while the pack prepares its
// answer, then one 140-byte response. Any other response length is a
// protocol error, never a partial frame to pad or truncate.

const (
	DefaultBaud        = 19200
	DefaultTurnaround  = 300 * time.Millisecond
	DefaultReadTimeout = 1 * time.Second
)

var queryCommand = []byte{0x5A, 0x5A, 0x00, 0x00, 0x00, 0x00}

// Client polls the BMS over a serial port. Poll is safe for concurrent
// use, requests are serialized because the link is half-duplex.
type Client struct {
	logger      *slog.Logger
	mu          sync.Mutex
	port        io.ReadWriteCloser
	turnaround  time.Duration
	readTimeout time.Duration
}

// NewClient wraps an already opened port, used by tests
func NewClient(logger *slog.Logger, port io.ReadWriteCloser) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger:      logger.With("service", "[BMS]"),
		port:        port,
		turnaround:  DefaultTurnaround,
		readTimeout: DefaultReadTimeout,
	}
}

// Dial opens the RS-485 serial device, e.g. /dev/ttyUSB0.
// 19200 baud, 8 data bits, no parity, 1 stop bit.
func Dial(logger *slog.Logger, device string) (*Client, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        DefaultBaud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %v : %w", device, err)
	}
	return NewClient(logger, port), nil
}

// SetTurnaround changes the pause between query and read
func (c *Client) SetTurnaround(turnaround time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turnaround >= 0 {
		c.turnaround = turnaround
	}
}

// SetReadTimeout changes the overall response deadline
func (c *Client) SetReadTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		c.readTimeout = timeout
	}
}

// Poll sends one query and decodes the response frame
func (c *Client) Poll() (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.port.Write(queryCommand); err != nil {
		return nil, fmt.Errorf("query write failed : %w", err)
	}
	// Give the pack time to switch direction and answer
	time.Sleep(c.turnaround)

	frame := make([]byte, FrameLength)
	read := 0
	deadline := time.Now().Add(c.readTimeout)
	for read < FrameLength {
		if !time.Now().Before(deadline) {
			c.logger.Warn("incomplete telemetry frame", "got", read, "want", FrameLength)
			return nil, fmt.Errorf("%w : got %d before deadline", ErrWrongFrameLength, read)
		}
		n, err := c.port.Read(frame[read:])
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("response read failed : %w", err)
		}
		read += n
	}
	return Decode(frame)
}

// Close releases the serial handle
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port.Close()
}
