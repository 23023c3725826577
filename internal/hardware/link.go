// Package hardware talks to the gate microcontroller over a line-oriented serial protocol.
package hardware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"gate-service/internal/domain/access"
)

const (
	DefaultBaudRate = 9600

	HandshakeToken        = "ARDUINO_READY"
	CounterHandshakeToken = "PYTHON_READY"

	readPoll = 100 * time.Millisecond
)

var (
	ErrNotFound  = errors.New("hardware: no device answered the handshake")
	ErrTransport = errors.New("hardware: transport error")
	ErrTimeout   = errors.New("hardware: read timed out")
)

// Port is the subset of a serial port the link needs. go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Link is an open, handshaken connection to the microcontroller.
type Link struct {
	port Port
	name string
	log  zerolog.Logger

	writeMu sync.Mutex

	readMu  sync.Mutex
	pending []byte
}

func newLink(port Port, name string, log zerolog.Logger) *Link {
	return &Link{
		port: port,
		name: name,
		log:  log.With().Str("port", name).Logger(),
	}
}

// Name returns the device name of the adopted port.
func (l *Link) Name() string {
	return l.name
}

// Send writes one newline-terminated command.
func (l *Link) Send(cmd string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := l.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrTransport, cmd, err)
	}
	return nil
}

// SendCommand is fire-and-forget: a failed write is logged and the next command
// is attempted independently.
func (l *Link) SendCommand(cmd access.Command) {
	if err := l.Send(string(cmd)); err != nil {
		l.log.Error().Err(err).Str("command", string(cmd)).Msg("failed to send command")
		return
	}
	l.log.Info().Str("command", string(cmd)).Msg("command sent")
}

// ReceiveLine blocks until a full line arrives or ctx is done. The trailing
// newline and carriage return are stripped.
func (l *Link) ReceiveLine(ctx context.Context) (string, error) {
	l.readMu.Lock()
	defer l.readMu.Unlock()

	buf := make([]byte, 128)
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := string(l.pending[:i])
			l.pending = append(l.pending[:0], l.pending[i+1:]...)
			return strings.TrimSpace(line), nil
		}
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", ErrTimeout
			}
			return "", err
		}
		n, err := l.port.Read(buf)
		if n > 0 {
			l.pending = append(l.pending, buf[:n]...)
		}
		if err != nil {
			return "", fmt.Errorf("%w: read: %v", ErrTransport, err)
		}
	}
}

func (l *Link) Close() error {
	return l.port.Close()
}

// DiscoverConfig controls port probing. Zero values fall back to the serial
// package and the protocol defaults.
type DiscoverConfig struct {
	BaudRate         int
	SettleDelay      time.Duration
	HandshakeTimeout time.Duration
	// Port restricts probing to a single device name when set.
	Port string

	List func() ([]string, error)
	Open func(name string, baud int) (Port, error)
}

func (c *DiscoverConfig) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 3 * time.Second
	}
	if c.List == nil {
		c.List = serial.GetPortsList
	}
	if c.Open == nil {
		c.Open = OpenSerial
	}
}

// OpenSerial opens a real serial port with a short read timeout so reads can
// observe context cancellation.
func OpenSerial(name string, baud int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readPoll); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// ListPorts returns the serial devices visible to the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Discover probes every available port: open, wait for the board to reset,
// read one line, and adopt the first port that sends the handshake token.
func Discover(ctx context.Context, cfg DiscoverConfig, log zerolog.Logger) (*Link, error) {
	cfg.applyDefaults()

	names := []string{cfg.Port}
	if cfg.Port == "" {
		var err error
		names, err = cfg.List()
		if err != nil {
			return nil, fmt.Errorf("%w: list ports: %v", ErrNotFound, err)
		}
	}

	for _, name := range names {
		log.Info().Str("port", name).Msg("probing serial port")
		link, err := probe(ctx, cfg, name, log)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug().Err(err).Str("port", name).Msg("port did not handshake")
			continue
		}
		log.Info().Str("port", name).Msg("microcontroller found")
		return link, nil
	}
	return nil, ErrNotFound
}

func probe(ctx context.Context, cfg DiscoverConfig, name string, log zerolog.Logger) (*Link, error) {
	port, err := cfg.Open(name, cfg.BaudRate)
	if err != nil {
		return nil, err
	}

	select {
	case <-time.After(cfg.SettleDelay):
	case <-ctx.Done():
		port.Close()
		return nil, ctx.Err()
	}

	if err := port.ResetInputBuffer(); err != nil {
		log.Debug().Err(err).Str("port", name).Msg("failed to reset input buffer")
	}

	link := newLink(port, name, log)
	hsCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	line, err := link.ReceiveLine(hsCtx)
	if err != nil {
		port.Close()
		return nil, err
	}
	if line != HandshakeToken {
		port.Close()
		return nil, fmt.Errorf("unexpected handshake line %q", line)
	}
	if err := link.Send(CounterHandshakeToken); err != nil {
		port.Close()
		return nil, err
	}
	return link, nil
}
