package hardware

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gate-service/internal/domain/access"
)

// fakePort behaves like a serial port with a short read timeout: Read returns
// (0, nil) when no data is buffered.
type fakePort struct {
	mu       sync.Mutex
	in       bytes.Buffer
	out      bytes.Buffer
	writeErr error
	closed   bool
}

func newFakePort(input string) *fakePort {
	p := &fakePort{}
	p.in.WriteString(input)
	return p
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.in.Len() > 0 {
		defer p.mu.Unlock()
		return p.in.Read(b)
	}
	p.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return 0, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.out.Write(b)
}

func (p *fakePort) feed(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.WriteString(s)
}

func (p *fakePort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error { return nil }

func testDiscoverConfig(ports map[string]*fakePort, order ...string) DiscoverConfig {
	return DiscoverConfig{
		SettleDelay:      time.Millisecond,
		HandshakeTimeout: 50 * time.Millisecond,
		List:             func() ([]string, error) { return order, nil },
		Open: func(name string, baud int) (Port, error) {
			p, ok := ports[name]
			if !ok {
				return nil, errors.New("no such port")
			}
			return p, nil
		},
	}
}

func TestDiscover_AdoptsHandshakingPort(t *testing.T) {
	silent := newFakePort("")
	noisy := newFakePort("garbage\n")
	board := newFakePort("ARDUINO_READY\r\n")
	ports := map[string]*fakePort{"/dev/ttyS0": silent, "/dev/ttyUSB0": noisy, "/dev/ttyACM0": board}

	cfg := testDiscoverConfig(ports, "/dev/ttyS0", "/dev/missing", "/dev/ttyUSB0", "/dev/ttyACM0")
	link, err := Discover(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if link.Name() != "/dev/ttyACM0" {
		t.Errorf("expected /dev/ttyACM0, got %s", link.Name())
	}
	if got := board.written(); got != "PYTHON_READY\n" {
		t.Errorf("expected counter-handshake, got %q", got)
	}
	if !silent.closed || !noisy.closed {
		t.Error("expected non-handshaking ports to be closed")
	}
	if board.closed {
		t.Error("adopted port must stay open")
	}
}

func TestDiscover_NotFound(t *testing.T) {
	cfg := testDiscoverConfig(map[string]*fakePort{"a": newFakePort("HELLO\n")}, "a")
	_, err := Discover(context.Background(), cfg, zerolog.Nop())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSendCommand_TransportErrorIsNotFatal(t *testing.T) {
	port := newFakePort("")
	link := newLink(port, "test", zerolog.Nop())

	port.writeErr = errors.New("unplugged")
	link.SendCommand(access.CommandGrant)

	port.writeErr = nil
	link.SendCommand(access.CommandDeny)

	if got := port.written(); got != "RECUSAR\n" {
		t.Errorf("expected only the second command, got %q", got)
	}
}

func TestReceiveLine_SplitsAndTimesOut(t *testing.T) {
	port := newFakePort("DISTANCE:10\nDIST")
	link := newLink(port, "test", zerolog.Nop())

	line, err := link.ReceiveLine(context.Background())
	if err != nil || line != "DISTANCE:10" {
		t.Fatalf("got %q, %v", line, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := link.ReceiveLine(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout on partial line, got %v", err)
	}

	port.feed("ANCE:42\n")
	line, err = link.ReceiveLine(context.Background())
	if err != nil || line != "DISTANCE:42" {
		t.Fatalf("expected buffered remainder to complete, got %q, %v", line, err)
	}
}

func TestListen_EmitsEdges(t *testing.T) {
	port := newFakePort(strings.Join([]string{
		"DISTANCE:50", "DISTANCE:10", "DISTANCE:5", "DISTANCE:x", "BOOT", "DISTANCE:19",
		"DISTANCE:20", "DISTANCE:80", "DISTANCE:3",
	}, "\n") + "\n")
	link := newLink(port, "test", zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var edges []Edge
	link.Listen(ctx, NewPresence(20), func(e Edge) { edges = append(edges, e) })

	want := []Edge{EdgeArrived, EdgeLeft, EdgeArrived}
	if len(edges) != len(want) {
		t.Fatalf("expected %v, got %v", want, edges)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d: expected %v, got %v", i, want[i], edges[i])
		}
	}
}
