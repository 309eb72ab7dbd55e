package device

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

func TestRingBufferDrainOrder(t *testing.T) {
	r := NewRingBuffer(16)
	r.Write([]byte("hello "))
	r.Write([]byte("world"))
	if got := string(r.Drain(0)); got != "hello world" {
		t.Errorf("Drain(0) = %q, want %q", got, "hello world")
	}
	if got := r.Drain(0); got != nil {
		t.Errorf("Drain on empty = %q, want nil", got)
	}
}

func TestRingBufferDrainMax(t *testing.T) {
	r := NewRingBuffer(32)
	r.Write([]byte("abcdefghij"))
	if got := string(r.Drain(4)); got != "abcd" {
		t.Errorf("Drain(4) = %q, want abcd", got)
	}
	if got := string(r.Drain(4)); got != "efgh" {
		t.Errorf("Drain(4) = %q, want efgh", got)
	}
	if got := r.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

func TestRingBufferOverflowKeepsNewest(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   string
		lost   uint64
	}{
		{"exact fit", []string{"0123456789abcdef"}, "0123456789abcdef", 0},
		{"wraps", []string{"0123456789abcdef", "XY"}, "23456789abcdefXY", 2},
		{"oversized single write", []string{"0123456789abcdefGHIJ"}, "456789abcdefGHIJ", 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRingBuffer(16)
			for _, w := range tc.writes {
				r.Write([]byte(w))
			}
			if got := string(r.Drain(0)); got != tc.want {
				t.Errorf("Drain = %q, want %q", got, tc.want)
			}
			if got := r.Dropped(); got != tc.lost {
				t.Errorf("Dropped = %d, want %d", got, tc.lost)
			}
		})
	}
}

func TestNewRingBufferRoundsUp(t *testing.T) {
	if got := NewRingBuffer(3000).Cap(); got != 4096 {
		t.Errorf("Cap = %d, want 4096", got)
	}
}

// pipePort is a Port whose device output is fed by the test.
type pipePort struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	written bytes.Buffer
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *pipePort) Close() error {
	_ = p.w.Close()
	return p.r.Close()
}

func waitPoll(t *testing.T, b *Bridge, ch int, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	for time.Now().Before(deadline) {
		data, err := b.Poll(ch)
		if err != nil {
			t.Fatalf("Poll(%d): %v", ch, err)
		}
		got = append(got, data...)
		if string(got) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Poll(%d) accumulated %q, want %q", ch, got, want)
}

func TestBridgeBuffersUARTOutput(t *testing.T) {
	ports := [Channels]*pipePort{newPipePort(), newPipePort()}
	seen := make(chan int, 8)
	b := NewBridge(Options{
		Open:   func(ch int, _ int) (Port, error) { return ports[ch], nil },
		OnData: func(ch int, data []byte) { seen <- ch },
	})
	if err := b.Start([Channels]int{115200, 9600}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()

	if _, err := ports[1].w.Write([]byte("boot ok\n")); err != nil {
		t.Fatal(err)
	}
	waitPoll(t, b, 1, "boot ok\n")
	if data, _ := b.Poll(0); len(data) != 0 {
		t.Errorf("Poll(0) = %q, want empty", data)
	}
	if got := b.Baud(1); got != 9600 {
		t.Errorf("Baud(1) = %d, want 9600", got)
	}
	select {
	case ch := <-seen:
		if ch != 1 {
			t.Errorf("OnData channel = %d, want 1", ch)
		}
	case <-time.After(2 * time.Second):
		t.Errorf("OnData not called")
	}
}

func TestBridgeSendReachesPort(t *testing.T) {
	p := newPipePort()
	b := NewBridge(Options{Open: func(ch int, _ int) (Port, error) {
		if ch == 0 {
			return p, nil
		}
		return newPipePort(), nil
	}})
	if err := b.Start([Channels]int{115200, 115200}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()
	if err := b.Send(0, []byte("AT\r\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := p.written.String(); got != "AT\r\n" {
		t.Errorf("port received %q, want %q", got, "AT\r\n")
	}
}

func TestBridgeInvalidChannel(t *testing.T) {
	b := NewBridge(Options{})
	if _, err := b.Poll(2); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("Poll(2) err = %v, want ErrInvalidChannel", err)
	}
	if err := b.Send(-1, []byte("x")); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("Send(-1) err = %v, want ErrInvalidChannel", err)
	}
}

func TestBridgeSendBeforeStart(t *testing.T) {
	b := NewBridge(Options{})
	if err := b.Send(0, []byte("x")); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Send before Start err = %v, want ErrNotRunning", err)
	}
}

func TestSimulatorEchoes(t *testing.T) {
	sim := SimOptions{EchoDelay: time.Millisecond}
	b := NewBridge(Options{Open: func(ch int, _ int) (Port, error) { return NewSimPort(ch, sim), nil }})
	if err := b.Start([Channels]int{115200, 115200}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()
	if err := b.Send(1, []byte("ls\r\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitPoll(t, b, 1, "Echo: ls\r\n")
}

func TestBridgeRestartClearsBuffers(t *testing.T) {
	ports := [Channels]*pipePort{newPipePort(), newPipePort()}
	opened := 0
	b := NewBridge(Options{Open: func(ch int, _ int) (Port, error) {
		opened++
		if opened <= Channels {
			return ports[ch], nil
		}
		return newPipePort(), nil
	}})
	if err := b.Start([Channels]int{115200, 115200}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()
	_, _ = ports[0].w.Write([]byte("stale"))
	deadline := time.Now().Add(2 * time.Second)
	for b.Buffered(0) < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := b.Restart([Channels]int{57600, 57600}); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if got := b.Buffered(0); got != 0 {
		t.Errorf("Buffered after restart = %d, want 0", got)
	}
	if got := b.Baud(0); got != 57600 {
		t.Errorf("Baud after restart = %d, want 57600", got)
	}
}
