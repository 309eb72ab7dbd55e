package device

import (
	"fmt"
	"io"
	"strings"
	"time"

	goserial "github.com/tarm/serial"
)

// Port is one side of a bridged serial channel.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the backend for channel ch at the given baud rate.
type Opener func(ch int, baud int) (Port, error)

// UARTOpener returns an Opener binding channels to hardware device names.
// An empty name falls back to the simulator for that channel.
func UARTOpener(names [2]string, sim SimOptions) Opener {
	return func(ch int, baud int) (Port, error) {
		if ch < 0 || ch >= len(names) {
			return nil, fmt.Errorf("invalid channel %d", ch)
		}
		name := strings.TrimSpace(names[ch])
		if name == "" {
			return NewSimPort(ch, sim), nil
		}
		return OpenUART(name, baud)
	}
}

// OpenUART opens a hardware serial port 8N1.
//
// The short read timeout keeps the reader goroutine responsive to Close
// during a restart.
func OpenUART(name string, baud int) (Port, error) {
	if name == "" {
		return nil, fmt.Errorf("missing port name")
	}
	cfg := &goserial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: 100 * time.Millisecond,
	}
	p, err := goserial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return p, nil
}
