// Package device is the device side of the serial bridge: two channels, each a
// UART (real or simulated) whose output accumulates in a ring buffer until a
// browser polls it.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBufferSize matches the device's 4 KiB inbound buffer per channel.
	DefaultBufferSize = 4096
	// DefaultPollChunk is the most a single poll returns.
	DefaultPollChunk = 511

	Channels = 2
)

var (
	ErrInvalidChannel = errors.New("invalid channel")
	ErrNotRunning     = errors.New("bridge not running")
)

// Options configures a Bridge.
type Options struct {
	BufferSize int
	PollChunk  int
	// Open creates the backend for a channel. Defaults to simulated ports.
	Open Opener
	// OnData observes every chunk read from a UART, after it is buffered.
	OnData func(ch int, data []byte)
}

type channel struct {
	idx int
	buf *RingBuffer

	wmu  sync.Mutex
	port Port
	baud int

	cancel context.CancelFunc
	done   chan struct{}
}

// Bridge owns both serial channels.
type Bridge struct {
	opts Options

	mu      sync.Mutex
	chans   [Channels]*channel
	running bool
}

// NewBridge constructs a stopped bridge; call Start to open the ports.
func NewBridge(opts Options) *Bridge {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PollChunk <= 0 {
		opts.PollChunk = DefaultPollChunk
	}
	if opts.Open == nil {
		sim := DefaultSimOptions()
		opts.Open = func(ch int, _ int) (Port, error) { return NewSimPort(ch, sim), nil }
	}
	b := &Bridge{opts: opts}
	for i := range b.chans {
		b.chans[i] = &channel{idx: i, buf: NewRingBuffer(opts.BufferSize)}
	}
	return b
}

// Start opens both channels at the given baud rates.
func (b *Bridge) Start(bauds [Channels]int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	for _, c := range b.chans {
		if err := b.openLocked(c, bauds[c.idx]); err != nil {
			b.stopLocked()
			return err
		}
	}
	b.running = true
	return nil
}

func (b *Bridge) openLocked(c *channel, baud int) error {
	port, err := b.opts.Open(c.idx, baud)
	if err != nil {
		return fmt.Errorf("ttyS%d: %w", c.idx, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.wmu.Lock()
	c.port = port
	c.baud = baud
	c.wmu.Unlock()
	c.cancel = cancel
	c.done = make(chan struct{})
	go b.readLoop(ctx, c, port, c.done)
	log.Info().Int("channel", c.idx).Int("baud", baud).Msg("serial channel opened")
	return nil
}

func (b *Bridge) readLoop(ctx context.Context, c *channel, port Port, done chan struct{}) {
	defer close(done)
	tmp := make([]byte, 256)
	for {
		n, err := port.Read(tmp)
		if n > 0 {
			data := append([]byte(nil), tmp[:n]...)
			if lost := c.buf.Write(data); lost > 0 {
				log.Warn().Int("channel", c.idx).Int("lost", lost).Msg("inbound buffer overflow")
			}
			if b.opts.OnData != nil {
				b.opts.OnData(c.idx, data)
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err == nil || errors.Is(err, io.EOF) {
			// Read timeouts surface as EOF on some platforms.
			continue
		}
		log.Error().Err(err).Int("channel", c.idx).Msg("serial read failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (b *Bridge) stopLocked() {
	for _, c := range b.chans {
		if c.cancel == nil {
			continue
		}
		c.cancel()
		c.wmu.Lock()
		if c.port != nil {
			_ = c.port.Close()
		}
		c.port = nil
		c.wmu.Unlock()
		<-c.done
		c.cancel = nil
	}
	b.running = false
}

// Close stops both channels.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

// Restart closes both UARTs, discards buffered input and reopens them with
// the given baud rates. This is what a device reboot looks like from the
// browser.
func (b *Bridge) Restart(bauds [Channels]int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	for _, c := range b.chans {
		c.buf.Reset()
	}
	for _, c := range b.chans {
		if err := b.openLocked(c, bauds[c.idx]); err != nil {
			b.stopLocked()
			return err
		}
	}
	b.running = true
	log.Info().Msg("serial bridge restarted")
	return nil
}

// Poll drains up to the configured chunk of buffered inbound bytes.
func (b *Bridge) Poll(ch int) ([]byte, error) {
	c, err := b.channel(ch)
	if err != nil {
		return nil, err
	}
	return c.buf.Drain(b.opts.PollChunk), nil
}

// Send writes data to the channel's UART.
func (b *Bridge) Send(ch int, data []byte) error {
	c, err := b.channel(ch)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.port == nil {
		return ErrNotRunning
	}
	if _, err := c.port.Write(data); err != nil {
		return fmt.Errorf("ttyS%d write: %w", ch, err)
	}
	return nil
}

// Baud returns the rate a channel was last opened with.
func (b *Bridge) Baud(ch int) int {
	c, err := b.channel(ch)
	if err != nil {
		return 0
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.baud
}

// Buffered returns the number of bytes waiting for a poll.
func (b *Bridge) Buffered(ch int) int {
	c, err := b.channel(ch)
	if err != nil {
		return 0
	}
	return c.buf.Len()
}

func (b *Bridge) channel(ch int) (*channel, error) {
	if ch < 0 || ch >= Channels {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	return b.chans[ch], nil
}
