package device

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SimOptions tunes the simulated UART used when no hardware is bound.
type SimOptions struct {
	// EchoDelay is how long after a write the simulated device answers
	// "Echo: <data>". Zero disables the echo.
	EchoDelay time.Duration
	// ChatterInterval paces unsolicited lines; zero disables them.
	ChatterInterval time.Duration
	// ChatterChance is the probability (0..1) that a paced tick emits a line.
	ChatterChance float64
}

// DefaultSimOptions mirrors the development mock: a 100 ms echo and no chatter.
func DefaultSimOptions() SimOptions {
	return SimOptions{EchoDelay: 100 * time.Millisecond, ChatterChance: 0.1}
}

var chatterLines = []string{
	"System initialized\n",
	"Temperature: 25.3C\n",
	"Sensor reading: 1024\n",
	"Network status: OK\n",
	"DEBUG: Processing command\n",
}

// SimPort is an in-memory Port that behaves like a device echoing its input.
type SimPort struct {
	ch   int
	opts SimOptions

	mu      sync.Mutex
	pending []byte

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	stop      context.CancelFunc
}

// NewSimPort starts a simulated device for channel ch.
func NewSimPort(ch int, opts SimOptions) *SimPort {
	ctx, cancel := context.WithCancel(context.Background())
	p := &SimPort{
		ch:     ch,
		opts:   opts,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
		stop:   cancel,
	}
	if opts.ChatterInterval > 0 && opts.ChatterChance > 0 {
		go p.chatter(ctx)
	}
	return p
}

func (p *SimPort) chatter(ctx context.Context) {
	lim := rate.NewLimiter(rate.Every(p.opts.ChatterInterval), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		if rand.Float64() < p.opts.ChatterChance {
			p.inject([]byte(chatterLines[rand.Intn(len(chatterLines))]))
		}
	}
}

// inject makes b readable as if the device had transmitted it.
func (p *SimPort) inject(b []byte) {
	select {
	case <-p.closed:
		return
	default:
	}
	p.mu.Lock()
	p.pending = append(p.pending, b...)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Read blocks until the simulated device has output or the port is closed.
func (p *SimPort) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if len(p.pending) > 0 {
			n := copy(b, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()
		select {
		case <-p.notify:
		case <-p.closed:
			return 0, io.EOF
		}
	}
}

// Write accepts b and schedules the echo.
func (p *SimPort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	if p.opts.EchoDelay > 0 && len(b) > 0 {
		echo := append([]byte("Echo: "), b...)
		time.AfterFunc(p.opts.EchoDelay, func() { p.inject(echo) })
	}
	return len(b), nil
}

// Close stops the simulator; pending reads return io.EOF.
func (p *SimPort) Close() error {
	p.closeOnce.Do(func() {
		p.stop()
		close(p.closed)
	})
	return nil
}
