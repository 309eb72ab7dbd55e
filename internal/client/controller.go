package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultRetryInterval = 1000 * time.Millisecond

	// EchoPrefix marks locally echoed lines so they read differently from
	// what the device sent back.
	EchoPrefix = "$web$"
	// LineEnding is appended by auto-newline.
	LineEnding = "\r\n"

	maxOutput = 256 << 10
	channels  = 2
)

// Transport is what the Controller needs from a device connection.
// *Client satisfies it.
type Transport interface {
	Poll(ctx context.Context, ch int) (string, error)
	Send(ctx context.Context, ch int, data string) error
}

// Flags are the per-channel display toggles. They start false and are never
// persisted.
type Flags struct {
	LocalEcho       bool
	AutoNewline     bool
	PasswordDisplay bool
}

// channelState is the per-channel record shared by the poll loop and Send.
type channelState struct {
	visible bool
	polling bool
	flags   Flags
	output  strings.Builder

	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// ControllerOptions tunes a Controller.
type ControllerOptions struct {
	PollInterval  time.Duration
	RetryInterval time.Duration
	// OnOutput is called (outside the lock) with text appended to a
	// channel's display, whether polled or locally echoed.
	OnOutput func(ch int, text string)
}

// Controller owns both channels for one control session: which one is
// visible, its poll loop, its flags and its displayed output.
type Controller struct {
	t    Transport
	opts ControllerOptions

	mu    sync.Mutex
	chans [channels]*channelState
	wg    sync.WaitGroup
}

func NewController(t Transport, opts ControllerOptions) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	c := &Controller{t: t, opts: opts}
	for i := range c.chans {
		c.chans[i] = &channelState{}
	}
	return c
}

func (c *Controller) state(ch int) (*channelState, error) {
	if ch < 0 || ch >= channels {
		return nil, fmt.Errorf("channel %d: %w", ch, ErrInvalidChannel)
	}
	return c.chans[ch], nil
}

// Activate marks ch visible and starts its poll loop unless one is already
// live. A loop being torn down by an earlier Deactivate is waited for before
// the new one issues its first request, so requests never overlap.
func (c *Controller) Activate(ch int) error {
	st, err := c.state(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st.visible = true
	if st.polling {
		return nil
	}
	st.polling = true
	st.gen++
	ctx, cancel := context.WithCancel(context.Background())
	prev := st.done
	done := make(chan struct{})
	st.cancel, st.done = cancel, done

	c.wg.Add(1)
	go c.poll(ctx, ch, st.gen, prev, done)
	return nil
}

// Deactivate hides ch. No new poll is issued; one already in flight
// completes and its result is dropped.
func (c *Controller) Deactivate(ch int) error {
	st, err := c.state(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(st)
	return nil
}

func (c *Controller) stopLocked(st *channelState) {
	st.visible = false
	if !st.polling {
		return
	}
	st.polling = false
	st.gen++
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
}

// Show makes ch the only visible channel, as switching tabs does. A
// negative ch hides both (e.g. a settings tab).
func (c *Controller) Show(ch int) error {
	for i := 0; i < channels; i++ {
		if i == ch {
			continue
		}
		if err := c.Deactivate(i); err != nil {
			return err
		}
	}
	if ch < 0 {
		return nil
	}
	return c.Activate(ch)
}

// Polling reports whether ch has a live poll loop.
func (c *Controller) Polling(ch int) bool {
	st, err := c.state(ch)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.polling
}

func (c *Controller) poll(ctx context.Context, ch int, gen uint64, prev <-chan struct{}, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)
	// prev was cancelled before this loop was started; wait for it even if
	// this loop is cancelled too, so done never closes ahead of prev.
	if prev != nil {
		<-prev
	}
	if ctx.Err() != nil {
		return
	}
	st := c.chans[ch]
	for {
		text, err := c.t.Poll(ctx, ch)

		c.mu.Lock()
		if st.gen != gen || !st.visible || ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		if err == nil && text != "" {
			c.appendLocked(st, text)
		}
		c.mu.Unlock()

		delay := c.opts.PollInterval
		if err != nil {
			delay = c.opts.RetryInterval
			log.Debug().Err(err).Int("channel", ch).Dur("retry", delay).Msg("poll failed")
		} else if text != "" && c.opts.OnOutput != nil {
			c.opts.OnOutput(ch, text)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Controller) appendLocked(st *channelState, text string) {
	st.output.WriteString(text)
	if st.output.Len() > maxOutput {
		keep := st.output.String()[st.output.Len()-maxOutput/2:]
		st.output.Reset()
		st.output.WriteString(keep)
	}
}

func (c *Controller) appendOutput(ch int, text string) {
	st := c.chans[ch]
	c.mu.Lock()
	c.appendLocked(st, text)
	c.mu.Unlock()
	if c.opts.OnOutput != nil {
		c.opts.OnOutput(ch, text)
	}
}

// Output returns everything displayed on ch so far.
func (c *Controller) Output(ch int) string {
	st, err := c.state(ch)
	if err != nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.output.String()
}

// Clear empties ch's display. The device buffer is not touched.
func (c *Controller) Clear(ch int) {
	if st, err := c.state(ch); err == nil {
		c.mu.Lock()
		st.output.Reset()
		c.mu.Unlock()
	}
}

// Flags returns ch's toggles.
func (c *Controller) Flags(ch int) Flags {
	st, err := c.state(ch)
	if err != nil {
		return Flags{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.flags
}

// SetFlags replaces ch's toggles.
func (c *Controller) SetFlags(ch int, f Flags) error {
	st, err := c.state(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	st.flags = f
	c.mu.Unlock()
	return nil
}

// Send transmits free-form text on ch. Empty text is ignored. With
// auto-newline the line ending is appended unless already present; with
// local echo the outbound payload is shown before the request is made. In
// password mode the typed characters show as one '*' each and the appended
// line ending is not shown.
func (c *Controller) Send(ctx context.Context, ch int, text string) error {
	if text == "" {
		return nil
	}
	st, err := c.state(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	f := st.flags
	c.mu.Unlock()

	payload := text
	if f.AutoNewline && !strings.HasSuffix(payload, LineEnding) {
		payload += LineEnding
	}
	if f.LocalEcho {
		shown := payload
		if f.PasswordDisplay {
			shown = strings.Repeat("*", len([]rune(text)))
		}
		c.appendOutput(ch, EchoPrefix+shown+"\n")
	}
	if err := c.t.Send(ctx, ch, payload); err != nil {
		log.Error().Err(err).Int("channel", ch).Msg("send failed")
		return fmt.Errorf("send to channel %d: %w", ch, err)
	}
	return nil
}

// SendToken transmits a named control token on ch. Auto-newline does not
// apply; local echo shows the token's display form.
func (c *Controller) SendToken(ctx context.Context, ch int, name string) error {
	tok, ok := LookupToken(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownToken, name)
	}
	st, err := c.state(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	echo := st.flags.LocalEcho
	c.mu.Unlock()
	if echo {
		c.appendOutput(ch, EchoPrefix+tok.Display+"\n")
	}
	if err := c.t.Send(ctx, ch, tok.Data); err != nil {
		log.Error().Err(err).Int("channel", ch).Str("token", tok.Name).Msg("send token failed")
		return fmt.Errorf("send %s to channel %d: %w", tok.Name, ch, err)
	}
	return nil
}

// Close stops both poll loops and waits for them to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	for _, st := range c.chans {
		c.stopLocked(st)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
