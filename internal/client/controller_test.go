package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeTransport records traffic and tracks how many polls overlap.
type fakeTransport struct {
	pollDelay time.Duration
	pollText  func(ch int) string
	pollErr   error

	inFlight    [channels]atomic.Int32
	maxInFlight [channels]atomic.Int32
	polls       [channels]atomic.Int32

	mu    sync.Mutex
	sends []string
	fail  error
}

func (f *fakeTransport) Poll(ctx context.Context, ch int) (string, error) {
	n := f.inFlight[ch].Add(1)
	defer f.inFlight[ch].Add(-1)
	for {
		m := f.maxInFlight[ch].Load()
		if n <= m || f.maxInFlight[ch].CompareAndSwap(m, n) {
			break
		}
	}
	f.polls[ch].Add(1)
	select {
	case <-time.After(f.pollDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if f.pollErr != nil {
		return "", f.pollErr
	}
	if f.pollText != nil {
		return f.pollText(ch), nil
	}
	return "", nil
}

func (f *fakeTransport) Send(ctx context.Context, ch int, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sends = append(f.sends, data)
	return nil
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

func fastOpts() ControllerOptions {
	return ControllerOptions{PollInterval: time.Millisecond, RetryInterval: 2 * time.Millisecond}
}

func TestPollsNeverOverlap(t *testing.T) {
	ft := &fakeTransport{pollDelay: 3 * time.Millisecond}
	c := NewController(ft, fastOpts())
	defer c.Close()

	if err := c.Activate(0); err != nil {
		t.Fatal(err)
	}
	// A second activation from another call site must not start a loop.
	_ = c.Activate(0)
	time.Sleep(50 * time.Millisecond)

	if got := ft.maxInFlight[0].Load(); got != 1 {
		t.Errorf("max in-flight polls = %d, want 1", got)
	}
	if ft.polls[0].Load() < 2 {
		t.Errorf("polls = %d, want the loop to keep going", ft.polls[0].Load())
	}
}

func TestTabSwitchLeavesSingleLoop(t *testing.T) {
	ft := &fakeTransport{pollDelay: 2 * time.Millisecond}
	c := NewController(ft, fastOpts())
	defer c.Close()

	for i := 0; i < 20; i++ {
		_ = c.Show(0)
		_ = c.Show(1)
		_ = c.Show(0)
	}
	time.Sleep(40 * time.Millisecond)

	for ch := 0; ch < channels; ch++ {
		if got := ft.maxInFlight[ch].Load(); got > 1 {
			t.Errorf("channel %d: max in-flight polls = %d, want <= 1", ch, got)
		}
	}
	if !c.Polling(0) || c.Polling(1) {
		t.Errorf("Polling = %v/%v, want true/false", c.Polling(0), c.Polling(1))
	}

	// Channel 1 is hidden: its poll count must stop moving.
	before := ft.polls[1].Load()
	time.Sleep(20 * time.Millisecond)
	if after := ft.polls[1].Load(); after != before {
		t.Errorf("hidden channel polled %d more times", after-before)
	}
}

func TestHiddenChannelDropsInFlightResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	tr := &blockingTransport{release: release, started: started}
	c := NewController(tr, fastOpts())
	defer c.Close()

	_ = c.Activate(0)
	<-started
	_ = c.Deactivate(0)
	close(release)
	time.Sleep(10 * time.Millisecond)

	if out := c.Output(0); out != "" {
		t.Errorf("output = %q, want stale result dropped", out)
	}
}

// blockingTransport answers the first poll only when released and ignores
// cancellation, like a request already on the wire.
type blockingTransport struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingTransport) Poll(ctx context.Context, ch int) (string, error) {
	first := false
	b.once.Do(func() { first = true })
	if !first {
		<-ctx.Done()
		return "", ctx.Err()
	}
	b.started <- struct{}{}
	<-b.release
	return "late data", nil
}

func (b *blockingTransport) Send(context.Context, int, string) error { return nil }

func TestPollAppendsOutputAndRetries(t *testing.T) {
	var calls atomic.Int32
	ft := &fakeTransport{pollText: func(ch int) string {
		if calls.Add(1) == 1 {
			return "boot ok\n"
		}
		return ""
	}}
	var seen strings.Builder
	var mu sync.Mutex
	opts := fastOpts()
	opts.OnOutput = func(ch int, text string) {
		mu.Lock()
		seen.WriteString(text)
		mu.Unlock()
	}
	c := NewController(ft, opts)
	_ = c.Activate(1)
	time.Sleep(20 * time.Millisecond)
	c.Close()

	if got := c.Output(1); got != "boot ok\n" {
		t.Errorf("Output(1) = %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen.String() != "boot ok\n" {
		t.Errorf("OnOutput saw %q", seen.String())
	}

	failing := &fakeTransport{pollErr: errors.New("connection refused")}
	c2 := NewController(failing, ControllerOptions{PollInterval: time.Millisecond, RetryInterval: 10 * time.Millisecond})
	_ = c2.Activate(0)
	time.Sleep(35 * time.Millisecond)
	c2.Close()
	if n := failing.polls[0].Load(); n < 2 || n > 6 {
		t.Errorf("failing polls = %d, want retries at the slower cadence", n)
	}
}

func TestSendEmptyIsNoop(t *testing.T) {
	ft := &fakeTransport{}
	c := NewController(ft, fastOpts())
	_ = c.SetFlags(0, Flags{LocalEcho: true, AutoNewline: true})
	if err := c.Send(context.Background(), 0, ""); err != nil {
		t.Fatal(err)
	}
	if len(ft.sent()) != 0 || c.Output(0) != "" {
		t.Errorf("empty send issued %v, output %q", ft.sent(), c.Output(0))
	}
}

func TestSendFormatting(t *testing.T) {
	tests := []struct {
		name     string
		flags    Flags
		in       string
		wantSent string
		wantEcho string
	}{
		{"plain", Flags{}, "abc", "abc", ""},
		{"auto newline", Flags{AutoNewline: true}, "abc", "abc\r\n", ""},
		{"auto newline idempotent", Flags{AutoNewline: true}, "abc\r\n", "abc\r\n", ""},
		{"bare newline still gets crlf", Flags{AutoNewline: true}, "abc\n", "abc\n\r\n", ""},
		{"local echo", Flags{LocalEcho: true}, "ls", "ls", "$web$ls\n"},
		{"echo shows appended line ending", Flags{LocalEcho: true, AutoNewline: true}, "ls", "ls\r\n", "$web$ls\r\n\n"},
		{"password echo", Flags{LocalEcho: true, PasswordDisplay: true}, "hunter", "hunter", "$web$******\n"},
		{"password five chars", Flags{LocalEcho: true, PasswordDisplay: true, AutoNewline: true}, "s3cr!", "s3cr!\r\n", "$web$*****\n"},
		{"password without echo", Flags{PasswordDisplay: true}, "x", "x", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ft := &fakeTransport{}
			c := NewController(ft, fastOpts())
			_ = c.SetFlags(1, tc.flags)
			if err := c.Send(context.Background(), 1, tc.in); err != nil {
				t.Fatal(err)
			}
			if got := ft.sent(); len(got) != 1 || got[0] != tc.wantSent {
				t.Errorf("sent %q, want %q", got, tc.wantSent)
			}
			if got := c.Output(1); got != tc.wantEcho {
				t.Errorf("display %q, want %q", got, tc.wantEcho)
			}
		})
	}
}

func TestSendFailureKeepsGoing(t *testing.T) {
	ft := &fakeTransport{fail: errors.New("timeout")}
	c := NewController(ft, fastOpts())
	_ = c.SetFlags(0, Flags{LocalEcho: true})
	if err := c.Send(context.Background(), 0, "a"); err == nil {
		t.Fatal("want error")
	}
	// Echo happens before the request resolves.
	if c.Output(0) != "$web$a\n" {
		t.Errorf("output = %q", c.Output(0))
	}
	ft.mu.Lock()
	ft.fail = nil
	ft.mu.Unlock()
	if err := c.Send(context.Background(), 0, "b"); err != nil {
		t.Errorf("second send: %v", err)
	}
}

func TestSendToken(t *testing.T) {
	ft := &fakeTransport{}
	c := NewController(ft, fastOpts())
	_ = c.SetFlags(0, Flags{LocalEcho: true, AutoNewline: true, PasswordDisplay: true})
	for _, name := range []string{"ctrl-c", "ESC", "CTRL+Z", "enter"} {
		if err := c.SendToken(context.Background(), 0, name); err != nil {
			t.Fatalf("SendToken(%s): %v", name, err)
		}
	}
	want := []string{"\x03", "\x1b", "\x1a", "\r\n"}
	got := ft.sent()
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("sent %q, want %q", got, want)
		}
	}
	if out := c.Output(0); out != "$web$^C\n$web$\\e\n$web$^Z\n$web$\\r\\n\n" {
		t.Errorf("display = %q", out)
	}
	if err := c.SendToken(context.Background(), 0, "ctrl-q"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("unknown token err = %v", err)
	}
}

func TestTokenTable(t *testing.T) {
	if len(Tokens) != 10 {
		t.Fatalf("len(Tokens) = %d, want 10", len(Tokens))
	}
	seen := map[string]bool{}
	for _, tok := range Tokens {
		if seen[tok.Name] {
			t.Errorf("duplicate token %s", tok.Name)
		}
		seen[tok.Name] = true
		if got, ok := LookupToken(strings.ToUpper(tok.Name)); !ok || got != tok {
			t.Errorf("LookupToken(%s) = %v, %v", tok.Name, got, ok)
		}
	}
	if tok, ok := LookupToken("CTRL+BACKTICK"); !ok || tok.Data != "`" {
		t.Errorf("CTRL+BACKTICK = %v, %v", tok, ok)
	}
}

func TestInvalidChannel(t *testing.T) {
	c := NewController(&fakeTransport{}, fastOpts())
	if err := c.Activate(2); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("Activate(2) err = %v", err)
	}
	if err := c.Send(context.Background(), -1, "x"); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("Send(-1) err = %v", err)
	}
}
