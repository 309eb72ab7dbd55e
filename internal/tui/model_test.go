package tui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/CK6170/wifiserial-web/internal/client"
	"github.com/CK6170/wifiserial-web/internal/ota"
)

type stubTransport struct {
	mu    sync.Mutex
	sends []string
	fail  error
}

func (s *stubTransport) Poll(ctx context.Context, ch int) (string, error) {
	return "", nil
}

func (s *stubTransport) Send(ctx context.Context, ch int, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sends = append(s.sends, data)
	return nil
}

func (s *stubTransport) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sends...)
}

func newTestModel(t *testing.T, tr *stubTransport) (Model, *client.Controller) {
	t.Helper()
	ctrl := client.NewController(tr, client.ControllerOptions{PollInterval: time.Millisecond})
	t.Cleanup(ctrl.Close)
	pipe := client.NewUploadPipeline(client.New("http://device.invalid"), client.PipelineOptions{})
	t.Cleanup(pipe.Close)
	m := NewModel(context.Background(), "test", ctrl, pipe)
	m.Init()
	return m, ctrl
}

func press(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func TestTabSwitchMovesPolling(t *testing.T) {
	m, ctrl := newTestModel(t, &stubTransport{})

	if !ctrl.Polling(0) || ctrl.Polling(1) {
		t.Fatalf("initial: polling(0)=%v polling(1)=%v", ctrl.Polling(0), ctrl.Polling(1))
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyF2})
	if ctrl.Polling(0) || !ctrl.Polling(1) {
		t.Fatalf("after next: polling(0)=%v polling(1)=%v", ctrl.Polling(0), ctrl.Polling(1))
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyF2})
	if m.tab != tabOTA {
		t.Fatalf("tab = %v, want OTA", m.tab)
	}
	if ctrl.Polling(0) || ctrl.Polling(1) {
		t.Fatal("OTA tab must not poll any channel")
	}

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyF1})
	if m.tab != tabSerial1 || !ctrl.Polling(1) {
		t.Fatalf("back to serial1: tab=%v polling=%v", m.tab, ctrl.Polling(1))
	}
}

func TestFlagToggles(t *testing.T) {
	m, ctrl := newTestModel(t, &stubTransport{})

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyF5})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyF6})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyF7})

	got := ctrl.Flags(0)
	want := client.Flags{LocalEcho: true, AutoNewline: true, PasswordDisplay: true}
	if got != want {
		t.Fatalf("flags = %+v, want %+v", got, want)
	}
	if ctrl.Flags(1) != (client.Flags{}) {
		t.Fatal("toggles leaked to the other channel")
	}

	_, _ = press(t, m, tea.KeyMsg{Type: tea.KeyF7})
	if ctrl.Flags(0).PasswordDisplay {
		t.Fatal("password flag did not toggle off")
	}
}

func TestSendClearsInputOnAck(t *testing.T) {
	tr := &stubTransport{}
	m, _ := newTestModel(t, tr)

	m = typeText(t, m, "AT")
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter produced no command")
	}
	if m.inputs[0].Value() != "AT" {
		t.Fatalf("input cleared before the response: %q", m.inputs[0].Value())
	}

	m, _ = press(t, m, cmd())
	if m.inputs[0].Value() != "" {
		t.Fatalf("input = %q after ack, want empty", m.inputs[0].Value())
	}
	if got := tr.sent(); len(got) != 1 || got[0] != "AT" {
		t.Fatalf("sent = %q", got)
	}
}

func TestSendFailureKeepsInput(t *testing.T) {
	tr := &stubTransport{fail: errors.New("offline")}
	m, _ := newTestModel(t, tr)

	m = typeText(t, m, "reboot")
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = press(t, m, cmd())

	if m.inputs[0].Value() != "reboot" {
		t.Fatalf("input = %q, want it kept", m.inputs[0].Value())
	}
	if !m.statusErr || m.status == "" {
		t.Fatalf("status = %q err=%v", m.status, m.statusErr)
	}
}

func TestEmptyEnterIsNoop(t *testing.T) {
	m, _ := newTestModel(t, &stubTransport{})
	if _, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatal("empty enter should not send")
	}
}

func TestTokenKeys(t *testing.T) {
	tr := &stubTransport{}
	m, _ := newTestModel(t, tr)

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c produced no command")
	}
	m, _ = press(t, m, cmd())

	// With text in the field backspace edits instead of sending ^H.
	m = typeText(t, m, "ab")
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	if m.inputs[0].Value() != "a" {
		t.Fatalf("input = %q, want %q", m.inputs[0].Value(), "a")
	}

	if got := tr.sent(); len(got) != 1 || got[0] != "\x03" {
		t.Fatalf("sent = %q, want only ctrl-c", got)
	}
}

func TestReloadResetsView(t *testing.T) {
	m, ctrl := newTestModel(t, &stubTransport{})
	_ = ctrl.SetFlags(0, client.Flags{LocalEcho: true})
	_ = ctrl.Send(context.Background(), 0, "hello")
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyF7})
	if m.inputs[0].EchoMode != textinput.EchoPassword {
		t.Fatal("password toggle did not mask the input")
	}

	m, _ = press(t, m, reloadMsg{})
	if m.inputs[0].EchoMode != textinput.EchoNormal {
		t.Error("input still masked after reload")
	}
	if ctrl.Flags(0) != (client.Flags{}) {
		t.Fatalf("flags = %+v after reload", ctrl.Flags(0))
	}
	if ctrl.Output(0) != "" {
		t.Fatalf("output = %q after reload", ctrl.Output(0))
	}
	if m.statusErr {
		t.Fatal("reload reported an error")
	}
}

func TestUploadDoneStatus(t *testing.T) {
	m, _ := newTestModel(t, &stubTransport{})

	tests := []struct {
		name    string
		msg     uploadDoneMsg
		wantErr bool
	}{
		{"firmware", uploadDoneMsg{out: client.Outcome{Kind: ota.Firmware, Message: ota.Firmware.SuccessMessage()}}, false},
		{"busy", uploadDoneMsg{err: client.ErrUploadBusy}, true},
		{"rejected", uploadDoneMsg{out: client.Outcome{Message: "Hash verification failed"}, err: client.ErrRejected}, true},
		{"failed", uploadDoneMsg{err: errors.New("connection reset")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := press(t, m, tt.msg)
			if got.statusErr != tt.wantErr {
				t.Fatalf("statusErr = %v, want %v (status %q)", got.statusErr, tt.wantErr, got.status)
			}
			if got.progress.IsActive() {
				t.Fatal("progress still active")
			}
		})
	}
}
