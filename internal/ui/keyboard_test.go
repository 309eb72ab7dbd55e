package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/eiannone/keyboard"
)

func TestTokenForKey(t *testing.T) {
	tests := []struct {
		ev   KeyEvent
		want string
		ok   bool
	}{
		{KeyEvent{Key: keyboard.KeyCtrlC}, "ctrl-c", true},
		{KeyEvent{Key: keyboard.KeyEsc}, "esc", true},
		{KeyEvent{Key: keyboard.KeyEnter}, "enter", true},
		{KeyEvent{Key: keyboard.KeyBackspace2}, "backspace", true},
		{KeyEvent{Key: keyboard.KeyArrowUp}, "", false},
		{KeyEvent{Rune: 'a'}, "", false},
	}
	for _, tc := range tests {
		got, ok := TokenForKey(tc.ev)
		if got != tc.want || ok != tc.ok {
			t.Errorf("TokenForKey(%+v) = %q, %v, want %q, %v", tc.ev, got, ok, tc.want, tc.ok)
		}
	}
}

func TestTextForKey(t *testing.T) {
	if s, ok := TextForKey(KeyEvent{Rune: '`'}); !ok || s != "`" {
		t.Errorf("backtick = %q, %v", s, ok)
	}
	if s, ok := TextForKey(KeyEvent{Key: keyboard.KeySpace}); !ok || s != " " {
		t.Errorf("space = %q, %v", s, ok)
	}
	if _, ok := TextForKey(KeyEvent{Key: keyboard.KeyCtrlC}); ok {
		t.Error("ctrl-c produced text")
	}
}

func TestSerialKeepsDeviceText(t *testing.T) {
	var buf bytes.Buffer
	old := Out
	Out = &buf
	defer func() { Out = old }()

	Serial("Echo: hi\r\n$web$hi\nok\n", "$web$")
	got := buf.String()
	for _, want := range []string{"Echo: hi\r\n", "$web$hi", "ok\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}
