package ui

import (
	"sync"

	"github.com/eiannone/keyboard"
)

// KeyEvent is one key press read in raw mode. Either Rune or Key is set.
type KeyEvent struct {
	Rune rune
	Key  keyboard.Key
}

// ExitKey leaves raw terminal mode (Ctrl-]).
const ExitKey = keyboard.KeyCtrlRsqBracket

// One reader goroutine for the whole process; the keyboard can only be
// opened once.
var (
	keyCh     chan KeyEvent
	startOnce sync.Once
	startErr  error
)

// StartKeyEvents opens the keyboard in raw mode and returns the shared event
// channel. The channel is closed when reading fails.
func StartKeyEvents() (<-chan KeyEvent, error) {
	startOnce.Do(func() {
		keyCh = make(chan KeyEvent, 64)
		if err := keyboard.Open(); err != nil {
			startErr = err
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				select {
				case keyCh <- KeyEvent{Rune: char, Key: key}:
				default:
				}
			}
		}()
	})
	return keyCh, startErr
}

// StopKeyEvents restores the terminal.
func StopKeyEvents() {
	_ = keyboard.Close()
}

// DrainKeys discards keys pressed before a prompt.
func DrainKeys() {
	ch, err := StartKeyEvents()
	if err != nil {
		return
	}
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// keyTokens maps raw keys to control token names.
var keyTokens = map[keyboard.Key]string{
	keyboard.KeyEsc:        "esc",
	keyboard.KeyTab:        "tab",
	keyboard.KeyEnter:      "enter",
	keyboard.KeyCtrlC:      "ctrl-c",
	keyboard.KeyCtrlZ:      "ctrl-z",
	keyboard.KeyCtrlD:      "ctrl-d",
	keyboard.KeyCtrlA:      "ctrl-a",
	keyboard.KeyCtrlE:      "ctrl-e",
	keyboard.KeyBackspace:  "backspace",
	keyboard.KeyBackspace2: "backspace",
}

// TokenForKey returns the control token a raw key stands for.
func TokenForKey(ev KeyEvent) (string, bool) {
	if ev.Rune != 0 {
		return "", false
	}
	name, ok := keyTokens[ev.Key]
	return name, ok
}

// TextForKey returns the literal text a key types, if any.
func TextForKey(ev KeyEvent) (string, bool) {
	if ev.Rune != 0 {
		return string(ev.Rune), true
	}
	if ev.Key == keyboard.KeySpace {
		return " ", true
	}
	return "", false
}

// Confirm prints message and waits for Y or N; ESC counts as no. Without a
// usable keyboard it returns false.
func Confirm(message string) bool {
	Greenf("%s [y/N]\n", message)
	DrainKeys()
	ch, err := StartKeyEvents()
	if err != nil {
		return false
	}
	for ev := range ch {
		switch {
		case ev.Rune == 'y' || ev.Rune == 'Y':
			return true
		case ev.Rune == 'n' || ev.Rune == 'N', ev.Key == keyboard.KeyEsc, ev.Key == keyboard.KeyEnter:
			return false
		}
	}
	return false
}
