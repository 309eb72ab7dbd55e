package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the console keybindings. Control keys that are not bound
// here are forwarded to the device as control tokens.
type KeyMap struct {
	NextTab  key.Binding
	PrevTab  key.Binding
	Send     key.Binding
	Echo     key.Binding
	Newline  key.Binding
	Password key.Binding
	Clear    key.Binding
	Kind     key.Binding
	Quit     key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		NextTab: key.NewBinding(
			key.WithKeys("f2", "ctrl+right"),
			key.WithHelp("f2", "next tab"),
		),
		PrevTab: key.NewBinding(
			key.WithKeys("f1", "ctrl+left"),
			key.WithHelp("f1", "prev tab"),
		),
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Echo: key.NewBinding(
			key.WithKeys("f5"),
			key.WithHelp("f5", "local echo"),
		),
		Newline: key.NewBinding(
			key.WithKeys("f6"),
			key.WithHelp("f6", "auto newline"),
		),
		Password: key.NewBinding(
			key.WithKeys("f7"),
			key.WithHelp("f7", "password"),
		),
		Clear: key.NewBinding(
			key.WithKeys("f8", "ctrl+l"),
			key.WithHelp("f8", "clear"),
		),
		Kind: key.NewBinding(
			key.WithKeys("f4"),
			key.WithHelp("f4", "firmware/filesystem"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+q", "f10"),
			key.WithHelp("ctrl+q", "quit"),
		),
	}
}

// ShortHelp returns keybindings to show in the help view.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PrevTab, k.NextTab, k.Echo, k.Newline, k.Password, k.Clear, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PrevTab, k.NextTab, k.Send, k.Clear},
		{k.Echo, k.Newline, k.Password, k.Kind, k.Quit},
	}
}

// tokenKeys maps console keys to the control token sent to the device.
// ctrl+a/ctrl+e and backspace only send a token when the input is empty.
var tokenKeys = map[string]string{
	"esc":       "esc",
	"tab":       "tab",
	"ctrl+c":    "ctrl-c",
	"ctrl+z":    "ctrl-z",
	"ctrl+d":    "ctrl-d",
	"ctrl+a":    "ctrl-a",
	"ctrl+e":    "ctrl-e",
	"backspace": "backspace",
	"ctrl+@":    "backtick",
}

var emptyInputOnly = map[string]bool{"ctrl+a": true, "ctrl+e": true, "backspace": true}
