package client

import "strings"

// Token is a named control sequence the panel can inject into a channel.
type Token struct {
	Name    string
	Data    string
	Display string
}

// Tokens is the complete set of control tokens, in button order.
var Tokens = []Token{
	{Name: "esc", Data: "\x1b", Display: `\e`},
	{Name: "backtick", Data: "`", Display: "`"},
	{Name: "tab", Data: "\t", Display: `\t`},
	{Name: "enter", Data: "\r\n", Display: `\r\n`},
	{Name: "ctrl-c", Data: "\x03", Display: "^C"},
	{Name: "ctrl-z", Data: "\x1a", Display: "^Z"},
	{Name: "ctrl-d", Data: "\x04", Display: "^D"},
	{Name: "ctrl-a", Data: "\x01", Display: "^A"},
	{Name: "ctrl-e", Data: "\x05", Display: "^E"},
	{Name: "backspace", Data: "\x08", Display: "^H"},
}

// LookupToken finds a token by name, ignoring case and accepting "+" or "_"
// in place of "-" (so "CTRL+C" works).
func LookupToken(name string) (Token, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("+", "-", "_", "-").Replace(n)
	if n == "ctrl-backtick" {
		n = "backtick"
	}
	for _, t := range Tokens {
		if t.Name == n {
			return t, true
		}
	}
	return Token{}, false
}
