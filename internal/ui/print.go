// Package ui holds the CLI's terminal output helpers and raw key input.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	greenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	echoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// Out is where the helpers print; tests swap it.
var Out io.Writer = os.Stdout

// RedWriter colors everything written through it red.
type RedWriter struct{ w io.Writer }

func (r RedWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(r.w, errStyle.Render(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func NewRedWriter(w io.Writer) RedWriter { return RedWriter{w: w} }

// Debugf prints a debug line when enabled is true.
func Debugf(enabled bool, format string, a ...interface{}) {
	if enabled {
		fmt.Fprint(Out, debugStyle.Render(fmt.Sprintf("[DEBUG] "+format, a...)))
	}
}

func Greenf(format string, a ...interface{}) {
	fmt.Fprint(Out, greenStyle.Render(fmt.Sprintf(format, a...)))
}

func Warningf(format string, a ...interface{}) {
	fmt.Fprint(Out, warnStyle.Render(fmt.Sprintf(format, a...)))
}

func Errorf(format string, a ...interface{}) {
	fmt.Fprint(Out, errStyle.Render(fmt.Sprintf(format, a...)))
}

// Serial prints device output as is, highlighting locally echoed lines.
func Serial(text, echoPrefix string) {
	if echoPrefix == "" || !strings.Contains(text, echoPrefix) {
		fmt.Fprint(Out, text)
		return
	}
	lines := strings.SplitAfter(text, "\n")
	for _, l := range lines {
		if strings.HasPrefix(l, echoPrefix) {
			fmt.Fprint(Out, echoStyle.Render(strings.TrimSuffix(l, "\n"))+"\n")
			continue
		}
		fmt.Fprint(Out, l)
	}
}

// PrintProgressLine redraws an in-place upload progress line.
func PrintProgressLine(label string, fraction float64) {
	const width = 40
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * width)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
	fmt.Fprintf(Out, "\r%s [%s] %3.0f%%  ", label, bar, fraction*100)
}

func ClearScreen() {
	fmt.Fprint(Out, "\033[2J\033[1;1H")
}
