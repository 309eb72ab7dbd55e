package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CK6170/wifiserial-web/internal/client"
	"github.com/CK6170/wifiserial-web/internal/ota"
)

type tab int

const (
	tabSerial0 tab = iota
	tabSerial1
	tabOTA
	tabCount
)

func (t tab) String() string {
	switch t {
	case tabSerial0:
		return "Serial 0 (ttyS0)"
	case tabSerial1:
		return "Serial 1 (ttyS1)"
	}
	return "OTA Update"
}

// Messages

// outputMsg says a channel's display grew.
type outputMsg struct{ ch int }

type sendDoneMsg struct {
	ch   int
	text string
	err  error
}

type tokenDoneMsg struct {
	ch   int
	name string
	err  error
}

type uploadProgressMsg struct {
	kind     ota.Kind
	fraction float64
}

type uploadStateMsg client.UploadEvent

type uploadDoneMsg struct {
	out client.Outcome
	err error
}

// reloadMsg arrives once the reboot delay after a firmware commit is over.
type reloadMsg struct{}

// Model is the console: one tab per serial channel plus an OTA tab. Only
// the visible serial tab polls.
type Model struct {
	ctx  context.Context
	ctrl *client.Controller
	pipe *client.UploadPipeline

	keys   KeyMap
	styles Styles
	help   help.Model

	tab           tab
	width, height int

	views  [2]viewport.Model
	inputs [2]textinput.Model

	path     textinput.Model
	kind     ota.Kind
	progress ProgressState

	status    string
	statusErr bool
	device    string
}

// NewModel builds the console around an existing controller and pipeline.
func NewModel(ctx context.Context, device string, ctrl *client.Controller, pipe *client.UploadPipeline) Model {
	m := Model{
		ctx:      ctx,
		ctrl:     ctrl,
		pipe:     pipe,
		keys:     DefaultKeyMap(),
		styles:   DefaultStyles(),
		help:     help.New(),
		kind:     ota.Firmware,
		progress: NewProgressState(),
		device:   device,
	}
	for i := range m.inputs {
		ti := textinput.New()
		ti.Placeholder = "command"
		ti.Prompt = "> "
		ti.CharLimit = 512
		m.inputs[i] = ti
		m.views[i] = viewport.New(80, 20)
	}
	m.path = textinput.New()
	m.path.Placeholder = "path to firmware.bin or littlefs image"
	m.path.Prompt = "file: "
	m.inputs[0].Focus()
	return m
}

func (m Model) Init() tea.Cmd {
	m.showTab()
	return textinput.Blink
}

// showTab makes the controller's visible channel follow the active tab.
func (m *Model) showTab() {
	ch := -1
	if m.tab != tabOTA {
		ch = int(m.tab)
	}
	_ = m.ctrl.Show(ch)

	for i := range m.inputs {
		m.inputs[i].Blur()
	}
	m.path.Blur()
	if ch >= 0 {
		m.inputs[ch].Focus()
		m.refresh(ch)
	} else {
		m.path.Focus()
	}
}

func (m *Model) refresh(ch int) {
	m.views[ch].SetContent(m.ctrl.Output(ch))
	m.views[ch].GotoBottom()
}

func (m *Model) setStatus(msg string, isErr bool) {
	m.status, m.statusErr = msg, isErr
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		h := msg.Height - 12
		if h < 5 {
			h = 5
		}
		for i := range m.views {
			m.views[i].Width = msg.Width - 2
			m.views[i].Height = h
			m.inputs[i].Width = msg.Width - 4
		}
		m.help.Width = msg.Width
		return m, nil

	case outputMsg:
		m.refresh(msg.ch)
		return m, nil

	case sendDoneMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("send failed: %v", msg.err), true)
			return m, nil
		}
		// The field clears only once the device acknowledged, and only if
		// the user has not started typing something else.
		if m.inputs[msg.ch].Value() == msg.text {
			m.inputs[msg.ch].Reset()
		}
		m.refresh(msg.ch)
		return m, nil

	case tokenDoneMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("send %s failed: %v", msg.name, msg.err), true)
		}
		m.refresh(msg.ch)
		return m, nil

	case uploadProgressMsg:
		m.progress.Update(msg.fraction, "")
		return m, nil

	case uploadStateMsg:
		return m.handleUploadState(client.UploadEvent(msg))

	case uploadDoneMsg:
		return m.handleUploadDone(msg)

	case reloadMsg:
		// A reload starts from scratch: flags off, displays empty.
		for ch := 0; ch < 2; ch++ {
			_ = m.ctrl.SetFlags(ch, client.Flags{})
			m.inputs[ch].EchoMode = textinput.EchoNormal
			m.ctrl.Clear(ch)
			m.refresh(ch)
		}
		m.progress.Cancel()
		m.setStatus("Device restarted, view reloaded", false)
		m.showTab()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.NextTab):
		m.tab = (m.tab + 1) % tabCount
		m.showTab()
		return m, nil
	case key.Matches(msg, m.keys.PrevTab):
		m.tab = (m.tab + tabCount - 1) % tabCount
		m.showTab()
		return m, nil
	}
	if m.tab == tabOTA {
		return m.handleOTAKey(msg)
	}
	return m.handleSerialKey(int(m.tab), msg)
}

func (m Model) handleSerialKey(ch int, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	f := m.ctrl.Flags(ch)
	switch {
	case key.Matches(msg, m.keys.Echo):
		f.LocalEcho = !f.LocalEcho
		_ = m.ctrl.SetFlags(ch, f)
		return m, nil
	case key.Matches(msg, m.keys.Newline):
		f.AutoNewline = !f.AutoNewline
		_ = m.ctrl.SetFlags(ch, f)
		return m, nil
	case key.Matches(msg, m.keys.Password):
		f.PasswordDisplay = !f.PasswordDisplay
		_ = m.ctrl.SetFlags(ch, f)
		if f.PasswordDisplay {
			m.inputs[ch].EchoMode = textinput.EchoPassword
		} else {
			m.inputs[ch].EchoMode = textinput.EchoNormal
		}
		return m, nil
	case key.Matches(msg, m.keys.Clear):
		m.ctrl.Clear(ch)
		m.refresh(ch)
		return m, nil
	case key.Matches(msg, m.keys.Send):
		text := m.inputs[ch].Value()
		if text == "" {
			return m, nil
		}
		return m, sendCmd(m.ctx, m.ctrl, ch, text)
	}

	s := msg.String()
	if name, ok := tokenKeys[s]; ok && (!emptyInputOnly[s] || m.inputs[ch].Value() == "") {
		return m, tokenCmd(m.ctx, m.ctrl, ch, name)
	}

	switch s {
	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.views[ch], cmd = m.views[ch].Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.inputs[ch], cmd = m.inputs[ch].Update(msg)
	return m, cmd
}

func (m Model) handleOTAKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Kind):
		if m.kind == ota.Firmware {
			m.kind = ota.Filesystem
		} else {
			m.kind = ota.Firmware
		}
		return m, nil
	case key.Matches(msg, m.keys.Send):
		path := strings.TrimSpace(m.path.Value())
		if path == "" {
			m.setStatus("Please select a file", true)
			return m, nil
		}
		if st, _ := m.pipe.State(); st != client.StateIdle {
			m.setStatus("Another upload is in progress", true)
			return m, nil
		}
		m.progress.Start(fmt.Sprintf("Uploading %s (%s)", filepath.Base(path), m.kind))
		m.setStatus("", false)
		return m, uploadCmd(m.ctx, m.pipe, m.kind, path)
	}
	var cmd tea.Cmd
	m.path, cmd = m.path.Update(msg)
	return m, cmd
}

func (m Model) handleUploadState(ev client.UploadEvent) (tea.Model, tea.Cmd) {
	switch ev.State {
	case client.StateHashing:
		m.setStatus("Calculating SHA-256...", false)
	case client.StateUploading:
		m.setStatus("Uploading...", false)
	case client.StateVerifying:
		m.setStatus("Verifying on device...", false)
	case client.StateIdle:
		// Filesystem success messages clear themselves.
		if ev.Kind == ota.Filesystem && !m.statusErr {
			m.setStatus("", false)
			m.progress.Cancel()
		}
	}
	return m, nil
}

func (m Model) handleUploadDone(msg uploadDoneMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.err == nil && msg.out.Kind == ota.Firmware:
		m.progress.Complete()
		m.setStatus(msg.out.Message+" - device will restart", false)
	case msg.err == nil:
		m.progress.Complete()
		m.setStatus(msg.out.Message, false)
	case errors.Is(msg.err, client.ErrUploadBusy):
		m.progress.Cancel()
		m.setStatus("Another upload is in progress", true)
	case client.IsRejected(msg.err):
		m.progress.Cancel()
		m.setStatus("Rejected: "+msg.out.Message, true)
	default:
		m.progress.Cancel()
		m.setStatus("Upload failed: "+msg.err.Error(), true)
	}
	return m, nil
}

// Commands

func sendCmd(ctx context.Context, ctrl *client.Controller, ch int, text string) tea.Cmd {
	return func() tea.Msg {
		return sendDoneMsg{ch: ch, text: text, err: ctrl.Send(ctx, ch, text)}
	}
}

func tokenCmd(ctx context.Context, ctrl *client.Controller, ch int, name string) tea.Cmd {
	return func() tea.Msg {
		return tokenDoneMsg{ch: ch, name: name, err: ctrl.SendToken(ctx, ch, name)}
	}
}

func uploadCmd(ctx context.Context, pipe *client.UploadPipeline, kind ota.Kind, path string) tea.Cmd {
	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return uploadDoneMsg{out: client.Outcome{Kind: kind, State: client.StateFailed}, err: err}
		}
		defer f.Close()
		out, err := pipe.Run(ctx, kind, filepath.Base(path), f, -1)
		return uploadDoneMsg{out: out, err: err}
	}
}

// View

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	if m.tab == tabOTA {
		b.WriteString(m.viewOTA())
	} else {
		b.WriteString(m.viewSerial(int(m.tab)))
	}
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderTabs() string {
	var tabs []string
	for t := tab(0); t < tabCount; t++ {
		if t == m.tab {
			tabs = append(tabs, m.styles.ActiveTab.Render(t.String()))
		} else {
			tabs = append(tabs, m.styles.Tab.Render(t.String()))
		}
	}
	row := lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...)
	return row + m.styles.TabGap.Render("  "+m.device)
}

func (m Model) flag(name string, on bool) string {
	if on {
		return m.styles.FlagOn.Render("[x] " + name)
	}
	return m.styles.FlagOff.Render("[ ] " + name)
}

func (m Model) viewSerial(ch int) string {
	f := m.ctrl.Flags(ch)
	flags := strings.Join([]string{
		m.flag("local echo", f.LocalEcho),
		m.flag("auto newline", f.AutoNewline),
		m.flag("password", f.PasswordDisplay),
	}, "  ")
	return flags + "\n" +
		m.styles.Output.Render(m.views[ch].View()) + "\n" +
		m.styles.Input.Render(m.inputs[ch].View())
}

func (m Model) viewOTA() string {
	var b strings.Builder
	b.WriteString(m.flag("firmware (.bin)", m.kind == ota.Firmware))
	b.WriteString("  ")
	b.WriteString(m.flag("filesystem", m.kind == ota.Filesystem))
	b.WriteString("\n\n")
	b.WriteString(m.path.View())
	b.WriteString("\n\n")
	if v := m.progress.View(); v != "" {
		b.WriteString(v)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderStatus() string {
	if m.status == "" {
		return ""
	}
	if m.statusErr {
		return m.styles.StatusBar.Render(m.styles.Error.Render(m.status))
	}
	return m.styles.StatusBar.Render(m.status)
}
