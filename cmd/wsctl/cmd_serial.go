package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CK6170/wifiserial-web/internal/client"
	"github.com/CK6170/wifiserial-web/internal/tui"
	"github.com/CK6170/wifiserial-web/internal/ui"
)

type PollCmd struct {
	Channel  int           `arg:"" help:"Channel (0 or 1)."`
	Follow   bool          `short:"f" help:"Keep polling until interrupted."`
	Interval time.Duration `default:"500ms" help:"Delay between polls with --follow."`
}

func (c *PollCmd) Run(ctx context.Context, g *Globals) error {
	cl := g.client()
	if !c.Follow {
		text, err := cl.Poll(ctx, c.Channel)
		if err != nil {
			return err
		}
		ui.Serial(text, client.EchoPrefix)
		return nil
	}

	ctrl := client.NewController(cl, client.ControllerOptions{
		PollInterval: c.Interval,
		OnOutput: func(_ int, text string) {
			ui.Serial(text, client.EchoPrefix)
		},
	})
	defer ctrl.Close()
	if err := ctrl.Activate(c.Channel); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

type SendCmd struct {
	Channel int    `arg:"" help:"Channel (0 or 1)."`
	Data    string `arg:"" optional:"" help:"Text to send."`
	Token   string `short:"t" help:"Send a control token instead (esc, tab, enter, ctrl-c, ...)."`
	Newline bool   `short:"n" help:"Append \\r\\n unless already present."`
}

func (c *SendCmd) Run(ctx context.Context, g *Globals) error {
	ctrl := client.NewController(g.client(), client.ControllerOptions{})
	defer ctrl.Close()

	if c.Token != "" {
		if err := ctrl.SendToken(ctx, c.Channel, c.Token); err != nil {
			return err
		}
		ui.Greenf("OK\n")
		return nil
	}
	if c.Data == "" {
		return fmt.Errorf("nothing to send: give data or --token")
	}
	if err := ctrl.SetFlags(c.Channel, client.Flags{AutoNewline: c.Newline}); err != nil {
		return err
	}
	if err := ctrl.Send(ctx, c.Channel, c.Data); err != nil {
		return err
	}
	ui.Greenf("OK\n")
	return nil
}

// TermCmd is a line terminal in raw key mode. Typed text is buffered
// locally and sent on Enter; control keys go out as tokens immediately.
type TermCmd struct {
	Channel  int  `arg:"" help:"Channel (0 or 1)."`
	Echo     bool `default:"true" negatable:"" help:"Show sent lines locally."`
	Password bool `help:"Mask echoed lines."`
}

func (c *TermCmd) Run(ctx context.Context, g *Globals) error {
	ctrl := client.NewController(g.client(), client.ControllerOptions{
		OnOutput: func(_ int, text string) {
			ui.Serial(text, client.EchoPrefix)
		},
	})
	defer ctrl.Close()

	flags := client.Flags{LocalEcho: c.Echo, AutoNewline: true, PasswordDisplay: c.Password}
	if err := ctrl.SetFlags(c.Channel, flags); err != nil {
		return err
	}

	keys, err := ui.StartKeyEvents()
	if err != nil {
		return fmt.Errorf("keyboard: %w", err)
	}
	defer ui.StopKeyEvents()

	if err := ctrl.Activate(c.Channel); err != nil {
		return err
	}
	ui.Warningf("Connected to %s ttyS%d. Press Ctrl-] to exit.\n", g.URL, c.Channel)

	var line strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-keys:
			if !ok || ev.Key == ui.ExitKey {
				fmt.Println()
				return nil
			}
			c.handleKey(ctx, ctrl, &line, ev)
		}
	}
}

func (c *TermCmd) handleKey(ctx context.Context, ctrl *client.Controller, line *strings.Builder, ev ui.KeyEvent) {
	if text, ok := ui.TextForKey(ev); ok {
		line.WriteString(text)
		return
	}
	name, ok := ui.TokenForKey(ev)
	if !ok {
		return
	}
	switch {
	case name == "enter" && line.Len() > 0:
		text := line.String()
		line.Reset()
		if err := ctrl.Send(ctx, c.Channel, text); err != nil {
			ui.Errorf("%v\n", err)
		}
		return
	case name == "backspace" && line.Len() > 0:
		r := []rune(line.String())
		line.Reset()
		line.WriteString(string(r[:len(r)-1]))
		return
	}
	if err := ctrl.SendToken(ctx, c.Channel, name); err != nil {
		ui.Errorf("%v\n", err)
	}
}

type ConsoleCmd struct{}

func (c *ConsoleCmd) Run(ctx context.Context, g *Globals) error {
	return tui.Run(ctx, g.client())
}
