// Package tui is the interactive console of wsctl: live serial tabs and an
// OTA upload tab, driven by the client Controller and UploadPipeline.
package tui

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/CK6170/wifiserial-web/internal/client"
	"github.com/CK6170/wifiserial-web/internal/ota"
)

// Run starts the console against c and blocks until the user quits.
func Run(ctx context.Context, c *client.Client) error {
	var p *tea.Program

	ctrl := client.NewController(c, client.ControllerOptions{
		OnOutput: func(ch int, _ string) {
			if p != nil {
				p.Send(outputMsg{ch: ch})
			}
		},
	})
	defer ctrl.Close()

	pipe := client.NewUploadPipeline(c, client.PipelineOptions{
		OnState: func(ev client.UploadEvent) {
			if p != nil {
				p.Send(uploadStateMsg(ev))
			}
		},
		OnProgress: func(kind ota.Kind, f float64) {
			if p != nil {
				p.Send(uploadProgressMsg{kind: kind, fraction: f})
			}
		},
		OnReload: func() {
			if p != nil {
				p.Send(reloadMsg{})
			}
		},
	})
	defer pipe.Close()

	p = tea.NewProgram(NewModel(ctx, c.BaseURL(), ctrl, pipe), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running console: %v\n", err)
		return err
	}
	return nil
}
