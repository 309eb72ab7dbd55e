package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/CK6170/wifiserial-web/internal/device"
	"github.com/CK6170/wifiserial-web/internal/ui"
)

// SaveCmd posts form fields to /save. Omitted secrets keep their stored
// values on the device.
type SaveCmd struct {
	Set map[string]string `short:"s" help:"Form field, e.g. -s ssid=home -s speed0=57600."`
	Yes bool              `short:"y" help:"Do not ask for confirmation."`
}

func (c *SaveCmd) Run(ctx context.Context, g *Globals) error {
	if len(c.Set) == 0 {
		return fmt.Errorf("nothing to save: use --set key=value")
	}
	if !c.Yes && !ui.Confirm("Save configuration and restart the device?") {
		ui.Warningf("Aborted\n")
		return nil
	}
	form := url.Values{}
	for k, v := range c.Set {
		form.Set(k, v)
	}
	msg, err := g.client().Save(ctx, form)
	if err != nil {
		return err
	}
	ui.Greenf("%s\n", msg)
	return nil
}

type ResetCmd struct {
	Yes bool `short:"y" help:"Do not ask for confirmation."`
}

func (c *ResetCmd) Run(ctx context.Context, g *Globals) error {
	if !c.Yes && !ui.Confirm("Restart the device?") {
		ui.Warningf("Aborted\n")
		return nil
	}
	msg, err := g.client().Reset(ctx)
	if err != nil {
		return err
	}
	ui.Greenf("%s\n", msg)
	return nil
}

type PortsCmd struct{}

func (c *PortsCmd) Run() error {
	ports := device.ListPorts()
	if len(ports) == 0 {
		ui.Warningf("No serial ports found\n")
		return nil
	}
	for _, p := range ports {
		if p.USB {
			fmt.Printf("%-20s USB %s:%s %s %s\n", p.Name, p.VID, p.PID, p.Serial, p.Product)
			continue
		}
		fmt.Println(p.Name)
	}
	return nil
}
