package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CK6170/wifiserial-web/internal/client"
	"github.com/CK6170/wifiserial-web/internal/ota"
	"github.com/CK6170/wifiserial-web/internal/ui"
)

type UploadCmd struct {
	Kind string `arg:"" enum:"firmware,filesystem" help:"Image kind: firmware or filesystem."`
	File string `arg:"" type:"existingfile" help:"Image file."`
	Wait bool   `help:"After a firmware commit, wait for the device to come back."`
}

func (c *UploadCmd) Run(ctx context.Context, g *Globals) error {
	kind, err := ota.ParseKind(c.Kind)
	if err != nil {
		return err
	}
	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	label := filepath.Base(c.File)
	pipe := client.NewUploadPipeline(g.client(), client.PipelineOptions{
		ReloadDelay: time.Millisecond,
		ClearDelay:  time.Millisecond,
		OnState: func(ev client.UploadEvent) {
			switch ev.State {
			case client.StateHashing:
				ui.Debugf(g.Verbose, "hashing %s\n", label)
			case client.StateVerifying:
				fmt.Println()
				ui.Debugf(g.Verbose, "verifying on device\n")
			}
		},
		OnProgress: func(_ ota.Kind, frac float64) {
			ui.PrintProgressLine(label, frac)
		},
	})
	defer pipe.Close()

	out, err := pipe.Run(ctx, kind, label, f, -1)
	switch {
	case err == nil:
	case errors.Is(err, client.ErrUploadBusy):
		return fmt.Errorf("another upload is in progress")
	case client.IsRejected(err):
		return fmt.Errorf("rejected: %s", out.Message)
	default:
		return err
	}
	ui.Greenf("%s\n", out.Message)
	if out.Digest != "" {
		ui.Debugf(g.Verbose, "sha256 %s\n", out.Digest)
	}

	if kind == ota.Firmware && c.Wait {
		ui.Warningf("Waiting for the device to restart...\n")
		// Give the reboot a moment so the first status request does not hit the old process.
		time.Sleep(2 * time.Second)
		wctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := g.client().WaitOnline(wctx, time.Second); err != nil {
			return fmt.Errorf("device did not come back: %w", err)
		}
		ui.Greenf("Device is back online\n")
	}
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, g *Globals) error {
	st, err := g.client().Status(ctx)
	if err != nil {
		return err
	}
	if !st.InProgress {
		fmt.Println("idle")
		return nil
	}
	fmt.Printf("uploading: %d / %d bytes\n", st.ReceivedSize, st.ExpectedSize)
	return nil
}

type HistoryCmd struct {
	Limit int `short:"n" default:"20" help:"Number of entries."`
}

func (c *HistoryCmd) Run(ctx context.Context, g *Globals) error {
	rs, err := g.client().History(ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(rs) == 0 {
		fmt.Println("no updates recorded")
		return nil
	}
	for _, r := range rs {
		line := fmt.Sprintf("%s  %-10s %-9s %8d  %s", r.Finished.Format(time.DateTime), r.Kind, r.Verdict, r.Size, r.Filename)
		if r.Reason != "" {
			line += "  (" + r.Reason + ")"
		}
		if r.Verdict == ota.Committed {
			ui.Greenf("%s\n", line)
		} else {
			ui.Warningf("%s\n", line)
		}
	}
	return nil
}

type StatsCmd struct{}

func (c *StatsCmd) Run(ctx context.Context, g *Globals) error {
	stats, err := g.client().Stats(ctx)
	if err != nil {
		return err
	}
	for _, s := range stats {
		fmt.Printf("%-10s attempts=%d committed=%d rejected=%d failed=%d\n",
			s.Kind, s.Attempts, s.Committed, s.Rejected, s.Failed)
		fmt.Printf("           duration %.0f ms (sd %.0f)  throughput %.0f B/s  size %.0f B\n",
			s.MeanDurationMS, s.StdDevDurationMS, s.MeanThroughputBps, s.MeanSize)
	}
	return nil
}
