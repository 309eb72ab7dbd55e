// Command wsctl talks to a WiFi serial bridge (real or simulated) over its
// HTTP surface: serial channels, OTA uploads and configuration.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CK6170/wifiserial-web/internal/client"
)

// Globals are shared by every command.
type Globals struct {
	URL      string        `short:"u" default:"http://127.0.0.1:8080" env:"WSCTL_URL" help:"Device base URL."`
	User     string        `default:"admin" env:"WSCTL_USER" help:"Web user for basic auth."`
	Password string        `env:"WSCTL_PASSWORD" help:"Web password (may be empty on a fresh device)."`
	Timeout  time.Duration `default:"0s" help:"Per-request timeout (0 means none)."`
	Verbose  bool          `short:"v" help:"Enable debug logging."`
}

func (g *Globals) client() *client.Client {
	return client.New(g.URL,
		client.WithHTTPClient(&http.Client{Timeout: g.Timeout}),
		client.WithBasicAuth(g.User, g.Password),
	)
}

type CLI struct {
	Globals

	Poll    PollCmd    `cmd:"" help:"Read buffered output from a serial channel."`
	Send    SendCmd    `cmd:"" help:"Send text or a control token to a serial channel."`
	Term    TermCmd    `cmd:"" help:"Raw-keyboard terminal on one channel (Ctrl-] exits)."`
	Console ConsoleCmd `cmd:"" help:"Full-screen console with both channels and OTA."`

	Upload  UploadCmd  `cmd:"" help:"Upload a firmware or filesystem image."`
	Status  StatusCmd  `cmd:"" help:"Show OTA transfer status."`
	History HistoryCmd `cmd:"" help:"List recorded OTA attempts."`
	Stats   StatsCmd   `cmd:"" help:"Summarize OTA attempts per kind."`

	Save  SaveCmd  `cmd:"" help:"Save configuration fields and restart the device."`
	Reset ResetCmd `cmd:"" help:"Restart the device."`
	Ports PortsCmd `cmd:"" help:"List serial ports on this host."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("wsctl"),
		kong.Description("Control a WiFi serial bridge."),
		kong.UsageOnError(),
	)

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if cli.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}
