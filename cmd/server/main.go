// Command `wifiserial-server` runs the simulated WiFi serial bridge locally.
//
// It exposes the same HTTP surface as the device: serial polling/sending for
// ttyS0 and ttyS1, OTA firmware/filesystem upload, configuration save/reset,
// plus WebSocket streams and Prometheus metrics. Pages are served from `-web`
// when that directory exists.
//
// Flags:
//
//	-addr:        TCP address to listen on (default 127.0.0.1:8080)
//	-web:         directory holding index.html and the other pages
//	-open:        open the UI URL in your default browser at startup
//	-config:      path of the JSON device record
//	-ota-dir:     where committed firmware/filesystem images are kept
//	-history:     OTA audit log: ":memory:" (default, lost on exit), a sqlite
//	              file path to keep it, or "" to disable it
//	-tty0/-tty1:  bind a channel to a hardware serial port instead of the simulator
//	-echo-delay:  simulator echo latency (0 disables the echo)
//	-chatter:     simulator unsolicited-line interval (0 disables)
//	-check-image: require a valid ESP32 app header on firmware uploads
//	-log-level:   zerolog level (trace, debug, info, warn, error)
//	-log-json:    log JSON lines instead of the console format
//
// Env:
//
//	WIFISERIAL_NO_OPEN=1 disables browser auto-open even when -open is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CK6170/wifiserial-web/internal/config"
	"github.com/CK6170/wifiserial-web/internal/device"
	"github.com/CK6170/wifiserial-web/internal/history"
	"github.com/CK6170/wifiserial-web/internal/server"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address")
		web        = flag.String("web", "./web", "path to web root (index.html)")
		open       = flag.Bool("open", false, "open the web UI in your default browser on startup")
		cfgPath    = flag.String("config", "./data/config.json", "device configuration record")
		otaDir     = flag.String("ota-dir", "./data/ota", "directory for committed images")
		histPath   = flag.String("history", history.InMemory, "OTA history database file (empty disables)")
		tty0       = flag.String("tty0", "", "hardware port for ttyS0 (empty uses the simulator)")
		tty1       = flag.String("tty1", "", "hardware port for ttyS1 (empty uses the simulator)")
		echoDelay  = flag.Duration("echo-delay", 100*time.Millisecond, "simulator echo delay")
		chatter    = flag.Duration("chatter", 0, "simulator chatter interval")
		checkImage = flag.Bool("check-image", false, "verify the ESP32 image header on firmware")
		logLevel   = flag.String("log-level", "info", "log level")
		logJSON    = flag.Bool("log-json", false, "log JSON lines")
	)
	flag.Parse()

	setupLogging(*logLevel, *logJSON)

	cfg, err := config.NewStore(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *cfgPath).Msg("load configuration")
	}

	var hist *history.Store
	if *histPath != "" {
		if *histPath != history.InMemory {
			if err := os.MkdirAll(filepath.Dir(*histPath), 0o755); err != nil {
				log.Fatal().Err(err).Msg("create history directory")
			}
		}
		hist, err = history.Open(*histPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *histPath).Msg("open history")
		}
		defer hist.Close()
	}

	// Pages are optional; the API works without them.
	webDir, err := filepath.Abs(*web)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve web directory")
	}
	if st, err := os.Stat(webDir); err != nil || !st.IsDir() {
		log.Warn().Str("dir", webDir).Msg("web directory missing, serving API only")
		webDir = ""
	}

	sim := device.DefaultSimOptions()
	sim.EchoDelay = *echoDelay
	sim.ChatterInterval = *chatter

	s := server.New(server.Options{
		WebDir:     webDir,
		Config:     cfg,
		History:    hist,
		OTADir:     *otaDir,
		CheckImage: *checkImage,
		Open:       device.UARTOpener([2]string{*tty0, *tty1}, sim),
	})
	if err := s.Start(); err != nil {
		log.Fatal().Err(err).Msg("open serial channels")
	}
	defer s.Close()

	// Bind the listen address early so we fail fast if the port is in use.
	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("listen")
	}

	uiURL := makeUIURL(*addr)
	c := cfg.Get()
	log.Info().
		Str("addr", *addr).
		Str("ui", uiURL).
		Str("device", c.DeviceName).
		Bool("web_password", c.HasWebPassword()).
		Ints("baud", c.BaudRates[:]).
		Msg("serving")

	if *open && os.Getenv("WIFISERIAL_NO_OPEN") == "" {
		if err := openBrowser(uiURL); err != nil {
			log.Warn().Err(err).Msg("failed to open browser")
		}
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("serve")
	}
	log.Info().Msg("stopped")
}

func setupLogging(level string, asJSON bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	if !asJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

// makeUIURL turns a listen address (host:port) into a browser-friendly URL.
//
// If the server is bound to 0.0.0.0 / ::, the returned URL uses 127.0.0.1
// because wildcard addresses are not reachable targets in browsers.
func makeUIURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/", strings.TrimSpace(addr))
	}
	if host == "" || host == "0.0.0.0" || host == "::" || host == "[::]" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s/", host, port)
}

// openBrowser tries to open the given URL in the OS default browser without
// waiting for it.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "windows":
		// `start` is a cmd.exe built-in. The empty title argument prevents quoting issues.
		return exec.Command("cmd", "/c", "start", "", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
