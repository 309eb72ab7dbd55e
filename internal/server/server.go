package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/CK6170/wifiserial-web/internal/config"
	"github.com/CK6170/wifiserial-web/internal/device"
	"github.com/CK6170/wifiserial-web/internal/history"
	"github.com/CK6170/wifiserial-web/internal/ota"
)

// Options configures a Server.
type Options struct {
	// WebDir holds index.html and the other pages/assets. Empty disables
	// page serving.
	WebDir string
	// Config is the device record; required.
	Config *config.Store
	// History records OTA attempts when non-nil.
	History *history.Store

	// OTADir receives committed images. Empty verifies and discards.
	OTADir string
	// CheckImage enables the ESP32 image-header check on firmware.
	CheckImage bool

	// Open creates channel backends. Defaults to the simulator.
	Open       device.Opener
	BufferSize int
	PollChunk  int

	// ListPorts enumerates host serial ports for /about. Defaults to
	// device.ListPorts.
	ListPorts func() []device.PortInfo

	// RestartDelay is how long /save, /reset and a firmware commit wait
	// before the simulated reboot.
	RestartDelay time.Duration
}

// Server is the device's web surface: serial polling/sending, OTA, config.
type Server struct {
	router chi.Router

	cfg     *config.Store
	bridge  *device.Bridge
	ota     *ota.Handler
	history *history.Store
	metrics *metrics
	ports   *PortCache
	webDir  string
	started time.Time

	restartDelay time.Duration
	restartMu    sync.Mutex
	restartTimer *time.Timer

	// WebSocket hubs
	wsSerial *WSHub
	wsOTA    *WSHub
}

// New wires the bridge, the OTA handler and all routes. Call Start before
// serving so the serial channels are open.
func New(opts Options) *Server {
	if opts.Config == nil {
		panic("server: Options.Config is required")
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = time.Second
	}
	s := &Server{
		cfg:          opts.Config,
		history:      opts.History,
		metrics:      newMetrics(),
		ports:        NewPortCache(5*time.Second, opts.ListPorts),
		webDir:       opts.WebDir,
		started:      time.Now(),
		restartDelay: opts.RestartDelay,
		wsSerial:     NewWSHub(),
		wsOTA:        NewWSHub(),
	}
	s.bridge = device.NewBridge(device.Options{
		BufferSize: opts.BufferSize,
		PollChunk:  opts.PollChunk,
		Open:       opts.Open,
		OnData:     s.onSerialData,
	})
	s.ota = ota.NewHandler(ota.Options{
		Dir:           opts.OTADir,
		CheckImage:    opts.CheckImage,
		RestartDelay:  opts.RestartDelay,
		Restart:       func() { s.restartNow("firmware update") },
		ProgressEvery: 250 * time.Millisecond,
		OnProgress:    s.onOTAProgress,
		OnResult:      s.onOTAResult,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(s.countRequests)

	// Assets are public so the login prompt page can style itself.
	if s.webDir != "" {
		r.Get("/style.css", s.serveAsset)
		r.Get("/script.js", s.serveAsset)
		r.Get("/favicon.svg", s.serveAsset)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireAuth)

		for ch := 0; ch < device.Channels; ch++ {
			pr.Get(fmt.Sprintf("/serial%d/poll", ch), s.handlePoll(ch))
			pr.Post(fmt.Sprintf("/serial%d/send", ch), s.handleSend(ch))
		}

		pr.Get("/ota/status", s.handleOTAStatus)
		pr.Post("/ota/firmware/upload", s.handleUpload(ota.Firmware))
		pr.Post("/ota/filesystem/upload", s.handleUpload(ota.Filesystem))
		pr.Get("/ota/history", s.handleOTAHistory)
		pr.Get("/ota/history/stats", s.handleOTAStats)

		pr.Post("/save", s.handleSave)
		pr.Post("/reset", s.handleReset)
		pr.Get("/about", s.handleAbout)
		pr.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

		pr.Get("/ws/serial", s.handleWSSerial)
		pr.Get("/ws/ota", s.handleWSOTA)

		if s.webDir != "" {
			pr.Get("/", s.handlePage)
			pr.Get("/{page}.html", s.handlePage)
		}
	})
	s.router = r
}

// Start opens both serial channels with the configured baud rates.
func (s *Server) Start() error {
	return s.bridge.Start(s.cfg.Get().BaudRates)
}

// Close stops the serial channels and cancels any pending restart.
func (s *Server) Close() {
	s.restartMu.Lock()
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.restartMu.Unlock()
	s.ota.Close()
	s.bridge.Close()
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// scheduleRestart reboots the simulated device after the restart delay,
// collapsing repeated requests into one reboot.
func (s *Server) scheduleRestart(reason string) {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	s.restartTimer = time.AfterFunc(s.restartDelay, func() { s.restartNow(reason) })
}

func (s *Server) restartNow(reason string) {
	log.Warn().Str("reason", reason).Msg("device restarting")
	s.wsSerial.Broadcast(WSMessage{Type: "restart", Data: map[string]string{"reason": reason}})
	if err := s.bridge.Restart(s.cfg.Get().BaudRates); err != nil {
		log.Error().Err(err).Msg("restart: reopen serial channels")
		return
	}
	s.ports.Invalidate()
	s.metrics.restarts.Inc()
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.URL.Path)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, filepath.Join(s.webDir, name))
}

// escapeForLog makes control bytes visible in a single log line.
func escapeForLog(s string) string {
	return strings.NewReplacer("\r", `\r`, "\n", `\n`, "\x1b", `\e`).Replace(s)
}
