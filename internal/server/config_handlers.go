package server

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/CK6170/wifiserial-web/internal/config"
	"github.com/CK6170/wifiserial-web/internal/device"
)

// handleSave merges the settings form into the stored record and reboots.
// Secret fields left empty or holding the mask keep their stored value.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.writeText(w, http.StatusBadRequest, "Invalid form: "+err.Error())
		return
	}
	cfg, err := s.cfg.Update(func(c *config.Config) error {
		c.ApplyForm(r.PostForm)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("config: save")
		s.writeText(w, http.StatusInternalServerError, "Failed to save configuration: "+err.Error())
		return
	}
	log.Info().
		Str("device", cfg.DeviceName).
		Str("ssid", cfg.SSID).
		Str("broker", cfg.MQTTBroker).
		Ints("baud", cfg.BaudRates[:]).
		Msg("config: saved")
	s.writeText(w, http.StatusOK, "Configuration saved! Restarting...")
	s.scheduleRestart("configuration saved")
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.writeText(w, http.StatusOK, "Device resetting...")
	s.scheduleRestart("reset requested")
}

// handleAbout reports identity, channel state and host resources.
func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	resp := AboutResponse{
		DeviceName: cfg.DeviceName,
		IPAddress:  localIP(r),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		GoVersion:  runtime.Version(),
		OTA:        s.ota.Status(),
		Topics:     cfg.Topics,
		Ports:      s.ports.Get(),
	}
	for ch := 0; ch < device.Channels; ch++ {
		resp.Channels = append(resp.Channels, ChannelInfo{
			Channel:  ch,
			Baud:     s.bridge.Baud(ch),
			Buffered: s.bridge.Buffered(ch),
		})
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemTotal = vm.Total
		resp.MemAvailable = vm.Available
	}
	if n, err := cpu.CountsWithContext(r.Context(), true); err == nil {
		resp.CPUs = n
	}
	s.writeJSON(w, http.StatusOK, resp)
}
