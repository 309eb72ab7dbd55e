package server

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/CK6170/wifiserial-web/internal/device"
)

// handlePoll returns everything buffered on ch since the last poll (up to
// one poll chunk) as plain text. An empty body means nothing arrived.
func (s *Server) handlePoll(ch int) http.HandlerFunc {
	label := channelLabel(ch)
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.polls.WithLabelValues(label).Inc()
		data, err := s.bridge.Poll(ch)
		if err != nil {
			s.writeText(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		s.writeText(w, http.StatusOK, string(data))
	}
}

// handleSend writes the form field "data" verbatim to the UART.
func (s *Server) handleSend(ch int) http.HandlerFunc {
	label := channelLabel(ch)
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.writeText(w, http.StatusBadRequest, "Missing data")
			return
		}
		data := r.PostForm.Get("data")
		if data == "" {
			s.writeText(w, http.StatusBadRequest, "Missing data")
			return
		}
		if err := s.bridge.Send(ch, []byte(data)); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, device.ErrNotRunning) {
				status = http.StatusServiceUnavailable
			}
			log.Error().Err(err).Int("channel", ch).Msg("serial: send")
			s.writeText(w, status, err.Error())
			return
		}
		s.metrics.txBytes.WithLabelValues(label).Add(float64(len(data)))
		log.Debug().Int("channel", ch).Str("data", escapeForLog(data)).Msg("serial: web -> uart")
		s.writeText(w, http.StatusOK, "OK")
	}
}
