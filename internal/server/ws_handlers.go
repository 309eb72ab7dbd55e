package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/CK6170/wifiserial-web/internal/ota"
)

// The device serves a single local control panel; any origin may subscribe
// once it has passed basic auth.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SerialChunk is the payload of an "rx" event.
type SerialChunk struct {
	Channel int    `json:"channel"`
	Data    string `json:"data"`
}

// handleWSSerial mirrors UART output as it arrives. Polling stays the
// authoritative path; this stream does not drain the buffers.
func (s *Server) handleWSSerial(w http.ResponseWriter, r *http.Request) {
	s.handleWSHub(w, r, s.wsSerial)
}

// handleWSOTA streams upload progress and verdicts.
func (s *Server) handleWSOTA(w http.ResponseWriter, r *http.Request) {
	s.handleWSHub(w, r, s.wsOTA)
}

// handleWSHub upgrades, registers, and reads until the client goes away.
func (s *Server) handleWSHub(w http.ResponseWriter, r *http.Request, hub *WSHub) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("ws: upgrade failed")
		return
	}
	client := hub.Add(conn)
	s.metrics.wsClients.WithLabelValues(r.URL.Path).Inc()
	defer s.metrics.wsClients.WithLabelValues(r.URL.Path).Dec()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			hub.Remove(client)
			return
		}
	}
}

func (s *Server) onSerialData(ch int, data []byte) {
	s.metrics.rxBytes.WithLabelValues(channelLabel(ch)).Add(float64(len(data)))
	if s.wsSerial.Len() == 0 {
		return
	}
	s.wsSerial.Broadcast(WSMessage{Type: "rx", Data: SerialChunk{Channel: ch, Data: string(data)}})
}

func (s *Server) onOTAProgress(p ota.Progress) {
	s.wsOTA.Broadcast(WSMessage{Type: "progress", Data: p})
}

func (s *Server) onOTAResult(res ota.Result) {
	s.metrics.otaUpdates.WithLabelValues(string(res.Kind), string(res.Verdict)).Inc()
	s.wsOTA.Broadcast(WSMessage{Type: "result", Data: res})
	if s.history == nil {
		return
	}
	// The request context may already be gone; the record must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Record(ctx, res); err != nil {
		log.Error().Err(err).Str("session", res.SessionID).Msg("ota: record history")
	}
}
