package server

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/CK6170/wifiserial-web/internal/config"
)

// htmlEscaper escapes the five characters that matter inside attribute
// values, ampersand first.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

func escapeHTML(s string) string { return htmlEscaper.Replace(s) }

// maskDisplay returns the sentinel for a stored secret so the form never
// carries the secret itself.
func maskDisplay(secret string) string {
	if secret == "" {
		return ""
	}
	return config.Mask
}

// hasValue renders "1" for a stored secret and "0" otherwise.
func hasValue(secret string) string {
	if secret == "" {
		return "0"
	}
	return "1"
}

// RenderTemplate substitutes the %PLACEHOLDER% tokens of a control-panel page.
func RenderTemplate(page string, cfg config.Config, ip string) string {
	otaStatus := "Not configured - OTA is unprotected!"
	if cfg.HasWebPassword() {
		otaStatus = "Configured (uses Web Password)"
	}
	r := strings.NewReplacer(
		"%SSID%", escapeHTML(cfg.SSID),
		"%PASSWORD_DISPLAY%", maskDisplay(cfg.Password),
		"%PASSWORD_HAS_VALUE%", hasValue(cfg.Password),
		"%DEVICE_NAME%", escapeHTML(cfg.DeviceName),
		"%MQTT_BROKER%", escapeHTML(cfg.MQTTBroker),
		"%MQTT_PORT%", strconv.Itoa(cfg.MQTTPort),
		"%MQTT_USER%", escapeHTML(cfg.MQTTUser),
		"%MQTT_PASSWORD_DISPLAY%", maskDisplay(cfg.MQTTPassword),
		"%MQTT_PASSWORD_HAS_VALUE%", hasValue(cfg.MQTTPassword),
		"%TOPIC_TTY0_RX%", escapeHTML(cfg.Topics.Tty0Rx),
		"%TOPIC_TTY0_TX%", escapeHTML(cfg.Topics.Tty0Tx),
		"%TOPIC_TTY1_RX%", escapeHTML(cfg.Topics.Tty1Rx),
		"%TOPIC_TTY1_TX%", escapeHTML(cfg.Topics.Tty1Tx),
		"%BAUD_RATE_TTY0%", strconv.Itoa(cfg.BaudRates[0]),
		"%BAUD_RATE_TTY1%", strconv.Itoa(cfg.BaudRates[1]),
		"%IP_ADDRESS%", ip,
		"%WEB_USER%", escapeHTML(cfg.WebUser),
		"%WEB_PASSWORD_DISPLAY%", maskDisplay(cfg.WebPassword),
		"%WEB_PASSWORD_HAS_VALUE%", hasValue(cfg.WebPassword),
		"%OTA_PASSWORD_STATUS%", otaStatus,
	)
	return r.Replace(page)
}

// handlePage renders index.html (for "/") or another page of the panel.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	name := "index"
	if p := chi.URLParam(r, "page"); p != "" {
		name = filepath.Base(p)
	}
	b, err := os.ReadFile(filepath.Join(s.webDir, name+".html"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(RenderTemplate(string(b), s.cfg.Get(), localIP(r))))
}

// localIP is the address the browser reached us on, falling back to the
// first non-loopback IPv4 address.
func localIP(r *http.Request) string {
	if r != nil {
		if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
			if host, _, err := net.SplitHostPort(addr.String()); err == nil {
				if ip := net.ParseIP(host); ip != nil && !ip.IsUnspecified() && !ip.IsLoopback() {
					return host
				}
			}
		}
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() && ipn.IP.To4() != nil {
			return ipn.IP.String()
		}
	}
	return "127.0.0.1"
}
