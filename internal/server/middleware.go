package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AuthRealm is the realm announced in the Basic challenge.
const AuthRealm = "ESP32 Login"

// requireAuth enforces HTTP Basic auth against the live config record, so a
// credential change through /save applies to the very next request. An
// empty stored password is still a credential: "admin:" gets in, a request
// without an Authorization header does not.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.cfg.Get()
		if r.Header.Get("Authorization") == "" {
			challenge(w, "Authentication required")
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !secureEqual(user, cfg.WebUser) || !secureEqual(pass, cfg.WebPassword) {
			log.Warn().Str("remote", r.RemoteAddr).Str("user", user).Msg("auth: invalid credentials")
			challenge(w, "Invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func challenge(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+AuthRealm+`"`)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(msg))
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requestLogger logs one line per request. Poll traffic arrives twice a
// second per tab, so it goes to debug.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := zerolog.InfoLevel
		switch {
		case ww.Status() >= 500:
			level = zerolog.ErrorLevel
		case strings.HasSuffix(r.URL.Path, "/poll"), r.URL.Path == "/ota/status", r.URL.Path == "/metrics":
			level = zerolog.DebugLevel
		}
		log.WithLevel(level).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// countRequests feeds the per-route request counter. It runs inside the
// router so the matched route pattern is known.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
