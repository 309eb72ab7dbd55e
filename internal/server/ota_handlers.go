package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/CK6170/wifiserial-web/internal/ota"
)

// maxDrain bounds how much of a rejected upload is read and thrown away so
// the client still sees the response.
const maxDrain = 8 << 20

func (s *Server) handleOTAStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, s.ota.Status())
}

// handleUpload streams a multipart body ("file", then "hash") into an OTA
// session. The file part is hashed while it streams; the declared digest
// that follows it is checked once the body ends, before anything commits.
func (s *Server) handleUpload(kind ota.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.ota.Begin(kind, r.ContentLength)
		if err != nil {
			s.writeText(w, http.StatusConflict, ota.Reason(err))
			return
		}

		mr, err := r.MultipartReader()
		if err != nil {
			sess.Abort(ota.ErrNoFile)
			s.writeText(w, http.StatusBadRequest, ota.Reason(ota.ErrNoFile))
			return
		}

		var declared string
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				sess.Abort(err)
				s.writeText(w, http.StatusBadRequest, "Malformed upload: "+err.Error())
				return
			}
			switch part.FormName() {
			case "file":
				if werr := sess.Write(r.Context(), part.FileName(), part); werr != nil {
					_ = part.Close()
					sess.Abort(werr)
					_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxDrain))
					s.writeUploadError(w, werr)
					return
				}
			case "hash":
				b, rerr := io.ReadAll(io.LimitReader(part, 256))
				if rerr != nil {
					// A half-read digest must not pass as "no digest".
					_ = part.Close()
					sess.Abort(rerr)
					s.writeText(w, http.StatusBadRequest, "Malformed upload: "+rerr.Error())
					return
				}
				declared = string(b)
			}
			_ = part.Close()
		}

		res, err := sess.Finish(declared)
		if err != nil {
			s.writeUploadError(w, err)
			return
		}
		log.Info().Str("session", res.SessionID).Str("file", res.Filename).Int64("size", res.Size).Msg("ota: upload accepted")
		s.writeText(w, http.StatusOK, kind.SuccessMessage())
	}
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if ota.IsRejection(err) {
		status = http.StatusBadRequest
	}
	s.writeText(w, status, ota.Reason(err))
}

func (s *Server) handleOTAHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotFound, APIError{Error: "history disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Updates: list})
}

func (s *Server) handleOTAStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotFound, APIError{Error: "history disabled"})
		return
	}
	stats, err := s.history.Summarize(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, StatsResponse{Kinds: stats})
}
