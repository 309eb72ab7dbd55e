package ota

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Session is one in-flight upload. It owns the Handler's single slot until
// Finish or Abort.
type Session struct {
	h       *Handler
	id      string
	kind    Kind
	started time.Time

	filename string
	sawFile  bool
	size     int64
	hasher   hash.Hash
	head     []byte

	staging     *os.File
	stagingPath string

	progress *rate.Sometimes
	ended    bool
}

// Begin claims the update slot. expected is the transfer size announced by
// the client (the request's Content-Length), or -1 when unknown.
func (h *Handler) Begin(kind Kind, expected int64) (*Session, error) {
	if !h.active.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	if expected < 0 {
		expected = 0
	}
	h.received.Store(0)
	h.expected.Store(expected)
	s := &Session{
		h:        h,
		id:       uuid.NewString(),
		kind:     kind,
		started:  time.Now(),
		hasher:   sha256.New(),
		progress: &rate.Sometimes{Interval: h.opts.ProgressEvery},
	}
	if h.opts.ProgressEvery <= 0 {
		s.progress = &rate.Sometimes{Every: 1}
	}
	log.Info().Str("session", s.id).Str("kind", string(kind)).Int64("expected", expected).Msg("ota: update started")
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Kind returns the targeted region.
func (s *Session) Kind() Kind { return s.kind }

// Write streams the uploaded file into staging while hashing it.
//
// An empty body is not an error here; Finish reports it as ErrNoFile. For
// firmware the extension is checked before a single byte is hashed.
func (s *Session) Write(ctx context.Context, filename string, r io.Reader) error {
	if s.sawFile {
		return fmt.Errorf("more than one file in upload")
	}
	s.sawFile = true
	s.filename = filename

	br := bufio.NewReaderSize(r, 32<<10)
	if _, err := br.Peek(1); err == io.EOF {
		return nil
	} else if err != nil {
		return err
	}
	if s.kind == Firmware && !strings.EqualFold(filepath.Ext(filename), FirmwareExt) {
		log.Warn().Str("session", s.id).Str("file", filename).Msg("ota: invalid firmware file extension")
		return ErrInvalidExtension
	}

	var dst io.Writer = io.Discard
	if s.h.opts.Dir != "" {
		dir, err := s.h.stagingDir()
		if err != nil {
			return err
		}
		f, err := os.CreateTemp(dir, string(s.kind)+"-*.part")
		if err != nil {
			return fmt.Errorf("create staging file: %w", err)
		}
		s.staging = f
		s.stagingPath = f.Name()
		dst = f
	}

	buf := make([]byte, 32<<10)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := br.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := dst.Write(chunk); werr != nil {
				return fmt.Errorf("write staging: %w", werr)
			}
			_, _ = s.hasher.Write(chunk)
			if len(s.head) < imageHeaderSize {
				need := imageHeaderSize - len(s.head)
				if need > n {
					need = n
				}
				s.head = append(s.head, chunk[:need]...)
			}
			s.size += int64(n)
			s.h.received.Add(int64(n))
			s.reportProgress()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) reportProgress() {
	if s.h.opts.OnProgress == nil {
		return
	}
	s.progress.Do(func() {
		s.h.opts.OnProgress(Progress{
			SessionID: s.id,
			Kind:      s.kind,
			Received:  s.h.received.Load(),
			Expected:  s.h.expected.Load(),
		})
	})
}

// Finish verifies the received bytes against declared (hex; empty skips
// verification) and commits on success. The slot is released either way.
func (s *Session) Finish(declared string) (Result, error) {
	if s.ended {
		return Result{}, fmt.Errorf("session already finished")
	}
	if !s.sawFile || s.size == 0 {
		return s.Abort(ErrNoFile), ErrNoFile
	}

	digest := hex.EncodeToString(s.hasher.Sum(nil))
	declared = strings.ToLower(strings.TrimSpace(declared))
	log.Info().Str("session", s.id).Str("expected", declared).Str("calculated", digest).Msg("ota: digest computed")
	if declared != "" && declared != digest {
		err := fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, declared, digest)
		return s.abort(err, declared, digest), err
	}
	if s.h.opts.CheckImage && s.kind == Firmware {
		if _, err := ParseImageHeader(s.head); err != nil {
			return s.abort(err, declared, digest), err
		}
	}

	path, err := s.commit()
	if err != nil {
		return s.abort(err, declared, digest), err
	}
	res := s.result(Committed, nil, declared, digest)
	res.Path = path
	s.end(res)
	log.Info().Str("session", s.id).Str("kind", string(s.kind)).Int64("size", s.size).Msg("ota: update committed")
	if s.kind == Firmware {
		s.h.scheduleRestart()
	}
	return res, nil
}

// Abort ends the session without committing.
func (s *Session) Abort(err error) Result {
	return s.abort(err, "", "")
}

func (s *Session) abort(err error, declared, digest string) Result {
	if s.ended {
		return Result{}
	}
	s.discard()
	verdict := Failed
	if IsRejection(err) {
		verdict = Rejected
	}
	res := s.result(verdict, err, declared, digest)
	s.end(res)
	log.Warn().Err(err).Str("session", s.id).Str("kind", string(s.kind)).Str("verdict", string(verdict)).Msg("ota: update not applied")
	return res
}

func (s *Session) commit() (string, error) {
	if s.staging == nil {
		return "", nil
	}
	if err := s.staging.Sync(); err != nil {
		return "", fmt.Errorf("sync staging: %w", err)
	}
	if err := s.staging.Close(); err != nil {
		return "", fmt.Errorf("close staging: %w", err)
	}
	s.staging = nil
	dst := s.h.SlotPath(s.kind)
	if err := os.Rename(s.stagingPath, dst); err != nil {
		return "", fmt.Errorf("commit %s: %w", s.kind, err)
	}
	s.stagingPath = ""
	return dst, nil
}

func (s *Session) discard() {
	if s.staging != nil {
		_ = s.staging.Close()
		s.staging = nil
	}
	if s.stagingPath != "" {
		_ = os.Remove(s.stagingPath)
		s.stagingPath = ""
	}
}

func (s *Session) result(v Verdict, err error, declared, digest string) Result {
	return Result{
		SessionID: s.id,
		Kind:      s.kind,
		Filename:  s.filename,
		Size:      s.size,
		Declared:  declared,
		Digest:    digest,
		Verdict:   v,
		Reason:    Reason(err),
		Started:   s.started,
		Finished:  time.Now(),
	}
}

func (s *Session) end(res Result) {
	s.ended = true
	s.h.active.Store(false)
	if s.h.opts.OnResult != nil {
		s.h.opts.OnResult(res)
	}
}
