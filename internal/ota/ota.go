// Package ota receives firmware and filesystem images, verifies them against
// the digest the uploader declared, and commits them into their slot.
//
// Nothing is committed before verification: bytes are streamed into a staging
// file and only renamed over the slot once every check has passed.
package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind selects the flash region an upload targets.
type Kind string

const (
	Firmware   Kind = "firmware"
	Filesystem Kind = "filesystem"
)

// FirmwareExt is the only accepted firmware file extension.
const FirmwareExt = ".bin"

// ParseKind maps a route segment to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Firmware:
		return Firmware, nil
	case Filesystem:
		return Filesystem, nil
	}
	return "", fmt.Errorf("unknown update kind %q", s)
}

// SuccessMessage is the body returned for a committed update.
func (k Kind) SuccessMessage() string {
	if k == Firmware {
		return "Firmware updated successfully"
	}
	return "Filesystem updated successfully"
}

// slotName is the committed image's file name inside the slot directory.
func (k Kind) slotName() string { return string(k) + ".bin" }

var (
	ErrNoFile           = errors.New("no file uploaded")
	ErrInvalidExtension = errors.New("invalid firmware file extension")
	ErrHashMismatch     = errors.New("hash verification failed")
	ErrBusy             = errors.New("another update is in progress")
	ErrBadImage         = errors.New("invalid firmware image")
)

// Reason renders err as the plain-text rejection body the control panel shows.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoFile):
		return "No file uploaded"
	case errors.Is(err, ErrInvalidExtension):
		return "Invalid firmware file extension"
	case errors.Is(err, ErrHashMismatch):
		return "Hash verification failed"
	case errors.Is(err, ErrBusy):
		return "Another update is in progress"
	case errors.Is(err, ErrBadImage):
		return "Invalid firmware image: " + strings.TrimPrefix(err.Error(), ErrBadImage.Error()+": ")
	}
	return "Update failed: " + err.Error()
}

// IsRejection reports whether err is a validation verdict (HTTP 400) rather
// than an I/O failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNoFile) ||
		errors.Is(err, ErrInvalidExtension) ||
		errors.Is(err, ErrHashMismatch) ||
		errors.Is(err, ErrBadImage)
}

// Verdict is the terminal state of an upload.
type Verdict string

const (
	Committed Verdict = "committed"
	Rejected  Verdict = "rejected"
	Failed    Verdict = "failed"
)

// Status is the live view served by /ota/status.
type Status struct {
	InProgress   bool  `json:"otaInProgress"`
	ReceivedSize int64 `json:"receivedSize"`
	ExpectedSize int64 `json:"expectedSize"`
}

// Progress is emitted while bytes stream in.
type Progress struct {
	SessionID string `json:"sessionId"`
	Kind      Kind   `json:"kind"`
	Received  int64  `json:"received"`
	Expected  int64  `json:"expected"`
}

// Result describes a finished upload.
type Result struct {
	SessionID string    `json:"sessionId"`
	Kind      Kind      `json:"kind"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Declared  string    `json:"declaredDigest"`
	Digest    string    `json:"digest"`
	Verdict   Verdict   `json:"verdict"`
	Reason    string    `json:"reason,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Path      string    `json:"-"`
}

// Options configures a Handler.
type Options struct {
	// Dir holds the committed slots (firmware.bin, filesystem.bin) and the
	// staging files. Empty means images are verified and then discarded.
	Dir string
	// CheckImage additionally requires firmware to carry a valid ESP32 app
	// image header.
	CheckImage bool
	// RestartDelay is the pause between a firmware commit and Restart.
	RestartDelay time.Duration
	// Restart reboots the device after a firmware commit.
	Restart func()
	// ProgressEvery throttles OnProgress. Zero reports every chunk.
	ProgressEvery time.Duration
	OnProgress    func(Progress)
	OnResult      func(Result)
}

// Handler is the device-side update endpoint. At most one session is active.
type Handler struct {
	opts Options

	active   atomic.Bool
	received atomic.Int64
	expected atomic.Int64

	restartMu    sync.Mutex
	restartTimer *time.Timer
}

// NewHandler constructs a Handler; Dir is created on first commit.
func NewHandler(opts Options) *Handler {
	if opts.RestartDelay < 0 {
		opts.RestartDelay = 0
	}
	return &Handler{opts: opts}
}

// Status returns the live transfer counters.
func (h *Handler) Status() Status {
	return Status{
		InProgress:   h.active.Load(),
		ReceivedSize: h.received.Load(),
		ExpectedSize: h.expected.Load(),
	}
}

// SlotPath returns where a committed image of kind lives, or "" without Dir.
func (h *Handler) SlotPath(kind Kind) string {
	if h.opts.Dir == "" {
		return ""
	}
	return filepath.Join(h.opts.Dir, kind.slotName())
}

// Receive runs a whole upload whose digest is known up front.
func (h *Handler) Receive(ctx context.Context, kind Kind, filename string, body io.Reader, declared string) (Result, error) {
	s, err := h.Begin(kind, -1)
	if err != nil {
		return Result{Kind: kind, Filename: filename, Verdict: Rejected, Reason: Reason(err)}, err
	}
	if body != nil {
		if err := s.Write(ctx, filename, body); err != nil {
			return s.Abort(err), err
		}
	}
	return s.Finish(declared)
}

func (h *Handler) scheduleRestart() {
	if h.opts.Restart == nil {
		return
	}
	h.restartMu.Lock()
	defer h.restartMu.Unlock()
	if h.restartTimer != nil {
		h.restartTimer.Stop()
	}
	log.Info().Dur("delay", h.opts.RestartDelay).Msg("firmware committed, restart scheduled")
	h.restartTimer = time.AfterFunc(h.opts.RestartDelay, h.opts.Restart)
}

// Close cancels a pending restart.
func (h *Handler) Close() {
	h.restartMu.Lock()
	defer h.restartMu.Unlock()
	if h.restartTimer != nil {
		h.restartTimer.Stop()
		h.restartTimer = nil
	}
}

func (h *Handler) stagingDir() (string, error) {
	dir := filepath.Join(h.opts.Dir, ".staging")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}
