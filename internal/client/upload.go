package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/CK6170/wifiserial-web/internal/ota"
)

// UploadState is the client-side lifecycle of one upload.
type UploadState string

const (
	StateIdle      UploadState = "idle"
	StateHashing   UploadState = "hashing"
	StateUploading UploadState = "uploading"
	StateVerifying UploadState = "verifying"
	StateCommitted UploadState = "committed"
	StateRejected  UploadState = "rejected"
	StateFailed    UploadState = "failed"
)

const (
	// DefaultReloadDelay is how long after a firmware commit the view is
	// reloaded, giving the device time to reboot.
	DefaultReloadDelay = 10 * time.Second
	// DefaultClearDelay is how long a filesystem success message stays up.
	DefaultClearDelay = 3 * time.Second
)

// Uploader sends one multipart upload. *Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, kind ota.Kind, filename string, content io.Reader, size int64, digest string, sent func(n int64)) (string, error)
}

// UploadEvent reports a state change.
type UploadEvent struct {
	Kind    ota.Kind
	State   UploadState
	Message string
}

// PipelineOptions tunes an UploadPipeline.
type PipelineOptions struct {
	// Hash returns a fresh digest; nil means SHA-256. Returning nil from it
	// means no digest is available: the upload proceeds with an empty
	// digest and the device skips verification.
	Hash func() hash.Hash

	ReloadDelay time.Duration
	ClearDelay  time.Duration

	OnState    func(UploadEvent)
	OnProgress func(kind ota.Kind, fraction float64)
	// OnReload fires ReloadDelay after a firmware commit.
	OnReload func()
}

// Outcome is what Run returns once the device has given its verdict.
type Outcome struct {
	Kind    ota.Kind
	State   UploadState
	Digest  string
	Message string
}

// UploadPipeline runs uploads one at a time: hash, stream with progress,
// await the device verdict, then hold the terminal state for its
// observation delay before returning to idle.
type UploadPipeline struct {
	up   Uploader
	opts PipelineOptions

	active atomic.Bool

	mu    sync.Mutex
	state UploadState
	kind  ota.Kind
	timer *time.Timer
}

func NewUploadPipeline(up Uploader, opts PipelineOptions) *UploadPipeline {
	if opts.Hash == nil {
		opts.Hash = sha256.New
	}
	if opts.ReloadDelay <= 0 {
		opts.ReloadDelay = DefaultReloadDelay
	}
	if opts.ClearDelay <= 0 {
		opts.ClearDelay = DefaultClearDelay
	}
	return &UploadPipeline{up: up, opts: opts, state: StateIdle}
}

// State returns the current state and the kind it applies to.
func (p *UploadPipeline) State() (UploadState, ota.Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.kind
}

func (p *UploadPipeline) set(kind ota.Kind, st UploadState, msg string) {
	p.mu.Lock()
	p.state, p.kind = st, kind
	p.mu.Unlock()
	if p.opts.OnState != nil {
		p.opts.OnState(UploadEvent{Kind: kind, State: st, Message: msg})
	}
}

// Run uploads payload as filename. It refuses with ErrUploadBusy, without
// touching payload, while another upload has not yet returned to idle.
// size < 0 is measured by seeking.
func (p *UploadPipeline) Run(ctx context.Context, kind ota.Kind, filename string, payload io.ReadSeeker, size int64) (Outcome, error) {
	if !p.active.CompareAndSwap(false, true) {
		return Outcome{Kind: kind, State: StateIdle}, ErrUploadBusy
	}

	p.set(kind, StateHashing, "")
	digest, n, err := p.digest(payload)
	if err != nil {
		return p.finish(kind, StateFailed, "", err.Error()), err
	}
	if size < 0 {
		size = n
	}
	if digest == "" {
		log.Warn().Str("kind", string(kind)).Msg("upload: no digest available, device will not verify")
	}

	p.set(kind, StateUploading, "")
	// The transport writes the body on its own goroutine, so the progress
	// bookkeeping is shared with this one.
	var (
		pmu       sync.Mutex
		last      int64 = -1
		verifying bool
	)
	report := func(sent int64) {
		if size <= 0 {
			return
		}
		pct := sent * 100 / size
		if pct > 100 {
			pct = 100
		}
		pmu.Lock()
		defer pmu.Unlock()
		if pct > last {
			last = pct
			if p.opts.OnProgress != nil {
				p.opts.OnProgress(kind, float64(pct)/100)
			}
		}
		if sent >= size && !verifying {
			verifying = true
			p.set(kind, StateVerifying, "")
		}
	}
	report(0)

	msg, err := p.up.Upload(ctx, kind, filename, payload, size, digest, report)

	var he *HTTPError
	errors.As(err, &he)
	switch {
	case err == nil:
		pmu.Lock()
		if !verifying {
			verifying = true
			p.set(kind, StateVerifying, "")
		}
		if last < 100 && p.opts.OnProgress != nil {
			last = 100
			p.opts.OnProgress(kind, 1)
		}
		pmu.Unlock()
		return p.finish(kind, StateCommitted, digest, msg), nil
	case he != nil && he.StatusCode == http.StatusBadRequest:
		return p.finish(kind, StateRejected, digest, he.Body), fmt.Errorf("%w: %s", ErrRejected, he.Body)
	case he != nil && he.StatusCode == http.StatusConflict:
		return p.finish(kind, StateRejected, digest, he.Body), fmt.Errorf("device: %w", ErrUploadBusy)
	default:
		return p.finish(kind, StateFailed, digest, err.Error()), fmt.Errorf("upload %s: %w", kind, err)
	}
}

// digest hashes payload and rewinds it.
func (p *UploadPipeline) digest(payload io.ReadSeeker) (string, int64, error) {
	h := p.opts.Hash()
	var w io.Writer = io.Discard
	if h != nil {
		w = h
	}
	n, err := io.Copy(w, payload)
	if err != nil {
		return "", 0, fmt.Errorf("read payload: %w", err)
	}
	if _, err := payload.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("rewind payload: %w", err)
	}
	if h == nil {
		return "", n, nil
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// finish enters a terminal state. Rejections and failures release the
// pipeline at once; commits hold it for their observation delay.
func (p *UploadPipeline) finish(kind ota.Kind, st UploadState, digest, msg string) Outcome {
	p.set(kind, st, msg)
	out := Outcome{Kind: kind, State: st, Digest: digest, Message: msg}
	if st != StateCommitted {
		p.toIdle(kind)
		return out
	}

	delay, after := p.opts.ClearDelay, func() {}
	if kind == ota.Firmware {
		delay = p.opts.ReloadDelay
		if p.opts.OnReload != nil {
			after = p.opts.OnReload
		}
	}
	p.mu.Lock()
	p.timer = time.AfterFunc(delay, func() {
		after()
		p.toIdle(kind)
	})
	p.mu.Unlock()
	return out
}

func (p *UploadPipeline) toIdle(kind ota.Kind) {
	p.mu.Lock()
	p.timer = nil
	p.mu.Unlock()
	p.set(kind, StateIdle, "")
	p.active.Store(false)
}

// Close cancels a pending observation delay and returns to idle.
func (p *UploadPipeline) Close() {
	p.mu.Lock()
	t := p.timer
	p.timer = nil
	kind := p.kind
	p.mu.Unlock()
	if t != nil && t.Stop() {
		p.toIdle(kind)
	}
}

// IsRejected reports whether err is a device verdict rather than a
// transport failure.
func IsRejected(err error) bool { return errors.Is(err, ErrRejected) }
