// Package client talks to the bridge's web surface the way the control panel
// does: it polls and feeds the two serial channels and drives OTA uploads.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CK6170/wifiserial-web/internal/history"
	"github.com/CK6170/wifiserial-web/internal/ota"
)

var (
	ErrInvalidChannel = errors.New("invalid channel")
	ErrUnknownToken   = errors.New("unknown control token")
	ErrUploadBusy     = errors.New("an upload is already in progress")
	ErrRejected       = errors.New("update rejected by device")
)

// HTTPError is a non-2xx answer from the device. Body is the plain-text
// reason the device gave.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("device returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("device returned %d: %s", e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// Client is a thin HTTP client for one device.
type Client struct {
	base string
	hc   *http.Client
	user string
	pass string
}

type Option func(*Client)

// WithBasicAuth sets the web credentials sent with every request.
func WithBasicAuth(user, pass string) Option {
	return func(c *Client) { c.user, c.pass = user, pass }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New returns a client for baseURL ("http://192.168.4.1"). A bare host gets
// an http:// scheme.
func New(baseURL string, opts ...Option) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the device address.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.user != "" || c.pass != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	return req, nil
}

func (c *Client) doText(req *http.Request) (string, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return string(b), nil
}

func (c *Client) doJSON(req *http.Request, v interface{}) error {
	body, err := c.doText(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.doText(req)
}

// Poll fetches whatever channel ch buffered since the previous poll.
func (c *Client) Poll(ctx context.Context, ch int) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/serial"+strconv.Itoa(ch)+"/poll", nil)
	if err != nil {
		return "", err
	}
	return c.doText(req)
}

// Send writes data to channel ch exactly as given.
func (c *Client) Send(ctx context.Context, ch int, data string) error {
	_, err := c.postForm(ctx, "/serial"+strconv.Itoa(ch)+"/send", url.Values{"data": {data}})
	return err
}

// Status reads the device's live OTA counters.
func (c *Client) Status(ctx context.Context) (ota.Status, error) {
	var st ota.Status
	req, err := c.newRequest(ctx, http.MethodGet, "/ota/status", nil)
	if err != nil {
		return st, err
	}
	err = c.doJSON(req, &st)
	return st, err
}

// Upload streams content as the "file" part followed by the "hash" part and
// returns the device's success message. size may be -1 when unknown; sent is
// called with the running count of payload bytes written.
func (c *Client) Upload(ctx context.Context, kind ota.Kind, filename string, content io.Reader, size int64, digest string, sent func(n int64)) (string, error) {
	// The multipart framing is rendered up front so the request carries an
	// exact Content-Length, which the device reports as expectedSize.
	var frame bytes.Buffer
	mw := multipart.NewWriter(&frame)
	if _, err := mw.CreateFormFile("file", filename); err != nil {
		return "", err
	}
	head := append([]byte(nil), frame.Bytes()...)
	frame.Reset()
	if err := mw.WriteField("hash", digest); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	tail := append([]byte(nil), frame.Bytes()...)

	body := io.MultiReader(bytes.NewReader(head), &countingReader{r: content, fn: sent}, bytes.NewReader(tail))
	req, err := c.newRequest(ctx, http.MethodPost, "/ota/"+string(kind)+"/upload", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if size >= 0 {
		req.ContentLength = int64(len(head)) + size + int64(len(tail))
	}
	return c.doText(req)
}

// Save posts the settings form. Secrets may carry config.Mask to keep the
// stored value.
func (c *Client) Save(ctx context.Context, form url.Values) (string, error) {
	return c.postForm(ctx, "/save", form)
}

func (c *Client) Reset(ctx context.Context) (string, error) {
	return c.postForm(ctx, "/reset", nil)
}

// History lists recent OTA attempts, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]ota.Result, error) {
	var out struct {
		Updates []ota.Result `json:"updates"`
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/ota/history?limit="+strconv.Itoa(limit), nil)
	if err != nil {
		return nil, err
	}
	err = c.doJSON(req, &out)
	return out.Updates, err
}

// Stats fetches per-kind OTA statistics.
func (c *Client) Stats(ctx context.Context) ([]history.Stats, error) {
	var out struct {
		Kinds []history.Stats `json:"kinds"`
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/ota/history/stats", nil)
	if err != nil {
		return nil, err
	}
	err = c.doJSON(req, &out)
	return out.Kinds, err
}

// WaitOnline polls /ota/status until the device answers or ctx ends; used
// after a firmware commit reboots it.
func (c *Client) WaitOnline(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if _, err := c.Status(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

type countingReader struct {
	r  io.Reader
	n  int64
	fn func(int64)
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n += int64(n)
		if cr.fn != nil {
			cr.fn(cr.n)
		}
	}
	return n, err
}
