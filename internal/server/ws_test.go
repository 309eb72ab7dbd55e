package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CK6170/wifiserial-web/internal/ota"
)

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// dialWS subscribes to path with the stored credentials and waits until the
// hub has registered the connection.
func (e *testEnv) dialWS(t *testing.T, path string, hub *WSHub) *websocket.Conn {
	t.Helper()
	c := e.cfg.Get()
	req, _ := http.NewRequest(http.MethodGet, e.ts.URL, nil)
	req.SetBasicAuth(c.WebUser, c.WebPassword)

	u := "ws" + strings.TrimPrefix(e.ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Authorization": {req.Header.Get("Authorization")}})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })

	waitFor(t, func() bool { return hub.Len() == 1 }, "hub registration")
	return conn
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// nextEvent reads events until one of type want arrives.
func nextEvent(t *testing.T, conn *websocket.Conn, want string) wsEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %q event: %v", want, err)
		}
		if ev.Type == want {
			return ev
		}
	}
}

func TestWSSerialStreamsEcho(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := e.dialWS(t, "/ws/serial", e.srv.wsSerial)

	if code, body := e.postForm(t, "/serial0/send", url.Values{"data": {"hi"}}); code != http.StatusOK {
		t.Fatalf("send = %d %q", code, body)
	}

	var got strings.Builder
	for !strings.Contains(got.String(), "Echo: hi") {
		ev := nextEvent(t, conn, "rx")
		var chunk SerialChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			t.Fatal(err)
		}
		if chunk.Channel != 0 {
			t.Fatalf("rx on channel %d, want 0", chunk.Channel)
		}
		got.WriteString(chunk.Data)
	}

	// The stream mirrors output without draining the poll buffer.
	if _, body := e.get(t, "/serial0/poll"); !strings.Contains(body, "Echo: hi") {
		t.Errorf("poll after rx = %q, want the echo still buffered", body)
	}

	_ = conn.Close()
	waitFor(t, func() bool { return e.srv.wsSerial.Len() == 0 }, "hub removal")
}

func TestWSSerialRestartEvent(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.RestartDelay = time.Millisecond })
	conn := e.dialWS(t, "/ws/serial", e.srv.wsSerial)

	if code, _ := e.postForm(t, "/reset", nil); code != http.StatusOK {
		t.Fatalf("reset = %d", code)
	}
	ev := nextEvent(t, conn, "restart")
	var data map[string]string
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["reason"] == "" {
		t.Errorf("restart event without reason: %s", ev.Data)
	}
}

func TestWSOTAProgressThenResult(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := e.dialWS(t, "/ws/ota", e.srv.wsOTA)

	payload := []byte("filesystem image bytes")
	code, body := e.do(t, e.uploadRequest(t, "/ota/filesystem/upload", "fs.bin", payload, sum(payload)))
	if code != http.StatusOK {
		t.Fatalf("upload = %d %q", code, body)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first wsEvent
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Type != "progress" {
		t.Fatalf("first event = %q, want progress", first.Type)
	}
	var p ota.Progress
	if err := json.Unmarshal(first.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Kind != ota.Filesystem || p.Received <= 0 {
		t.Errorf("progress = %+v", p)
	}

	ev := nextEvent(t, conn, "result")
	var res ota.Result
	if err := json.Unmarshal(ev.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Verdict != ota.Committed || res.Digest != sum(payload) || res.SessionID != p.SessionID {
		t.Errorf("result = %+v", res)
	}
}
