package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"compass-ng/internal/pipeline"
	"compass-ng/internal/rotation"
)

func newTestServer(t *testing.T) (*httptest.Server, *pipeline.Service, *Status) {
	t.Helper()
	svc, err := pipeline.New(pipeline.Config{})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	st := NewStatus("test-instance")
	ts := httptest.NewServer(Handler(Deps{Heading: svc, Status: st, Logs: NewLogBuffer(10), Model: "WMM-2020"}))
	t.Cleanup(ts.Close)
	return ts, svc, st
}

func process(t *testing.T, svc *pipeline.Service, deg float64) {
	t.Helper()
	if _, err := svc.Process(pipeline.Sample{Kind: pipeline.KindHeading, HeadingDeg: deg}); err != nil {
		t.Fatalf("Process: %v", err)
	}
}

func TestAPIHeading(t *testing.T) {
	ts, svc, _ := newTestServer(t)
	process(t, svc, 100)

	resp, err := http.Get(ts.URL + "/api/heading")
	if err != nil {
		t.Fatalf("get heading: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
	var snap pipeline.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !snap.Valid || snap.Heading.Rounded() != 10 || snap.Samples != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestAPIDisplayRotation(t *testing.T) {
	ts, svc, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/display-rotation", "application/json", strings.NewReader(`{"degrees":270}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if got := svc.DisplayRotation(); got != rotation.Rotation270 {
		t.Fatalf("display=%v want %v", got, rotation.Rotation270)
	}

	bad := []string{`{"degrees":45}`, `{}`, `{"deg":90}`, `nope`}
	for _, body := range bad {
		resp, err := http.Post(ts.URL+"/api/display-rotation", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: status code=%d want 400", body, resp.StatusCode)
		}
	}
	if got := svc.DisplayRotation(); got != rotation.Rotation270 {
		t.Fatalf("rejected requests changed display to %v", got)
	}

	resp, err = http.Get(ts.URL + "/api/display-rotation")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d want 405", resp.StatusCode)
	}
}

func TestAPIStatus(t *testing.T) {
	ts, svc, st := newTestServer(t)
	st.SetStatic(map[string]any{"source": "sim"})
	st.Register("pipeline", func() any { return svc.Snapshot() })

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()

	var snap struct {
		Service    string                     `json:"service"`
		InstanceID string                     `json:"instance_id"`
		Uptime     string                     `json:"uptime"`
		Info       map[string]any             `json:"info"`
		Components map[string]json.RawMessage `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "compass-ng" || snap.InstanceID != "test-instance" {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.Info["source"] != "sim" {
		t.Fatalf("info=%v", snap.Info)
	}
	if _, ok := snap.Components["pipeline"]; !ok {
		t.Fatalf("components=%v", snap.Components)
	}
	if snap.Uptime == "" {
		t.Fatalf("expected uptime text")
	}
}

func TestAPIHeadingStream(t *testing.T) {
	ts, svc, _ := newTestServer(t)
	process(t, svc, 200)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/heading/stream", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}

	// The last published snapshot arrives first, then live updates.
	sc := bufio.NewScanner(resp.Body)
	var events []pipeline.Snapshot
	for len(events) < 2 && sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap pipeline.Snapshot
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events = append(events, snap)
		if len(events) == 1 {
			process(t, svc, 200)
		}
	}
	if len(events) != 2 {
		t.Fatalf("events=%d err=%v", len(events), sc.Err())
	}
	if events[0].Samples != 1 || events[1].Samples != 2 {
		t.Fatalf("samples=%d,%d want 1,2", events[0].Samples, events[1].Samples)
	}
}

func TestServe_CancelEndsOpenStream(t *testing.T) {
	svc, err := pipeline.New(pipeline.Config{})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serveListener(ctx, ln, Handler(Deps{Heading: svc})) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/heading/stream")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return with a stream open")
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("shutdown took %v", d)
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		t.Fatalf("drain stream: %v", err)
	}
}

func TestRootPage(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content-type=%q", ct)
	}

	resp, err = http.Get(ts.URL + "/api/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d want 404", resp.StatusCode)
	}
}

func TestAPIAbout(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/about")
	if err != nil {
		t.Fatalf("get about: %v", err)
	}
	defer resp.Body.Close()
	var about AboutResponse
	if err := json.NewDecoder(resp.Body).Decode(&about); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if about.Service != "compass-ng" || about.Model != "WMM-2020" || about.GoVersion == "" {
		t.Fatalf("about=%+v", about)
	}
}
