package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderDeltas(t *testing.T) {
	rec := NewRecorder()
	rec.SessionsChanged(1)
	rec.SessionsChanged(1)
	rec.SessionsChanged(-1)
	rec.BlockedChanged(3)
	rec.StartRequested()
	rec.StartRequested()

	if got := testutil.ToFloat64(rec.active); got != 1 {
		t.Fatalf("active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.blocked); got != 3 {
		t.Fatalf("blocked = %v, want 3", got)
	}
	if got := testutil.ToFloat64(rec.requests); got != 2 {
		t.Fatalf("requests = %v, want 2", got)
	}
}

func TestRecorderUpdates(t *testing.T) {
	rec := NewRecorder()
	rec.UpdateHandled("need_help", "ok")
	rec.UpdateHandled("need_help", "ok")
	rec.UpdateHandled("text", "fail")

	if got := testutil.ToFloat64(rec.updates.WithLabelValues("need_help", "ok")); got != 2 {
		t.Fatalf("need_help ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(rec.updates.WithLabelValues("text", "fail")); got != 1 {
		t.Fatalf("text fail = %v, want 1", got)
	}
}

func TestRecorderBuildInfo(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	if a.Instance() == "" || a.Instance() == b.Instance() {
		t.Fatalf("instances = %q, %q", a.Instance(), b.Instance())
	}
	if _, err := uuid.Parse(a.Instance()); err != nil {
		t.Fatalf("instance is not a uuid: %v", err)
	}
	if n := testutil.CollectAndCount(a.Registry(), "relaybot_build_info"); n != 1 {
		t.Fatalf("build_info series = %d, want 1", n)
	}
}

func TestRecorderSendFailures(t *testing.T) {
	rec := NewRecorder()
	var failed uint64 = 3
	rec.TrackSendFailures(func() uint64 { return failed })

	want := "relaybot_send_failures_total 3"
	if err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(
		"# HELP relaybot_send_failures_total Outbound Telegram calls that failed after all retries.\n"+
			"# TYPE relaybot_send_failures_total counter\n"+want+"\n",
	), "relaybot_send_failures_total"); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	rec := NewRecorder()
	rec.SessionsChanged(2)
	srv := httptest.NewServer(NewRouter(rec, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "relaybot_active_dialogs 2") {
		t.Fatalf("metrics body lacks gauge:\n%s", body)
	}
}

func TestRouterHealth(t *testing.T) {
	checks := map[string]Check{
		"store":   func(context.Context) error { return nil },
		"catalog": func(context.Context) error { return errors.New("empty") },
	}
	h := NewRouter(NewRecorder(), checks)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"catalog":"empty"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}

	delete(checks, "catalog")
	h = NewRouter(NewRecorder(), checks)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, NewRouter(NewRecorder(), nil)) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return")
	}
}
