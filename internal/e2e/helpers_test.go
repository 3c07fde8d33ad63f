package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"notifyd/internal/httpapi"
	"notifyd/internal/manager"
	"notifyd/pkg/types"
)

// newServer starts a manager and serves its API from an httptest server.
func newServer(t *testing.T, cfg manager.ManagerConfig) (*httptest.Server, *manager.Manager) {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	mgr, err := manager.NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv, mgr
}

func httpDo(t *testing.T, method, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, data
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	return httpDo(t, http.MethodGet, url, nil)
}

func mustJSON(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("json: %v (body %q)", err, data)
	}
}

// openStream opens /notifications/stream and waits until the subscription
// is visible in the manager status. The returned channel yields decoded
// lines and closes when the stream ends.
func openStream(t *testing.T, srv *httptest.Server, mgr *manager.Manager, query string) <-chan types.Notification {
	t.Helper()
	before := mgr.Status().Subscriptions
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/notifications/stream?"+query, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", resp.StatusCode)
	}
	out := make(chan types.Notification, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			var n types.Notification
			if json.Unmarshal(sc.Bytes(), &n) == nil {
				out <- n
			}
		}
	}()
	waitFor(t, func() bool { return mgr.Status().Subscriptions > before })
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// collect reads n notifications or fails.
func collect(t *testing.T, ch <-chan types.Notification, n int) []types.Notification {
	t.Helper()
	var got []types.Notification
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case x, ok := <-ch:
			if !ok {
				t.Fatalf("stream ended after %d of %d notifications", len(got), n)
			}
			got = append(got, x)
		case <-timeout:
			t.Fatalf("received %d of %d notifications", len(got), n)
		}
	}
	return got
}
