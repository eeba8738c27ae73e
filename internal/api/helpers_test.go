package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	internaldb "github.com/eargollo/sumcheck/internal/db"
	"github.com/eargollo/sumcheck/internal/history"
	"github.com/eargollo/sumcheck/internal/jobs"
	"github.com/eargollo/sumcheck/internal/scan"
	"github.com/eargollo/sumcheck/internal/scheduler"
	"github.com/eargollo/sumcheck/internal/store"
)

// testServer wraps an httptest server over the full router.
type testServer struct {
	baseURL string
	client  *http.Client
	deps    Deps
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := internaldb.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := scan.DefaultConfig()
	cfg.GCPercent = 0
	cfg.BatchSize = 1
	eng := scan.NewEngine(cfg, store.New(nil), nil, logger)
	hist := history.New(db)
	mgr := scan.NewManager(eng, hist, logger)
	sched := scheduler.New(logger)
	if err := sched.SetJob("0 2 * * 0", func() {}); err != nil {
		t.Fatal(err)
	}

	d := Deps{
		Manager: mgr,
		Jobs:    jobs.NewRunner(jobs.NewQueue(db), mgr, scan.Auto, logger),
		History: hist,
		Sched:   sched,
		Version: "test",
	}
	srv := httptest.NewServer(Router(d))
	t.Cleanup(srv.Close)
	return &testServer{baseURL: srv.URL, client: &http.Client{Timeout: 10 * time.Second}, deps: d}
}

// get performs a GET request to path and returns the response.
func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := ts.client.Get(ts.baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// post performs a POST request to path with the given JSON body.
func (ts *testServer) post(t *testing.T, path string, body io.Reader) *http.Response {
	t.Helper()
	resp, err := ts.client.Post(ts.baseURL+path, "application/json", body)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// delete performs a DELETE request to path.
func (ts *testServer) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, ts.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build DELETE %s: %v", path, err)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// requireStatus fails the test if the response status code != want.
func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d\nbody: %s", want, resp.StatusCode, body)
	}
}

// decodeJSON decodes the response body into v, failing the test on error.
func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// requireContentType fails if the Content-Type header doesn't start with want.
func requireContentType(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	ct := resp.Header.Get("Content-Type")
	if len(ct) < len(want) || ct[:len(want)] != want {
		t.Fatalf("Content-Type: got %q, want prefix %q", ct, want)
	}
}

// errorCode decodes an ErrorBody and returns its code.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeJSON(t, resp, &body)
	return body.Error.Code
}
