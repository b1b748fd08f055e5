//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var env *Env

// Env holds shared state for all integration tests.
type Env struct {
	BaseURL string
	Client  *http.Client
	Symbol  string
}

func TestMain(m *testing.M) {
	baseURL := os.Getenv("CHARTSYNC_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8190"
	}
	symbol := os.Getenv("CHARTSYNC_TEST_SYMBOL")
	if symbol == "" {
		symbol = "SPY"
	}

	env = &Env{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Symbol:  symbol,
	}

	resp, err := env.Client.Get(env.BaseURL + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "server not reachable at %s: %v\n", env.BaseURL, err)
		os.Exit(1)
	}
	resp.Body.Close()

	// Opening the session loads history, settings and saved annotations.
	resp, err = env.Client.Post(env.sessionPath(""), "application/json", nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "integration: open session %s failed: %v\n", env.Symbol, err)
		os.Exit(1)
	}
	resp.Body.Close()
	fmt.Fprintf(os.Stdout, "integration: using session %s at %s\n", env.Symbol, env.BaseURL)

	os.Exit(m.Run())
}

// --- HTTP helpers ---

func (e *Env) GET(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.Client.Get(e.BaseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (e *Env) PUT(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPut, path, body)
}

func (e *Env) POST(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPost, path, body)
}

func (e *Env) DELETE(t *testing.T, path string) *http.Response {
	t.Helper()
	return e.do(t, http.MethodDelete, path, nil)
}

func (e *Env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("%s %s: marshal body: %v", method, path, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.BaseURL+path, r)
	if err != nil {
		t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// --- Assertion helpers ---

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, want, body)
	}
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func requireField[T comparable](t *testing.T, got, want T, name string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

// --- Session path helpers ---

func (e *Env) sessionPath(suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("%s/api/v1/sessions/%s", e.BaseURL, e.Symbol)
	}
	return fmt.Sprintf("%s/api/v1/sessions/%s/%s", e.BaseURL, e.Symbol, suffix)
}

func (e *Env) path(suffix string) string {
	return fmt.Sprintf("/api/v1/sessions/%s/%s", e.Symbol, suffix)
}
