// Package backend talks to the chart backend: annotation persistence, history
// fetches and settings over REST, and the live data channel over WebSocket.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/chartsync/internal/apperr"
	"github.com/dgnsrekt/chartsync/internal/geometry"
	"github.com/dgnsrekt/chartsync/internal/metrics"
	"github.com/patrickmn/go-cache"
)

const maxErrorBody = 512

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client is the REST client for the chart backend.
type Client struct {
	baseURL string
	http    *http.Client
	history *cache.Cache
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMetrics records fetch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a backend client. History responses are cached for
// historyTTL; zero disables the cache.
func NewClient(baseURL string, timeout, historyTTL time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	if historyTTL > 0 {
		c.history = cache.New(historyTTL, 2*historyTTL)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAnnotation persists a new annotation and returns its backend id.
func (c *Client) CreateAnnotation(ctx context.Context, rec AnnotationRecord) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/annotations", nil, rec, &resp); err != nil {
		return "", apperr.PersistenceFailure("create annotation", err)
	}
	if resp.ID == "" {
		return "", apperr.PersistenceFailure("create annotation", fmt.Errorf("backend returned empty id"))
	}
	return resp.ID, nil
}

// UpdateAnnotation sends the full endpoint state of a confirmed annotation.
func (c *Client) UpdateAnnotation(ctx context.Context, id string, rec AnnotationRecord) error {
	body := updateRequest{
		StartTime:  rec.StartTime,
		EndTime:    rec.EndTime,
		StartValue: rec.StartValue,
		EndValue:   rec.EndValue,
	}
	if err := c.do(ctx, http.MethodPut, "/api/annotations/"+url.PathEscape(id), nil, body, nil); err != nil {
		return apperr.PersistenceFailure("update annotation", err)
	}
	return nil
}

// DeleteAnnotation removes a persisted annotation.
func (c *Client) DeleteAnnotation(ctx context.Context, symbol, id string) error {
	q := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, http.MethodDelete, "/api/annotations/"+url.PathEscape(id), q, nil, nil); err != nil {
		return apperr.PersistenceFailure("delete annotation", err)
	}
	return nil
}

// ListAnnotations returns persisted annotations for a symbol, optionally
// restricted to one subplot.
func (c *Client) ListAnnotations(ctx context.Context, symbol string, subplot *geometry.SubplotRef) ([]AnnotationRecord, error) {
	q := url.Values{"symbol": {symbol}}
	if subplot != nil {
		ref := subplot.Normalize()
		q.Set("xref", ref.XAxis)
		q.Set("yref", ref.YAxis)
	}
	var resp struct {
		Annotations []AnnotationRecord `json:"annotations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/annotations", q, nil, &resp); err != nil {
		return nil, apperr.New(apperr.CodeBackendUnavailable, "list annotations failed", err)
	}
	return resp.Annotations, nil
}

// FetchHistory returns OHLC data for the requested span.
func (c *Client) FetchHistory(ctx context.Context, req HistoryRequest) (Series, error) {
	key := historyKey(req)
	if c.history != nil {
		if v, ok := c.history.Get(key); ok {
			c.metrics.HistoryFetch("cached")
			return v.(Series), nil
		}
	}

	q := url.Values{
		"symbol":     {req.Symbol},
		"resolution": {req.Resolution},
		"from_ts":    {formatTS(req.From)},
		"to_ts":      {formatTS(req.To)},
	}
	if len(req.Indicators) > 0 {
		q.Set("indicators", strings.Join(req.Indicators, ","))
	}
	var series Series
	if err := c.do(ctx, http.MethodGet, "/api/history", q, nil, &series); err != nil {
		c.metrics.HistoryFetch("error")
		return Series{}, apperr.New(apperr.CodeBackendUnavailable, "fetch history failed", err)
	}
	if series.From == 0 && series.To == 0 {
		series.From, series.To = loadedSpan(req, series.Candles)
	}
	if c.history != nil {
		c.history.Set(key, series, cache.DefaultExpiration)
	}
	c.metrics.HistoryFetch("ok")
	return series, nil
}

// loadedSpan is the span a response without explicit bounds covers: the
// requested span widened to the returned candles. No candles means nothing
// was loaded.
func loadedSpan(req HistoryRequest, candles []Candle) (float64, float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	from, to := req.From, req.To
	if first := candles[0].Time; first < from {
		from = first
	}
	if last := candles[len(candles)-1].Time; last > to {
		to = last
	}
	return from, to
}

// GetSettings loads persisted view state. A 404 yields zero settings.
func (c *Client) GetSettings(ctx context.Context, symbol string) (Settings, error) {
	var s Settings
	err := c.do(ctx, http.MethodGet, "/api/settings/"+url.PathEscape(symbol), nil, nil, &s)
	if err != nil {
		if se, ok := err.(*StatusError); ok && se.Status == http.StatusNotFound {
			return Settings{}, nil
		}
		return Settings{}, apperr.New(apperr.CodeBackendUnavailable, "get settings failed", err)
	}
	return s, nil
}

// SetSettings stores view state for a symbol.
func (c *Client) SetSettings(ctx context.Context, symbol string, s Settings) error {
	if err := c.do(ctx, http.MethodPut, "/api/settings/"+url.PathEscape(symbol), nil, s, nil); err != nil {
		return apperr.PersistenceFailure("save settings", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("backend request failed", "method", method, "path", path, "error", err)
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	slog.Debug("backend request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func historyKey(req HistoryRequest) string {
	return strings.Join([]string{
		req.Symbol,
		req.Resolution,
		formatTS(req.From),
		formatTS(req.To),
		strings.Join(req.Indicators, ","),
	}, "|")
}

func formatTS(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}
