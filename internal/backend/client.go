// Package backend talks to the upstream scraping service. The service is
// treated as opaque: a health endpoint, an advisory wake endpoint, and a
// work endpoint that may be arbitrarily slow.
package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config controls Client behavior.
type Config struct {
	// BaseURL is the backend's base URL, e.g. https://app.onrender.com.
	BaseURL string
	// ProbeTimeout bounds the /health probe. Short and fixed.
	ProbeTimeout time.Duration
	// WakeTimeout bounds the advisory /wake call.
	WakeTimeout time.Duration
	// ForwardTimeout bounds the work call. Generous, scraping is slow.
	ForwardTimeout time.Duration
}

// Result is the backend's answer to a forwarded work call, passed through
// to the client without reinterpretation.
type Result struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client issues health probes, wake signals, and work calls.
type Client struct {
	base    string
	probe   *http.Client
	wake    *http.Client
	forward *http.Client
	logger  *zap.Logger
}

// New constructs a Client. The base URL must already be validated.
func New(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		probe:   &http.Client{Timeout: cfg.ProbeTimeout},
		wake:    &http.Client{Timeout: cfg.WakeTimeout},
		forward: &http.Client{Timeout: cfg.ForwardTimeout},
		logger:  logger,
	}
}

// Probe checks the backend's health endpoint. Any transport error or
// non-2xx status means the backend is not ready.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		return fmt.Errorf("probe backend: %w", err)
	}
	defer closeBody(resp.Body, c.logger)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe backend: status %d", resp.StatusCode)
	}
	return nil
}

// Wake asks the backend to start up. The call is advisory: callers log the
// error at most and move on.
func (c *Client) Wake(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/wake", nil)
	if err != nil {
		return fmt.Errorf("build wake request: %w", err)
	}
	resp, err := c.wake.Do(req)
	if err != nil {
		return fmt.Errorf("wake backend: %w", err)
	}
	closeBody(resp.Body, c.logger)
	return nil
}

// Forward issues the work call for task, passing rawQuery through
// byte-for-byte, and returns the backend's response verbatim.
func (c *Client) Forward(ctx context.Context, task, rawQuery string) (*Result, error) {
	target := c.base + "/api/" + url.PathEscape(task)
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build forward request: %w", err)
	}
	resp, err := c.forward.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward to backend: %w", err)
	}
	defer closeBody(resp.Body, c.logger)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	return &Result{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func closeBody(body io.ReadCloser, logger *zap.Logger) {
	if err := body.Close(); err != nil {
		logger.Warn("close backend response body", zap.Error(err))
	}
}
