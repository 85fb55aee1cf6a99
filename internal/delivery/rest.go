package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vincentbai/shoptrace/internal/models"
)

const (
	SessionsPath = "/rest/v1/analytics_sessions"
	EventsPath   = "/rest/v1/analytics_events"
)

// Doer is the part of *http.Client the REST client uses.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client tuned for small, frequent JSON posts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: true,
		MaxIdleConns:      10,
		IdleConnTimeout:   90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: tr,
	}
}

// RESTClient talks to a PostgREST-style ingestion endpoint: one table per
// record type, inserts as JSON POSTs.
type RESTClient struct {
	baseURL         string
	apiKey          string
	client          Doer
	reliableTimeout time.Duration
}

func NewRESTClient(baseURL, apiKey string, client Doer, reliableTimeout time.Duration) *RESTClient {
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	if reliableTimeout <= 0 {
		reliableTimeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL:         strings.TrimRight(baseURL, "/"),
		apiKey:          apiKey,
		client:          client,
		reliableTimeout: reliableTimeout,
	}
}

func (c *RESTClient) InsertSession(ctx context.Context, session models.Session) error {
	return c.post(ctx, SessionsPath, session)
}

func (c *RESTClient) InsertEvents(ctx context.Context, events []models.Event) error {
	return c.post(ctx, EventsPath, models.Batch(events))
}

// SendReliable detaches from the caller's cancellation so the request can
// outlive the unload handler, bounded only by the reliable timeout.
func (c *RESTClient) SendReliable(ctx context.Context, events []models.Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.reliableTimeout)
	defer cancel()
	return c.post(ctx, EventsPath, models.Batch(events))
}

func (c *RESTClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("endpoint returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
