package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/forgeline/forgeline/pkg/config"
	"github.com/forgeline/forgeline/pkg/version"
)

// Pool is the pooled HTTP client against the local model server.
// A weighted semaphore sized to the connection cap guards every outbound
// call, so in-flight requests never exceed the cap regardless of caller
// concurrency.
type Pool struct {
	baseURL string
	client  *http.Client
	sem     *semaphore.Weighted
	cap     int64
	closed  atomic.Bool
}

// NewPool creates a connection pool from configuration.
func NewPool(cfg *config.PoolConfig) *Pool {
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxKeepAliveOrDefault(),
		ForceAttemptHTTP2:   cfg.EnableHTTP2,
	}
	return &Pool{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		sem: semaphore.NewWeighted(int64(cfg.MaxConnections)),
		cap: int64(cfg.MaxConnections),
	}
}

// BaseURL returns the configured model server URL.
func (p *Pool) BaseURL() string { return p.baseURL }

// Closed reports whether the pool has been shut down.
func (p *Pool) Closed() bool { return p == nil || p.closed.Load() }

// Request performs a buffered request and returns the response body.
// Non-2xx statuses are returned as *StatusError.
func (p *Pool) Request(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	resp, err := p.do(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: method + " " + endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// Stream performs a request and returns the raw body for chunked reading.
// The caller must Close the returned body; the pool slot is held until then.
func (p *Pool) Stream(ctx context.Context, method, endpoint string, body any) (io.ReadCloser, error) {
	resp, err := p.do(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		p.sem.Release(1)
		return nil, &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	return &pooledBody{ReadCloser: resp.Body, pool: p}, nil
}

// do acquires a pool slot and issues the request. On error the slot is
// released before returning; on success the caller owns the release.
func (p *Pool) do(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if p == nil {
		return nil, ErrPoolNotInitialized
	}
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire pool slot: %w", err)
	}
	// Re-check after a potentially long wait for a slot.
	if p.closed.Load() {
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			p.sem.Release(1)
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, reader)
	if err != nil {
		p.sem.Release(1)
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())

	resp, err := p.client.Do(req)
	if err != nil {
		p.sem.Release(1)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Op: method + " " + endpoint, Timeout: p.client.Timeout}
		}
		if ctx.Err() == context.Canceled {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: method + " " + endpoint, Err: err}
	}
	return resp, nil
}

// Close drains idle connections and rejects further use. Idempotent.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	if t, ok := p.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// StatusError is a non-2xx HTTP response from the model server.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model server returned %d: %s", e.Status, e.Body)
}

// pooledBody releases the pool slot when the stream body is closed.
type pooledBody struct {
	io.ReadCloser
	pool     *Pool
	released atomic.Bool
}

func (b *pooledBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.released.Swap(true) {
		b.pool.sem.Release(1)
	}
	return err
}
