package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/task"
)

// InvokeTimeout is the default bound on one call to a tested endpoint.
const InvokeTimeout = 5 * time.Second

// Circuit breaker configuration.
const (
	cbFailureThreshold = 5
	cbCooldown         = 30 * time.Second
)

// Circuit breaker states.
const (
	cbClosed   = iota // Normal operation.
	cbOpen            // Fail fast.
	cbHalfOpen        // Let one trial request through.
)

const maxResponseBytes = 1 << 20

// ErrCircuitOpen is returned when an endpoint failed repeatedly and calls
// to it are rejected without contacting it.
var ErrCircuitOpen = errors.New("endpoint circuit breaker is open")

// EndpointInvoker sends a prompt to an endpoint and returns its output.
type EndpointInvoker interface {
	Invoke(ctx context.Context, ep *models.Endpoint, prompt string) (string, error)
}

type breaker struct {
	state         int
	failures      int
	lastFailureAt time.Time
}

// HTTPInvoker posts prompts as JSON and keeps one circuit breaker per endpoint.
type HTTPInvoker struct {
	client  *http.Client
	timeout time.Duration

	mu       sync.Mutex
	breakers map[string]*breaker
}

type invokeRequest struct {
	Prompt string `json:"prompt"`
}

type invokeResponse struct {
	Output string `json:"output"`
}

// NewHTTPInvoker creates an HTTPInvoker. A non-positive timeout means
// InvokeTimeout.
func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = InvokeTimeout
	}

	return &HTTPInvoker{
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		breakers: make(map[string]*breaker),
	}
}

// Invoke posts {"prompt": ...} to the endpoint URL. A JSON body with an
// "output" field yields that field; any other body is returned as text.
// Client errors other than 408 and 429 are permanent.
func (s *HTTPInvoker) Invoke(ctx context.Context, ep *models.Endpoint, prompt string) (string, error) {
	if err := s.cbAllow(ep.ID); err != nil {
		return "", err
	}

	out, err := s.doInvoke(ctx, ep, prompt)
	if err != nil {
		s.cbRecordFailure(ep.ID)

		return "", err
	}

	s.cbRecordSuccess(ep.ID)

	return out, nil
}

func (s *HTTPInvoker) doInvoke(ctx context.Context, ep *models.Endpoint, prompt string) (string, error) {
	body, err := json.Marshal(invokeRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshaling endpoint request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return "", task.Permanent(fmt.Errorf("creating endpoint request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if ep.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+ep.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling endpoint %s: %w", ep.ID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading endpoint response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("endpoint %s returned status %d", ep.ID, resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return "", task.Permanent(err)
		}
		return "", err
	}

	var decoded invokeResponse
	if json.Unmarshal(raw, &decoded) == nil && decoded.Output != "" {
		return decoded.Output, nil
	}

	return strings.TrimSpace(string(raw)), nil
}

func (s *HTTPInvoker) breakerFor(endpointID string) *breaker {
	b, ok := s.breakers[endpointID]
	if !ok {
		b = &breaker{state: cbClosed}
		s.breakers[endpointID] = b
	}
	return b
}

// cbAllow checks whether the endpoint's breaker permits a request.
// In open state, requests are rejected until the cooldown expires, at which
// point one trial request is let through in half-open state.
func (s *HTTPInvoker) cbAllow(endpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.breakerFor(endpointID)

	switch b.state {
	case cbOpen:
		if time.Since(b.lastFailureAt) >= cbCooldown {
			b.state = cbHalfOpen

			return nil
		}

		return ErrCircuitOpen
	case cbHalfOpen:
		// Already probing.
		return ErrCircuitOpen
	}

	return nil
}

func (s *HTTPInvoker) cbRecordSuccess(endpointID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.breakerFor(endpointID)
	b.failures = 0
	b.state = cbClosed
}

func (s *HTTPInvoker) cbRecordFailure(endpointID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.breakerFor(endpointID)
	b.failures++
	b.lastFailureAt = time.Now()

	if b.failures >= cbFailureThreshold || b.state == cbHalfOpen {
		b.state = cbOpen
	}
}
