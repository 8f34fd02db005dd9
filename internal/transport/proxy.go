package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Proxy is the mediated backend. It posts the request to a deployment-owned
// gateway and reads back newline-delimited JSON events already in the
// normalized Event shape.
type Proxy struct {
	baseURL string
	token   string
	client  *http.Client
}

// ProxyConfig contains configuration for the mediated backend.
type ProxyConfig struct {
	// BaseURL is the gateway root, e.g. "https://gateway.internal".
	BaseURL string
	// Token is the bearer token presented to the gateway.
	Token string
	// Timeout bounds the whole streamed call. Zero means 10 minutes.
	Timeout time.Duration
}

// NewProxy creates the mediated backend.
func NewProxy(cfg ProxyConfig) *Proxy {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &Proxy{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Stream posts the request and forwards decoded events until the body ends
// or ctx is cancelled.
func (p *Proxy) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("proxy call failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		pe := &ProtocolError{StatusCode: resp.StatusCode, Message: string(msg)}
		// A gateway that is not stood up for this deployment answers 404
		// or an explicit not_deployed code; that is the fallback signal.
		if resp.StatusCode == http.StatusNotFound || IsNotDeployed(pe) {
			return nil, fmt.Errorf("%w: %s", ErrNotDeployed, pe.Message)
		}
		return nil, pe
	}

	ch := make(chan Event, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				ev = Event{Type: EventError, Err: &ProtocolError{Message: fmt.Sprintf("malformed event: %v", err)}}
			}

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == EventError {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- Event{Type: EventError, Err: &ProtocolError{Message: fmt.Sprintf("stream read failed: %v", err)}}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
