package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit status", &ProtocolError{StatusCode: 429, Message: "slow down"}, true},
		{"server error", &ProtocolError{StatusCode: 500, Message: "boom"}, true},
		{"overloaded status", &ProtocolError{StatusCode: 529, Message: "overloaded"}, true},
		{"auth failure", &ProtocolError{StatusCode: 401, Message: "bad key"}, false},
		{"bad request", &ProtocolError{StatusCode: 400, Message: "invalid"}, false},
		{"timeout message", errors.New("request timed out"), true},
		{"overload message", &ProtocolError{Message: "provider overloaded"}, true},
		{"plain failure", errors.New("no such model"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsNotDeployed(t *testing.T) {
	if !IsNotDeployed(fmt.Errorf("wrap: %w", ErrNotDeployed)) {
		t.Error("wrapped ErrNotDeployed should match")
	}
	if !IsNotDeployed(&ProtocolError{Code: "not_deployed", Message: "x"}) {
		t.Error("not_deployed code should match")
	}
	if !IsNotDeployed(&ProtocolError{Message: "service not deployed in this region"}) {
		t.Error("not deployed message should match")
	}
	if IsNotDeployed(&ProtocolError{StatusCode: 500, Message: "boom"}) {
		t.Error("server error should not match")
	}
}

// fakeTransport counts calls and returns a fixed error or a closed stream.
type fakeTransport struct {
	calls int
	err   error
}

func (f *fakeTransport) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan Event)
	close(ch)
	return ch, nil
}

func TestFallbackSwitchesOnNotDeployed(t *testing.T) {
	primary := &fakeTransport{err: fmt.Errorf("gateway: %w", ErrNotDeployed)}
	secondary := &fakeTransport{}
	fb := NewFallback(primary, secondary)

	if _, err := fb.Stream(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondary.calls != 1 {
		t.Errorf("expected secondary to be called once, got %d", secondary.calls)
	}

	// Once demoted, the primary is not retried.
	if _, err := fb.Stream(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("expected primary to stay demoted, got %d calls", primary.calls)
	}
}

func TestFallbackDoesNotSwitchOnOtherErrors(t *testing.T) {
	primary := &fakeTransport{err: &ProtocolError{StatusCode: 500, Message: "boom"}}
	secondary := &fakeTransport{}
	fb := NewFallback(primary, secondary)

	if _, err := fb.Stream(context.Background(), Request{}); err == nil {
		t.Fatal("expected error to surface")
	}
	if secondary.calls != 0 {
		t.Errorf("secondary should not be called on non-deploy errors, got %d", secondary.calls)
	}
}

func TestProxyStreamDecodesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"message_start","usage":{"input_tokens":10,"output_tokens":0}}`)
		fmt.Fprintln(w, `{"type":"block_start","index":0,"block":{"type":"text"}}`)
		fmt.Fprintln(w, `{"type":"block_delta","index":0,"delta":"text","text":"hello"}`)
		fmt.Fprintln(w, `{"type":"block_stop","index":0}`)
		fmt.Fprintln(w, `{"type":"message_delta","stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":3}}`)
	}))
	defer srv.Close()

	p := NewProxy(ProxyConfig{BaseURL: srv.URL})
	ch, err := p.Stream(context.Background(), Request{Model: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}

	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[0].Type != EventMessageStart || events[0].Usage == nil || events[0].Usage.InputTokens != 10 {
		t.Errorf("bad message_start: %+v", events[0])
	}
	if events[2].Type != EventBlockDelta || events[2].Text != "hello" {
		t.Errorf("bad block_delta: %+v", events[2])
	}
	if events[4].StopReason != StopEndTurn {
		t.Errorf("bad stop reason: %+v", events[4])
	}
}

func TestProxyNotDeployed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewProxy(ProxyConfig{BaseURL: srv.URL})
	_, err := p.Stream(context.Background(), Request{})
	if !IsNotDeployed(err) {
		t.Fatalf("expected not-deployed signal, got %v", err)
	}
}
