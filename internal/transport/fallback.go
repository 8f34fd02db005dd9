package transport

import (
	"context"
	"log"
	"sync"
)

// Fallback chains two backends: everything goes to primary until primary
// answers with a not-deployed signal, after which secondary takes over for
// the rest of the process. Other errors do not trigger the switch; they
// surface to the caller as-is.
type Fallback struct {
	primary   Transport
	secondary Transport

	mu       sync.Mutex
	demoted  bool
}

// NewFallback creates a fallback chain over the two backends.
func NewFallback(primary, secondary Transport) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

// Stream routes the request to the active backend.
func (f *Fallback) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	f.mu.Lock()
	demoted := f.demoted
	f.mu.Unlock()

	if !demoted {
		ch, err := f.primary.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		if !IsNotDeployed(err) {
			return nil, err
		}
		log.Printf("[transport] proxy not deployed, switching to direct backend")
		f.mu.Lock()
		f.demoted = true
		f.mu.Unlock()
	}

	return f.secondary.Stream(ctx, req)
}
