package engine

import (
	"context"
	"log"
	"time"

	"github.com/floradistro/whale/internal/transport"
)

// maxRetries is how many times a transient transport failure is retried
// after the initial attempt.
const maxRetries = 3

// retryBaseDelay is the first backoff; each attempt doubles it. Variable so
// tests can shrink the waits.
var retryBaseDelay = time.Second

// backoffDelay returns the wait before retry attempt n (0-indexed).
func backoffDelay(attempt int) time.Duration {
	return retryBaseDelay << attempt
}

// roundTripWithRetry runs one model round-trip, retrying transient failures
// with exponential backoff. Mid-stream error events count the same as
// connection failures. On the final retry it switches to the fallback model
// when one is configured, trading model quality for finishing the turn.
// Non-transient errors surface immediately.
func (e *Engine) roundTripWithRetry(ctx context.Context, req transport.Request) (*modelResponse, error) {
	resp, err := e.roundTripOnce(ctx, req)
	if err == nil {
		return resp, nil
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if IsCancelled(err) || !transport.IsTransient(err) {
			return nil, err
		}

		delay := backoffDelay(attempt)
		log.Printf("[engine] transient transport error (attempt %d/%d), retrying in %v: %v",
			attempt+1, maxRetries, delay, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		if attempt == maxRetries-1 && e.cfg.FallbackModel != "" && req.Model != e.cfg.FallbackModel {
			log.Printf("[engine] final retry, switching model %s -> %s", req.Model, e.cfg.FallbackModel)
			req.Model = e.cfg.FallbackModel
		}

		resp, err = e.roundTripOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
	}

	return nil, err
}
