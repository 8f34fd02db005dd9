package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"
)

func echoHandler(delay time.Duration) Handler {
	return HandlerFunc(func(ctx context.Context, name string, input json.RawMessage) (string, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		return string(input), nil
	})
}

func TestExecuteUnknownTool(t *testing.T) {
	d := NewDispatcher()
	res := d.Execute(context.Background(), Call{ID: "1", Name: "Nope"})
	if res.Success {
		t.Fatal("unknown tool should fail")
	}
	if res.Class != ClassNotFound {
		t.Errorf("expected not_found class, got %s", res.Class)
	}
}

func TestExecuteClassifiesFailures(t *testing.T) {
	d := NewDispatcher()
	d.Register("Boom", KindLocal, HandlerFunc(func(ctx context.Context, name string, input json.RawMessage) (string, error) {
		return "", errors.New("operation timed out after 30s")
	}))

	res := d.Execute(context.Background(), Call{ID: "1", Name: "Boom"})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Class != ClassTimeout {
		t.Errorf("expected timeout class, got %s", res.Class)
	}
	if res.DurationMs < 0 {
		t.Errorf("duration must be non-negative, got %d", res.DurationMs)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	d := NewDispatcher()
	d.Register("Panic", KindLocal, HandlerFunc(func(ctx context.Context, name string, input json.RawMessage) (string, error) {
		panic("handler bug")
	}))

	res := d.Execute(context.Background(), Call{ID: "1", Name: "Panic"})
	if res.Success {
		t.Fatal("panicking handler should fail, not crash")
	}
	if !strings.Contains(res.Output, "panicked") {
		t.Errorf("output should mention the panic, got %q", res.Output)
	}
}

func TestExecuteBatchPreservesOrder(t *testing.T) {
	d := NewDispatcher()
	// Later calls finish first; results must still come back in call order.
	d.Register("Echo", KindLocal, HandlerFunc(func(ctx context.Context, name string, input json.RawMessage) (string, error) {
		var p struct {
			N     int `json:"n"`
			Sleep int `json:"sleep"`
		}
		json.Unmarshal(input, &p)
		time.Sleep(time.Duration(p.Sleep) * time.Millisecond)
		return fmt.Sprintf("result-%d", p.N), nil
	}))

	calls := make([]Call, 5)
	for i := range calls {
		calls[i] = Call{
			ID:    fmt.Sprintf("c%d", i),
			Name:  "Echo",
			Input: json.RawMessage(fmt.Sprintf(`{"n":%d,"sleep":%d}`, i, (5-i)*10)),
		}
	}

	results := d.ExecuteBatch(context.Background(), calls, 5)
	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	for i, res := range results {
		want := fmt.Sprintf("result-%d", i)
		if res.Output != want {
			t.Errorf("result %d = %q, want %q", i, res.Output, want)
		}
		if res.ID != calls[i].ID {
			t.Errorf("result %d id = %q, want %q", i, res.ID, calls[i].ID)
		}
	}
}

func TestExecuteBatchRespectsConcurrencyLimit(t *testing.T) {
	d := NewDispatcher()
	var inFlight, peak int64
	var mu sync.Mutex

	d.Register("Slow", KindLocal, HandlerFunc(func(ctx context.Context, name string, input json.RawMessage) (string, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if cur > peak {
			peak = cur
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return "ok", nil
	}))

	calls := make([]Call, 12)
	for i := range calls {
		calls[i] = Call{ID: fmt.Sprintf("c%d", i), Name: "Slow"}
	}

	d.ExecuteBatch(context.Background(), calls, 3)

	mu.Lock()
	defer mu.Unlock()
	if peak > 3 {
		t.Errorf("concurrency peaked at %d, limit was 3", peak)
	}
}

func TestExecuteBatchFailureIsolation(t *testing.T) {
	d := NewDispatcher()
	d.Register("Flaky", KindLocal, HandlerFunc(func(ctx context.Context, name string, input json.RawMessage) (string, error) {
		if string(input) == `"fail"` {
			return "", errors.New("boom")
		}
		return "ok", nil
	}))

	calls := []Call{
		{ID: "a", Name: "Flaky", Input: json.RawMessage(`"ok"`)},
		{ID: "b", Name: "Flaky", Input: json.RawMessage(`"fail"`)},
		{ID: "c", Name: "Flaky", Input: json.RawMessage(`"ok"`)},
	}
	results := d.ExecuteBatch(context.Background(), calls, 7)

	if !results[0].Success || !results[2].Success {
		t.Error("sibling calls must not be affected by one failure")
	}
	if results[1].Success {
		t.Error("failing call should report failure")
	}
}

func TestTruncateResult(t *testing.T) {
	long := strings.Repeat("x", 50000)
	out := TruncateResult(long, 20000)

	notice := out[20000:]
	if !strings.HasPrefix(notice, "\n[truncated") {
		t.Fatalf("expected truncation notice after the cap, got %q", notice[:40])
	}
	if !strings.Contains(notice, "50000") {
		t.Error("notice must carry the original length")
	}

	short := "hello"
	if got := TruncateResult(short, 20000); got != short {
		t.Errorf("short output must pass through unchanged, got %q", got)
	}
}

func TestTruncateResultRuneBoundary(t *testing.T) {
	// "日" is three bytes; a cap of 4 lands mid-rune and must back up to
	// the previous boundary instead of emitting a broken sequence.
	out := TruncateResult(strings.Repeat("日", 10), 4)

	if !utf8.ValidString(out) {
		t.Fatalf("truncated output is not valid UTF-8: %q", out)
	}
	if !strings.HasPrefix(out, "日\n[truncated") {
		t.Errorf("cut not at rune boundary: %q", out[:20])
	}
	if !strings.Contains(out, "showing 1 of 10 characters") {
		t.Errorf("notice counts wrong: %q", out)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorClass
	}{
		{"command timed out after 2m", ClassTimeout},
		{"open /etc/shadow: permission denied", ClassPermission},
		{"stat /tmp/x: no such file or directory", ClassNotFound},
		{"bash: syntax error near unexpected token", ClassSyntax},
		{"invalid parameters: json: cannot unmarshal", ClassInvalidInput},
		{"HTTP 429 too many requests", ClassRateLimit},
		{"dial tcp: connection refused", ClassNetwork},
		{"something odd happened", ClassUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.msg); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	d := NewDispatcher()
	RegisterLocalTools(d, t.TempDir())
	d.Register("inventory_list", KindRemote, echoHandler(0))

	if got := d.KindOf("Read"); got != KindLocal {
		t.Errorf("Read kind = %s, want local", got)
	}
	if got := d.KindOf("inventory_list"); got != KindRemote {
		t.Errorf("inventory_list kind = %s, want remote", got)
	}
	if got := d.KindOf("mystery"); got != KindUnknown {
		t.Errorf("mystery kind = %s, want unknown", got)
	}
}
