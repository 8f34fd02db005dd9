package breaker

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBlocksThirdIdenticalFailure(t *testing.T) {
	b := New()
	input := map[string]any{"path": "/tmp/x", "mode": "read"}

	// First two identical failures pass through.
	for i := 0; i < 2; i++ {
		v := b.RecordCall("Read", input)
		if v.Blocked {
			t.Fatalf("call %d should not be blocked", i+1)
		}
		b.RecordResult("Read", false, input)
	}

	v := b.RecordCall("Read", input)
	if !v.Blocked {
		t.Fatal("third identical failing call should be blocked")
	}
	if v.Reason == "" {
		t.Error("blocked verdict must carry a reason")
	}
	// Two failures happened before the blocked attempt; the reason reports
	// the failure count, not the attempt number.
	if !strings.Contains(v.Reason, "failed 2 consecutive times") {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New()
	input := `{"cmd":"ls"}`

	b.RecordCall("Bash", input)
	b.RecordResult("Bash", false, input)
	b.RecordCall("Bash", input)
	b.RecordResult("Bash", true, input)
	b.RecordCall("Bash", input)
	b.RecordResult("Bash", false, input)

	if v := b.RecordCall("Bash", input); v.Blocked {
		t.Error("success in between should reset the consecutive failure count")
	}
}

func TestDifferentInputNotBlocked(t *testing.T) {
	b := New()
	for i := 0; i < 3; i++ {
		b.RecordCall("Read", `{"path":"/a"}`)
		b.RecordResult("Read", false, `{"path":"/a"}`)
	}
	if v := b.RecordCall("Read", `{"path":"/b"}`); v.Blocked {
		t.Error("a different input must not inherit another signature's failures")
	}
}

func TestSignatureStableAcrossKeyOrder(t *testing.T) {
	a := Signature("t", map[string]any{"a": 1, "b": 2})
	b := Signature("t", map[string]any{"b": 2, "a": 1})
	if a != b {
		t.Errorf("signatures differ for equivalent maps: %s vs %s", a, b)
	}
}

func TestSignatureToleratesAnyInput(t *testing.T) {
	// Values that json.Marshal cannot encode must still produce a signature.
	inputs := []any{nil, "text", 42, 3.14, []byte("raw"), json.RawMessage(`{"k":1}`), make(chan int), func() {}}
	for _, in := range inputs {
		if sig := Signature("tool", in); sig == "" {
			t.Errorf("empty signature for input %T", in)
		}
	}
}

func TestEndTurnBailsOnFruitlessRepeats(t *testing.T) {
	b := New()
	for i := 0; i < DefaultRepeatBailCount; i++ {
		b.RecordCall("Grep", `{"pattern":"x"}`)
		b.RecordResult("Grep", false, `{"pattern":"x"}`)
	}

	bail := b.EndTurn()
	if !bail.ShouldBail {
		t.Fatal("expected bail after repeated fruitless calls")
	}
	if !strings.Contains(bail.Message, "Grep") {
		t.Errorf("bail message should name the tool, got %q", bail.Message)
	}
}

func TestEndTurnNoBailWithSuccesses(t *testing.T) {
	b := New()
	for i := 0; i < DefaultRepeatBailCount; i++ {
		b.RecordCall("Grep", `{"pattern":"x"}`)
		b.RecordResult("Grep", false, `{"pattern":"x"}`)
	}
	b.RecordCall("Read", `{"path":"/a"}`)
	b.RecordResult("Read", true, `{"path":"/a"}`)

	if bail := b.EndTurn(); bail.ShouldBail {
		t.Error("a turn with a successful result should not bail")
	}
}

func TestResetTurnClearsCounters(t *testing.T) {
	b := New()
	for i := 0; i < DefaultRepeatBailCount; i++ {
		b.RecordCall("Glob", `{"pattern":"*"}`)
		b.RecordResult("Glob", false, `{"pattern":"*"}`)
	}
	b.ResetTurn()

	if bail := b.EndTurn(); bail.ShouldBail {
		t.Error("ResetTurn should clear per-turn counters")
	}

	// Failure counts survive the turn boundary.
	if v := b.RecordCall("Glob", `{"pattern":"*"}`); !v.Blocked {
		t.Error("consecutive failure count should survive ResetTurn")
	}
}
