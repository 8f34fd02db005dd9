package notify

import (
	"testing"
)

func TestSignalsStopPauseLifecycle(t *testing.T) {
	s, err := NewSignals(t.TempDir())
	if err != nil {
		t.Fatalf("NewSignals: %v", err)
	}
	defer s.Close()

	if s.ShouldStop() || s.ShouldPause() {
		t.Fatal("signals set on fresh manager")
	}

	if err := s.SendStop(); err != nil {
		t.Fatalf("SendStop: %v", err)
	}
	if !s.ShouldStop() {
		t.Error("stop signal not observed")
	}
	if s.ShouldPause() {
		t.Error("pause set by stop signal")
	}

	if err := s.SendPause(); err != nil {
		t.Fatalf("SendPause: %v", err)
	}
	if !s.ShouldPause() {
		t.Error("pause signal not observed")
	}

	s.Clear()
	if s.ShouldStop() || s.ShouldPause() {
		t.Error("signals survived Clear")
	}
}

func TestSignalsCrossProcessVisibility(t *testing.T) {
	root := t.TempDir()
	sender, err := NewSignals(root)
	if err != nil {
		t.Fatalf("NewSignals: %v", err)
	}
	defer sender.Close()
	receiver, err := NewSignals(root)
	if err != nil {
		t.Fatalf("NewSignals: %v", err)
	}
	defer receiver.Close()

	if err := sender.SendStop(); err != nil {
		t.Fatalf("SendStop: %v", err)
	}
	// The stat fallback sees the sentinel even if the watcher event is
	// still in flight.
	if !receiver.ShouldStop() {
		t.Error("stop signal not visible to second manager")
	}
}
