package staleguard

import (
	"encoding/json"
	"testing"
)

func TestConsecutiveErrorsTripsGuard(t *testing.T) {
	g := New(Config{})
	input := json.RawMessage(`{"a":1}`)
	var err error
	for i := 0; i < DefaultConsecutiveErrorLimit; i++ {
		err = g.Record("bash", input, true, false)
	}
	if err == nil {
		t.Fatal("expected stall after consecutive errors")
	}
	se, ok := err.(*StalledError)
	if !ok || se.Reason != "consecutive-errors" {
		t.Fatalf("expected consecutive-errors reason, got %v", err)
	}
}

func TestErrorResetsOnSuccess(t *testing.T) {
	g := New(Config{})
	input := json.RawMessage(`{}`)
	for i := 0; i < DefaultConsecutiveErrorLimit-1; i++ {
		if err := g.Record("bash", input, true, false); err != nil {
			t.Fatalf("unexpected stall: %v", err)
		}
	}
	if err := g.Record("bash", input, false, false); err != nil {
		t.Fatalf("unexpected stall on success: %v", err)
	}
	for i := 0; i < DefaultConsecutiveErrorLimit-1; i++ {
		if err := g.Record("bash", input, true, false); err != nil {
			t.Fatalf("unexpected stall after reset: %v", err)
		}
	}
}

func TestConsecutiveEmptyTripsGuard(t *testing.T) {
	g := New(Config{})
	input := json.RawMessage(`{}`)
	var err error
	for i := 0; i < DefaultConsecutiveEmptyLimit; i++ {
		err = g.Record("search", input, false, true)
	}
	if err == nil {
		t.Fatal("expected stall after consecutive empty results")
	}
	if se, ok := err.(*StalledError); !ok || se.Reason != "consecutive-empty" {
		t.Fatalf("expected consecutive-empty reason, got %v", err)
	}
}

func TestRepeatedSignatureTripsGuard(t *testing.T) {
	g := New(Config{})
	input := json.RawMessage(`{"q":"same"}`)
	var err error
	for i := 0; i < DefaultSignatureRepeatLimit; i++ {
		err = g.Record("search", input, false, false)
	}
	if err == nil {
		t.Fatal("expected stall after repeated identical calls")
	}
	if se, ok := err.(*StalledError); !ok || se.Reason != "recent-signatures" {
		t.Fatalf("expected recent-signatures reason, got %v", err)
	}
}

func TestSignatureWindowEvictsOldEntries(t *testing.T) {
	g := New(Config{SignatureWindow: 4, SignatureRepeatLimit: 3})
	a := json.RawMessage(`{"q":"a"}`)
	b := json.RawMessage(`{"q":"b"}`)

	// Two calls to "a", then enough distinct calls to evict them from
	// the window, then two more calls to "a" should not trip (only 2
	// within the current window, not 3).
	if err := g.Record("search", a, false, false); err != nil {
		t.Fatalf("unexpected stall: %v", err)
	}
	if err := g.Record("search", a, false, false); err != nil {
		t.Fatalf("unexpected stall: %v", err)
	}
	if err := g.Record("search", b, false, false); err != nil {
		t.Fatalf("unexpected stall: %v", err)
	}
	if err := g.Record("search", b, false, false); err != nil {
		t.Fatalf("unexpected stall: %v", err)
	}
	if err := g.Record("search", a, false, false); err != nil {
		t.Fatalf("unexpected stall: %v", err)
	}
	if err := g.Record("search", a, false, false); err != nil {
		t.Fatalf("unexpected stall: %v", err)
	}
}

func TestResetClearsState(t *testing.T) {
	g := New(Config{})
	input := json.RawMessage(`{}`)
	for i := 0; i < DefaultConsecutiveErrorLimit-1; i++ {
		_ = g.Record("bash", input, true, false)
	}
	g.Reset()
	for i := 0; i < DefaultConsecutiveErrorLimit-1; i++ {
		if err := g.Record("bash", input, true, false); err != nil {
			t.Fatalf("unexpected stall after reset: %v", err)
		}
	}
}
