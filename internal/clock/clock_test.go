package clock

import (
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if !f.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, f.Now())
	}

	f.Advance(40 * time.Minute)
	if want := start.Add(40 * time.Minute); !f.Now().Equal(want) {
		t.Errorf("expected %v, got %v", want, f.Now())
	}

	later := start.Add(48 * time.Hour)
	f.Set(later)
	if !f.Now().Equal(later) {
		t.Errorf("expected %v, got %v", later, f.Now())
	}
}

func TestRealIsCurrent(t *testing.T) {
	before := time.Now()
	got := Real().Now()
	if got.Before(before) {
		t.Errorf("real clock went backwards: %v < %v", got, before)
	}
}
