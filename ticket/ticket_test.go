package ticket

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestValidAt(t *testing.T) {
	tests := []struct {
		name   string
		ticket Ticket
		want   bool
	}{
		{"active expiring in an hour", Ticket{Status: Active, ExpiryTime: now.Add(time.Hour)}, true},
		{"active but already expired", Ticket{Status: Active, ExpiryTime: now.Add(-time.Second)}, false},
		{"active expiring exactly now", Ticket{Status: Active, ExpiryTime: now}, false},
		{"swept", Ticket{Status: Expired, ExpiryTime: now.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ticket.ValidAt(now); got != tt.want {
				t.Errorf("ValidAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanFor(t *testing.T) {
	p, err := PlanFor(Week)
	if err != nil {
		t.Fatalf("PlanFor(Week): %v", err)
	}
	if p.Duration != 7*24*time.Hour || p.Price != 3000 {
		t.Errorf("unexpected week plan %+v", p)
	}

	if _, err := PlanFor("FOREVER"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestPlansIsACopy(t *testing.T) {
	ps := Plans()
	ps[0].Price = 0
	if p, _ := PlanFor(ps[0].Type); p.Price == 0 {
		t.Error("mutating Plans() result changed the catalogue")
	}
}

func TestExpiryFor(t *testing.T) {
	plan, _ := PlanFor(OneHour)

	if got := expiryFor(plan, now, nil); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("fresh ticket: got %v", got)
	}

	past := now.Add(-time.Minute)
	if got := expiryFor(plan, now, &past); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("after lapsed ticket: got %v", got)
	}

	future := now.Add(30 * time.Minute)
	if got := expiryFor(plan, now, &future); !got.Equal(future.Add(time.Hour)) {
		t.Errorf("stacked ticket: got %v", got)
	}
}
