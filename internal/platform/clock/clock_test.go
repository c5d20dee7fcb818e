package clock

import (
	"testing"
	"time"
)

func TestFixed_Advance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFixed(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	got := c.Advance(90 * time.Minute)
	if want := start.Add(90 * time.Minute); !got.Equal(want) || !c.Now().Equal(want) {
		t.Errorf("expected %v after advance, got %v", want, got)
	}
}

func TestNew_IsUTC(t *testing.T) {
	if loc := New().Now().Location(); loc != time.UTC {
		t.Errorf("expected UTC, got %v", loc)
	}
}
