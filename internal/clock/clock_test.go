package clock

import (
	"testing"
	"time"
)

func TestFixedToday(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	c := NewFixed(time.Date(2024, 5, 1, 23, 30, 0, 0, loc))

	if got := Today(c).String(); got != "2024-05-01" {
		t.Fatalf("got %s want 2024-05-01", got)
	}

	c.Advance(time.Hour)
	if got := Today(c).String(); got != "2024-05-02" {
		t.Fatalf("got %s want 2024-05-02 after crossing midnight", got)
	}
}

func TestLoadLocation(t *testing.T) {
	for _, name := range []string{"", "Local"} {
		loc, err := LoadLocation(name)
		if err != nil || loc != time.Local {
			t.Fatalf("LoadLocation(%q) = %v, %v", name, loc, err)
		}
	}
	if _, err := LoadLocation("Not/AZone"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}

func TestSystemClockLocation(t *testing.T) {
	c, err := NewSystem("UTC")
	if err != nil {
		t.Fatal(err)
	}
	if c.Now().Location() != c.Location() {
		t.Fatal("Now should be expressed in the configured location")
	}
}
