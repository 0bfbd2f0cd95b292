package session

import (
	"testing"
	"time"

	"openrange/pkg/model"
)

func at(hour, minute, second int) time.Time {
	return time.Date(2024, 3, 15, hour, minute, second, 0, time.UTC)
}

func TestInSession_Boundaries(t *testing.T) {
	c := NewClassifier(USEquities())

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"pre-market", at(9, 29, 0), false},
		{"open boundary inclusive", at(9, 30, 0), true},
		{"open minute with seconds", at(9, 30, 45), true},
		{"midday", at(12, 0, 0), true},
		{"last minute", at(15, 59, 59), true},
		{"close boundary exclusive", at(16, 0, 0), false},
		{"after hours", at(17, 0, 0), false},
		{"midnight", at(0, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.InSession(tt.t); got != tt.want {
				t.Errorf("InSession(%s) = %v, want %v", tt.t.Format("15:04:05"), got, tt.want)
			}
		})
	}
}

func TestInSession_MonotonicWithinDay(t *testing.T) {
	c := NewClassifier(USEquities())

	// false before open, true until close, false from close onwards
	phase := 0
	for m := 0; m < 24*60; m++ {
		in := c.InSession(at(m/60, m%60, 0))
		switch phase {
		case 0:
			if in {
				phase = 1
			}
		case 1:
			if !in {
				phase = 2
			}
		case 2:
			if in {
				t.Fatalf("InSession flipped back to true at minute %d", m)
			}
		}
	}
	if phase != 2 {
		t.Errorf("Expected to observe open and close transitions, ended in phase %d", phase)
	}
}

func TestInSession_ForceAll(t *testing.T) {
	cfg := USEquities()
	cfg.ForceAll = true
	c := NewClassifier(cfg)

	if !c.InSession(at(3, 0, 0)) || !c.InSession(at(20, 0, 0)) {
		t.Error("Expected every timestamp to be in-session with ForceAll")
	}
}

func TestFindOpenBar_ExactMatchOnly(t *testing.T) {
	c := NewClassifier(USEquities())

	withoutOpen := []model.Bar{
		{Time: at(9, 35, 0), Close: 101},
		{Time: at(9, 31, 0), Close: 100},
		{Time: at(10, 0, 0), Close: 102},
	}
	if _, ok := c.FindOpenBar(withoutOpen); ok {
		t.Error("Expected no open bar when 09:30:00 is missing")
	}

	withSeconds := []model.Bar{{Time: at(9, 30, 30)}}
	if _, ok := c.FindOpenBar(withSeconds); ok {
		t.Error("Expected 09:30:30 not to count as the session open")
	}

	unordered := []model.Bar{
		{Time: at(10, 0, 0), Close: 102},
		{Time: at(9, 30, 0), Close: 100},
		{Time: at(9, 35, 0), Close: 101},
	}
	bar, ok := c.FindOpenBar(unordered)
	if !ok {
		t.Fatal("Expected to find the open bar")
	}
	if bar.Close != 100 {
		t.Errorf("Expected open bar close 100, got %f", bar.Close)
	}
}

func TestAnnotate_FallbackPolicy(t *testing.T) {
	overnight := func() []model.Bar {
		return []model.Bar{
			{Time: at(17, 0, 0)},
			{Time: at(18, 0, 0)},
		}
	}

	bars := overnight()
	if NewClassifier(USEquities()).Annotate(bars) {
		t.Error("Expected no fallback with FallbackNone")
	}
	for _, b := range bars {
		if b.InSession {
			t.Error("Expected overnight bars to stay out of session")
		}
	}

	cfg := USEquities()
	cfg.Fallback = FallbackAllBars
	bars = overnight()
	if !NewClassifier(cfg).Annotate(bars) {
		t.Fatal("Expected fallback to be applied")
	}
	for _, b := range bars {
		if !b.InSession {
			t.Error("Expected every bar in-session after fallback")
		}
	}
}

func TestAnnotate_MarksOpenBar(t *testing.T) {
	bars := []model.Bar{{Time: at(9, 30, 0)}, {Time: at(9, 35, 0)}}
	NewClassifier(USEquities()).Annotate(bars)

	if !bars[0].IsSessionOpen || bars[1].IsSessionOpen {
		t.Errorf("Expected only the 09:30 bar flagged as open, got %v/%v", bars[0].IsSessionOpen, bars[1].IsSessionOpen)
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c != NewClock(9, 30) || c.String() != "09:30" {
		t.Errorf("Expected 09:30, got %s", c)
	}

	if _, err := ParseClock("9h30"); err == nil {
		t.Error("Expected error for malformed clock")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := USEquities()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default session to be valid: %v", err)
	}

	cfg.Close = cfg.Open
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when close is not after open")
	}

	cfg = USEquities()
	cfg.Fallback = "retry"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown fallback policy")
	}
}
