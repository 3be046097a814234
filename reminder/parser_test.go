package reminder

import (
	"testing"
	"time"
)

func TestParseTrigger(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 20, 15, 0, 0, 0, loc)
	p := NewTimeParser(loc)
	p.now = func() time.Time { return now }

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"2026-03-21T09:30:00Z", time.Date(2026, 3, 21, 9, 30, 0, 0, loc), false},
		{"in 30 minutes", now.Add(30 * time.Minute), false},
		{"in 2 hours", now.Add(2 * time.Hour), false},
		{"in 1 day", now.AddDate(0, 0, 1), false},
		{"in 2 weeks", now.AddDate(0, 0, 14), false},
		{"tomorrow at 3pm", time.Date(2026, 3, 21, 15, 0, 0, 0, loc), false},
		{"tomorrow at 9:30am", time.Date(2026, 3, 21, 9, 30, 0, 0, loc), false},
		{"Tomorrow 10:15", time.Date(2026, 3, 21, 10, 15, 0, 0, loc), false},
		{"2026-04-01 08:00", time.Date(2026, 4, 1, 8, 0, 0, 0, loc), false},
		{"17:45", time.Date(2026, 3, 20, 17, 45, 0, 0, loc), false},
		{"5:45 pm", time.Date(2026, 3, 20, 17, 45, 0, 0, loc), false},
		{"", time.Time{}, true},
		{"in two hours", time.Time{}, true},
		{"in 3 fortnights", time.Time{}, true},
		{"every day", time.Time{}, true},
		{"someday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := p.ParseTrigger(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTrigger(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseTrigger(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTriggerUsesLocation(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skip("tzdata not available")
	}
	p := NewTimeParser(kolkata)
	p.now = func() time.Time { return time.Date(2026, 3, 20, 10, 0, 0, 0, kolkata) }

	got, err := p.ParseTrigger("tomorrow at 9am")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 21, 3, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got.UTC(), want)
	}
}

func TestParseRepeat(t *testing.T) {
	p := NewTimeParser(time.UTC)

	tests := []struct {
		input        string
		wantInterval RepeatInterval
		wantMinutes  int
		wantErr      bool
	}{
		{"", RepeatNone, 0, false},
		{"none", RepeatNone, 0, false},
		{"daily", RepeatDaily, 0, false},
		{"Weekly", RepeatWeekly, 0, false},
		{"every 90 minutes", RepeatCustom, 90, false},
		{"every 2 hours", RepeatCustom, 120, false},
		{"every 1 day", RepeatDaily, 0, false},
		{"every 3 days", RepeatCustom, 3 * 24 * 60, false},
		{"every 2 weeks", RepeatCustom, 14 * 24 * 60, false},
		{"custom:15", RepeatCustom, 15, false},
		{"every 0 minutes", "", 0, true},
		{"custom:-5", "", 0, true},
		{"monthly", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			interval, minutes, err := p.ParseRepeat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRepeat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if interval != tt.wantInterval || minutes != tt.wantMinutes {
				t.Errorf("ParseRepeat(%q) = (%s, %d), want (%s, %d)", tt.input, interval, minutes, tt.wantInterval, tt.wantMinutes)
			}
		})
	}
}
