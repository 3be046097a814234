package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeParser handles parsing of natural language time expressions
type TimeParser struct {
	location *time.Location
	now      Clock
}

// NewTimeParser creates a new TimeParser instance
func NewTimeParser(location *time.Location) *TimeParser {
	if location == nil {
		location = time.UTC
	}
	return &TimeParser{location: location, now: time.Now}
}

// ParseTrigger parses a trigger time: RFC3339, "in 2 hours", "tomorrow at 3pm",
// "2026-03-20 15:04" or a time of day ("15:04", "3:04pm") meaning today.
func (p *TimeParser) ParseTrigger(input string) (time.Time, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	input = strings.ToLower(raw)

	if strings.HasPrefix(input, "every") {
		return time.Time{}, fmt.Errorf("recurring schedules go into the repeat field")
	}

	// Handle relative time expressions
	if strings.HasPrefix(input, "in ") {
		return p.parseRelativeTime(strings.TrimPrefix(input, "in "))
	}

	// Handle "tomorrow at X" format
	if strings.HasPrefix(input, "tomorrow") {
		timeStr := strings.TrimPrefix(input, "tomorrow")
		timeStr = strings.TrimPrefix(strings.TrimSpace(timeStr), "at")
		return p.parseTomorrowTime(timeStr)
	}

	return p.parseAbsoluteTime(input)
}

var everyPattern = regexp.MustCompile(`^every\s+(\d+)\s+(minute|hour|day|week)s?$`)

// ParseRepeat parses a repeat expression into an interval and, for custom intervals, its
// length in minutes. "", "none" and "once" mean no repetition.
func (p *TimeParser) ParseRepeat(input string) (RepeatInterval, int, error) {
	input = strings.ToLower(strings.TrimSpace(input))

	switch input {
	case "", "none", "once":
		return RepeatNone, 0, nil
	case "daily", "day", "every day":
		return RepeatDaily, 0, nil
	case "weekly", "week", "every week":
		return RepeatWeekly, 0, nil
	}

	if m := everyPattern.FindStringSubmatch(input); m != nil {
		amount, err := strconv.Atoi(m[1])
		if err != nil || amount <= 0 {
			return "", 0, fmt.Errorf("invalid repeat amount: %s", m[1])
		}
		switch m[2] {
		case "minute":
			return RepeatCustom, amount, nil
		case "hour":
			return RepeatCustom, amount * 60, nil
		case "day":
			if amount == 1 {
				return RepeatDaily, 0, nil
			}
			return RepeatCustom, amount * 24 * 60, nil
		case "week":
			if amount == 1 {
				return RepeatWeekly, 0, nil
			}
			return RepeatCustom, amount * 7 * 24 * 60, nil
		}
	}

	if strings.HasPrefix(input, "custom:") {
		minutes, err := strconv.Atoi(strings.TrimPrefix(input, "custom:"))
		if err != nil || minutes <= 0 {
			return "", 0, fmt.Errorf("invalid custom interval: %s", input)
		}
		return RepeatCustom, minutes, nil
	}

	return "", 0, fmt.Errorf("unsupported repeat pattern: %s", input)
}

func (p *TimeParser) parseRelativeTime(input string) (time.Time, error) {
	parts := strings.Fields(input)
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid relative time format")
	}

	amount, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid number in duration: %v", err)
	}

	unit := parts[1]
	now := p.now().In(p.location)

	switch strings.TrimSuffix(unit, "s") {
	case "second":
		return now.Add(time.Duration(amount) * time.Second), nil
	case "minute", "min":
		return now.Add(time.Duration(amount) * time.Minute), nil
	case "hour":
		return now.Add(time.Duration(amount) * time.Hour), nil
	case "day":
		return now.AddDate(0, 0, amount), nil
	case "week":
		return now.AddDate(0, 0, amount*7), nil
	case "month":
		return now.AddDate(0, amount, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time unit: %s", unit)
	}
}

func (p *TimeParser) parseTomorrowTime(timeStr string) (time.Time, error) {
	tomorrow := p.now().In(p.location).AddDate(0, 0, 1)

	t, err := p.parseTimeOfDay(timeStr)
	if err != nil {
		return time.Time{}, err
	}

	return time.Date(
		tomorrow.Year(), tomorrow.Month(), tomorrow.Day(),
		t.Hour(), t.Minute(), 0, 0, p.location,
	), nil
}

func (p *TimeParser) parseAbsoluteTime(input string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02 15:04", input, p.location); err == nil {
		return t, nil
	}

	// Time-only formats mean today
	t, err := p.parseTimeOfDay(input)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported time format: %s", input)
	}
	now := p.now().In(p.location)
	return time.Date(
		now.Year(), now.Month(), now.Day(),
		t.Hour(), t.Minute(), 0, 0, p.location,
	), nil
}

func (p *TimeParser) parseTimeOfDay(input string) (time.Time, error) {
	input = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(input)), " ", "")

	for _, layout := range []string{"3:04pm", "3pm", "15:04"} {
		if t, err := time.Parse(layout, input); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time format: %s", input)
}
