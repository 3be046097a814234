package time

import (
	"fmt"
	"strings"
	"time"
)

// LoadZone resolves an IANA zone name, "Local", "UTC" or a common city name.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "", "local":
		return time.Local, nil
	case "utc":
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if zone, ok := commonCityToZone[strings.ToLower(name)]; ok {
		loc, err = time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("invalid location after mapping %q: %v", name, err)
		}
		return loc, nil
	}
	return nil, fmt.Errorf("unknown location %q: %v", name, err)
}

// FormatDue renders t for a notification body, e.g. "Mon, Jan 2 at 3:04 PM".
func FormatDue(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Mon, Jan 2 at 3:04 PM")
}

var commonCityToZone = map[string]string{
	"london":           "Europe/London",
	"new york":         "America/New_York",
	"austin":           "America/Chicago",
	"los angeles":      "America/Los_Angeles",
	"tokyo":            "Asia/Tokyo",
	"paris":            "Europe/Paris",
	"sydney":           "Australia/Sydney",
	"singapore":        "Asia/Singapore",
	"dubai":            "Asia/Dubai",
	"mumbai":           "Asia/Kolkata",
	"delhi":            "Asia/Kolkata",
	"bangalore":        "Asia/Kolkata",
	"ho chi minh city": "Asia/Ho_Chi_Minh",
	"hanoi":            "Asia/Bangkok",
	"berlin":           "Europe/Berlin",
}
