// Package timezone converts store-local wall-clock times to UTC instants
// and back. All functions are pure: the zone database is consulted per
// call and no offsets are cached, so DST transitions are always computed
// for the specific target date.
package timezone

import (
	"fmt"
	"time"

	"github.com/jonesrussell/blog-scheduler/internal/domain"
)

const (
	// DateLayout is the wire format for local calendar dates.
	DateLayout = "2006-01-02"
	// TimeLayout is the wire format for local wall-clock times.
	TimeLayout = "15:04"
)

// Resolution is the result of resolving a local date/time to an instant.
type Resolution struct {
	// At is the absolute UTC instant.
	At time.Time
	// Immediate is set when the target is today in the store's zone but
	// the wall-clock time has already passed. Callers schedule such posts
	// for the next tick instead of rejecting them.
	Immediate bool
}

// Resolve interprets dateStr+timeStr as wall-clock time in the given IANA
// zone and returns the corresponding UTC instant.
//
// A nonexistent local time (the spring-forward gap) is normalized forward
// by the width of the gap, e.g. 02:30 on a US spring-forward date resolves
// to 03:30 local. A target date strictly before today in the zone fails
// with domain.ErrScheduleInPast; a past time on today's date is accepted
// and flagged Immediate.
func Resolve(dateStr, timeStr, zone string, now time.Time) (Resolution, error) {
	loc, err := loadZone(zone)
	if err != nil {
		return Resolution{}, err
	}

	date, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return Resolution{}, fmt.Errorf("parse date %q: %w", dateStr, err)
	}
	clock, err := time.Parse(TimeLayout, timeStr)
	if err != nil {
		return Resolution{}, fmt.Errorf("parse time %q: %w", timeStr, err)
	}

	// time.Date normalizes nonexistent local times forward across the
	// DST gap, which is the documented adjustment for this resolver.
	local := time.Date(date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), 0, 0, loc)
	instant := local.UTC()

	if instant.After(now) {
		return Resolution{At: instant}, nil
	}

	nowLocal := now.In(loc)
	sameDay := nowLocal.Year() == date.Year() &&
		nowLocal.Month() == date.Month() &&
		nowLocal.Day() == date.Day()
	if sameDay {
		return Resolution{At: instant, Immediate: true}, nil
	}

	return Resolution{}, fmt.Errorf("%w: %s %s in %s", domain.ErrScheduleInPast, dateStr, timeStr, zone)
}

// LocalDisplay derives the local date and time strings for an instant in
// the given zone. Display values are always recomputed from the UTC
// instant, never stored as ground truth.
func LocalDisplay(instant time.Time, zone string) (dateStr, timeStr string, err error) {
	loc, err := loadZone(zone)
	if err != nil {
		return "", "", err
	}
	local := instant.In(loc)
	return local.Format(DateLayout), local.Format(TimeLayout), nil
}

// loadZone resolves an IANA zone name, failing with domain.ErrInvalidTimezone
// rather than defaulting to UTC. The empty name is rejected explicitly
// because time.LoadLocation("") silently means UTC.
func loadZone(zone string) (*time.Location, error) {
	if zone == "" {
		return nil, fmt.Errorf("%w: empty zone name", domain.ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, zone)
	}
	return loc, nil
}
