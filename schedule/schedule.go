// Package schedule answers whether the US equity market is in session and whether a
// strategy may trade at a given instant. All times of day are New York wall-clock times.
package schedule

import (
	"fmt"
	"time"
	_ "time/tzdata" // America/New_York must resolve on hosts without a zoneinfo database

	"gopkg.in/yaml.v3"
)

// NewYork is the exchange time zone.
var NewYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("failed to load location %s: %v", name, err))
	}
	return loc
}

// =============================================================================
// TIME OF DAY
// =============================================================================

// TimeOfDay is a wall-clock time in the exchange zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

var (
	OpenTime         = TimeOfDay{9, 30}
	CloseTime        = TimeOfDay{16, 15}
	DefaultStartTime = TimeOfDay{9, 31}
	DefaultStopTime  = TimeOfDay{15, 59}
)

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

func (t *TimeOfDay) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) MarshalYAML() (interface{}, error) { return t.String(), nil }

// sinceMidnight is the wall-clock offset of t in New York, including seconds.
func sinceMidnight(t time.Time) time.Duration {
	ny := t.In(NewYork)
	return time.Duration(ny.Hour())*time.Hour +
		time.Duration(ny.Minute())*time.Minute +
		time.Duration(ny.Second())*time.Second +
		time.Duration(ny.Nanosecond())
}

func (t TimeOfDay) offset() time.Duration { return time.Duration(t.minutes()) * time.Minute }

// Before reports whether the New York wall-clock time of now is earlier than t.
func Before(now time.Time, t TimeOfDay) bool { return sinceMidnight(now) < t.offset() }

// =============================================================================
// SESSION PREDICATES
// =============================================================================

// IsBusinessDay reports whether the New York date of t is a weekday and not a market holiday.
func IsBusinessDay(t time.Time) bool {
	ny := t.In(NewYork)
	if wd := ny.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !IsHoliday(ny)
}

// IsNormalMarketHours is the broker gate: business day, open through close inclusive.
func IsNormalMarketHours(t time.Time) bool {
	return within(t, OpenTime, CloseTime)
}

// IsTradable is the strategy gate. Nil bounds fall back to DefaultStartTime and DefaultStopTime.
func IsTradable(t time.Time, start, stop *TimeOfDay) bool {
	from, to := DefaultStartTime, DefaultStopTime
	if start != nil {
		from = *start
	}
	if stop != nil {
		to = *stop
	}
	return within(t, from, to)
}

func within(t time.Time, from, to TimeOfDay) bool {
	if !IsBusinessDay(t) {
		return false
	}
	now := sinceMidnight(t)
	return now >= from.offset() && now <= to.offset()
}

// SessionCoefficient places t within the cash session: 0 at the open and 1 at the close.
// Values fall outside [0,1] before the open and after the close. It reports false on
// non-business days.
func SessionCoefficient(t time.Time) (float64, bool) {
	if !IsBusinessDay(t) {
		return 0, false
	}
	span := CloseTime.offset() - OpenTime.offset()
	return float64(sinceMidnight(t)-OpenTime.offset()) / float64(span), true
}
