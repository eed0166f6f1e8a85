package schedule

import "time"

// IsHoliday reports whether the calendar date of d (in d's location) is a US market
// holiday as observed by the exchange.
func IsHoliday(d time.Time) bool {
	y, m, day := d.Date()
	date := Date{y, m, day}
	for _, h := range Holidays(y) {
		if h == date {
			return true
		}
	}
	return false
}

// Date is a calendar date without a zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (c Date) weekday() time.Weekday {
	return time.Date(c.Year, c.Month, c.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

func (c Date) addDays(n int) Date {
	t := time.Date(c.Year, c.Month, c.Day, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n)
	y, m, d := t.Date()
	return Date{y, m, d}
}

// Holidays lists the observed market holidays of year y. A Saturday New Year's Day is
// not observed.
func Holidays(y int) []Date {
	return []Date{
		sundayToMonday(Date{y, time.January, 1}),
		nthWeekday(y, time.January, time.Monday, 3),  // Martin Luther King Jr. Day
		nthWeekday(y, time.February, time.Monday, 3), // Presidents' Day
		easter(y).addDays(-2),                        // Good Friday
		lastWeekday(y, time.May, time.Monday),        // Memorial Day
		nearestWorkday(Date{y, time.June, 19}),
		nearestWorkday(Date{y, time.July, 4}),
		nthWeekday(y, time.September, time.Monday, 1), // Labor Day
		nthWeekday(y, time.November, time.Thursday, 4), // Thanksgiving
		nearestWorkday(Date{y, time.December, 25}),
	}
}

func sundayToMonday(c Date) Date {
	if c.weekday() == time.Sunday {
		return c.addDays(1)
	}
	return c
}

func nearestWorkday(c Date) Date {
	switch c.weekday() {
	case time.Saturday:
		return c.addDays(-1)
	case time.Sunday:
		return c.addDays(1)
	}
	return c
}

func nthWeekday(y int, m time.Month, wd time.Weekday, n int) Date {
	first := Date{y, m, 1}
	shift := (int(wd) - int(first.weekday()) + 7) % 7
	return first.addDays(shift + 7*(n-1))
}

func lastWeekday(y int, m time.Month, wd time.Weekday) Date {
	last := Date{y, m + 1, 1}.addDays(-1)
	shift := (int(last.weekday()) - int(wd) + 7) % 7
	return last.addDays(-shift)
}

// easter is Western Easter Sunday (anonymous Gregorian algorithm).
func easter(y int) Date {
	a := y % 19
	b, c := y/100, y%100
	d, e := b/4, b%4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i, k := c/4, c%4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return Date{y, time.Month(month), day}
}
