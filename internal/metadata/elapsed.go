package metadata

import (
	"math"
	"strings"
	"time"

	"unchained/internal/core/types"
)

var elapsedUnits = []string{"year", "month", "week", "day", "hour", "minute"}

// TimeElapsed humanizes the distance between t and now as translated slices,
// e.g. "2 weeks,3 days ago". roundTo names a single unit or "auto".
func TimeElapsed(now, t time.Time, round types.RoundMode, suffix, roundTo string, translate func(string, map[string]any) string) string {
	y, mo, d, h, mi := calendarDiff(t, now)

	var weeks int
	switch round {
	case types.RoundCeil:
		weeks = int(math.Ceil(float64(d) / 7))
	case types.RoundHalf:
		weeks = int(math.Round(float64(d) / 7))
	default:
		weeks = d / 7
	}
	d -= weeks * 7
	if d < 0 {
		d = 0
	}

	slices := map[string]int{"year": y, "month": mo, "week": weeks, "day": d, "hour": h, "minute": mi}
	message := func(unit string, n int) string {
		key := "value.time." + unit
		if n > 1 {
			key += "_plural"
		}
		return translate(key+".nn", map[string]any{"nn": n})
	}

	if roundTo != "" && roundTo != "auto" {
		return message(roundTo, slices[roundTo])
	}

	var parts []string
	for _, unit := range elapsedUnits {
		if n := slices[unit]; n != 0 {
			parts = append(parts, message(unit, n))
		}
	}
	if len(parts) == 0 {
		return translate("value.time.just_now", nil)
	}
	out := strings.Join(parts, ",")
	if suffix != "" {
		out += " " + suffix
	}
	return out
}

// calendarDiff returns the calendar distance between a and b in either order.
func calendarDiff(a, b time.Time) (years, months, days, hours, minutes int) {
	b = b.In(a.Location())
	if a.After(b) {
		a, b = b, a
	}
	years = b.Year() - a.Year()
	months = int(b.Month()) - int(a.Month())
	days = b.Day() - a.Day()
	hours = b.Hour() - a.Hour()
	minutes = b.Minute() - a.Minute()

	if b.Second() < a.Second() {
		minutes--
	}
	if minutes < 0 {
		minutes += 60
		hours--
	}
	if hours < 0 {
		hours += 24
		days--
	}
	// borrow whole months walking back from b's month
	for back := 0; days < 0; back++ {
		days += time.Date(b.Year(), b.Month()-time.Month(back), 0, 0, 0, 0, 0, b.Location()).Day()
		months--
	}
	if months < 0 {
		months += 12
		years--
	}
	return years, months, days, hours, minutes
}
