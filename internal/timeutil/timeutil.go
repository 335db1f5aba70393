// Package timeutil turns the loosely formatted clock, duration and date
// strings stored on itinerary events into comparable values.
//
// None of the parsers fail loudly: forms must stay editable while they are
// incomplete, so bad input yields a zero value and ok=false.
package timeutil

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tripline/internal/model"
)

// MinutesPerDay bounds every clock value: [0, MinutesPerDay).
const MinutesPerDay = 24 * 60

const dateKeyLayout = "2006-01-02"

var (
	clockRe = regexp.MustCompile(`^(\d{1,2})\s*[:hH]\s*(\d{2})?(?::(\d{2}))?$`)

	durationClockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	durationTokenRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(hours?|hrs?|horas?|h|minutes?|minutos?|mins?|m)`)
	durationTailRe  = regexp.MustCompile(`h\s*(\d{1,2})$`)

	isoDateRe = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})$`)
	dmyDateRe = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})$`)
)

// ToMinutes converts a local clock string ("HH:MM", "H:MM", "HH:MM:SS",
// "14h30", "14h") into minutes since midnight.
func ToMinutes(clock string) (int, bool) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(clock))
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min := 0
	if m[2] != "" {
		min, _ = strconv.Atoi(m[2])
	}
	if h > 23 || min > 59 {
		return 0, false
	}
	return h*60 + min, true
}

// ParseDuration reads free-text durations such as "1h 30min", "45min",
// "2h", "1h30", "1.5h" or "1:30" and returns whole minutes. A bare number
// is read as minutes. Anything unreadable is 0.
func ParseDuration(text string) int {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0
	}

	if m := durationClockRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		return clampDuration(float64(h*60 + min))
	}

	total := 0.0
	matched := false
	for _, m := range durationTokenRe.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			continue
		}
		matched = true
		if strings.HasPrefix(m[2], "h") {
			total += n * 60
		} else {
			total += n
		}
	}
	if m := durationTailRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += float64(n)
		matched = true
	}

	if !matched {
		n, err := strconv.Atoi(s)
		if errors.Is(err, strconv.ErrRange) && n > 0 {
			return MinutesPerDay
		}
		if err != nil || n < 0 {
			return 0
		}
		return clampDuration(float64(n))
	}
	return clampDuration(total)
}

// clampDuration rounds to whole minutes within [0, MinutesPerDay]; no slot
// outlasts its day.
func clampDuration(total float64) int {
	if math.IsNaN(total) || total <= 0 {
		return 0
	}
	if total >= MinutesPerDay {
		return MinutesPerDay
	}
	return int(math.Round(total))
}

// NormalizeDate returns the canonical YYYY-MM-DD key for a date written as
// DD/MM/YYYY, DD-MM-YYYY, YYYY-MM-DD, YYYY/MM/DD or an RFC3339 timestamp.
func NormalizeDate(s string) (string, bool) {
	t, ok := ParseDate(s)
	if !ok {
		return "", false
	}
	return t.Format(dateKeyLayout), true
}

// ParseDate parses the same forms as NormalizeDate into a UTC midnight.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	// Drop any time-of-day part ("2025-03-01T10:00:00Z", "2025-03-01 10:00").
	if i := strings.IndexAny(s, "T "); i > 0 {
		s = s[:i]
	}

	var y, mo, d int
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		y, _ = strconv.Atoi(m[1])
		mo, _ = strconv.Atoi(m[2])
		d, _ = strconv.Atoi(m[3])
	} else if m := dmyDateRe.FindStringSubmatch(s); m != nil {
		d, _ = strconv.Atoi(m[1])
		mo, _ = strconv.Atoi(m[2])
		y, _ = strconv.Atoi(m[3])
	} else {
		return time.Time{}, false
	}

	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31/02 into March; reject instead.
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// DateKeysEqual compares two day keys regardless of which of the supported
// formats each one uses. Unparseable keys only match themselves verbatim.
func DateKeysEqual(a, b string) bool {
	na, okA := NormalizeDate(a)
	nb, okB := NormalizeDate(b)
	if okA && okB {
		return na == nb
	}
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && a == b
}

// FormatMinutes renders a minute count as a short label: "1h 30m", "2h",
// "45m". Negative values are rendered by magnitude.
func FormatMinutes(n int) string {
	if n < 0 {
		n = -n
	}
	h, m := n/60, n%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

// Window returns the busy interval of e on its day. The end is the explicit
// end clock when present, otherwise start plus the parsed duration. ok is
// false when the start clock is missing or unreadable.
func Window(e model.Event) (model.Slot, bool) {
	start, ok := ToMinutes(e.StartClock())
	if !ok {
		return model.Slot{}, false
	}
	return model.Slot{Start: start, End: EndMinutes(e, start)}, true
}

// EndMinutes derives the end of e given an already parsed start.
func EndMinutes(e model.Event, start int) int {
	if end, ok := ToMinutes(e.EndClock()); ok {
		if end < start {
			// Events never cross midnight; treat an inverted end as zero-length.
			return start
		}
		return end
	}
	end := start + ParseDuration(e.Duration)
	if end > MinutesPerDay {
		end = MinutesPerDay
	}
	return end
}

// Clock formats minutes since midnight as "HH:MM".
func Clock(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	if minutes >= MinutesPerDay {
		minutes = MinutesPerDay - 1
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
