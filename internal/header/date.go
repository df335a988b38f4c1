package header

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrBadDate = errors.New("unparseable date")

type dateFields struct {
	weekday, month, zone string
	day, year            int
	hh, mm, ss           int
}

type datePattern struct {
	// want is the number of items that must be scanned; a pattern whose
	// last item is the zone also accepts want-1.
	want     int
	zoneLast bool
	scan     func(s string, f *dateFields) (int, error)
}

var datePatterns = []datePattern{
	{want: 8, zoneLast: true, scan: func(s string, f *dateFields) (int, error) {
		return fmt.Sscanf(s, "%10s %d %9s %d %2d:%2d:%2d %5s", &f.weekday, &f.day, &f.month, &f.year, &f.hh, &f.mm, &f.ss, &f.zone)
	}},
	{want: 8, zoneLast: true, scan: func(s string, f *dateFields) (int, error) {
		return fmt.Sscanf(s, "%3s,%d %9s %d %2d:%2d:%2d %5s", &f.weekday, &f.day, &f.month, &f.year, &f.hh, &f.mm, &f.ss, &f.zone)
	}},
	{want: 7, zoneLast: true, scan: func(s string, f *dateFields) (int, error) {
		return fmt.Sscanf(s, "%d %9s %d %2d:%2d:%2d %5s", &f.day, &f.month, &f.year, &f.hh, &f.mm, &f.ss, &f.zone)
	}},
	// asctime with zone: "Sat Aug 20 12:00:00 JST 2005"
	{want: 8, scan: func(s string, f *dateFields) (int, error) {
		return fmt.Sscanf(s, "%10s %9s %d %2d:%2d:%2d %5s %d", &f.weekday, &f.month, &f.day, &f.hh, &f.mm, &f.ss, &f.zone, &f.year)
	}},
	// ctime: "Sat Aug 20 12:00:00 2005"
	{want: 7, scan: func(s string, f *dateFields) (int, error) {
		return fmt.Sscanf(s, "%10s %9s %d %2d:%2d:%2d %d", &f.weekday, &f.month, &f.day, &f.hh, &f.mm, &f.ss, &f.year)
	}},
	// ISO: "2005-08-20 12:00:00"
	{want: 6, scan: func(s string, f *dateFields) (int, error) {
		var month int
		n, err := fmt.Sscanf(s, "%d-%d-%d %2d:%2d:%2d", &f.year, &month, &f.day, &f.hh, &f.mm, &f.ss)
		f.month = strconv.Itoa(month)
		return n, err
	}},
	{want: 7, zoneLast: true, scan: func(s string, f *dateFields) (int, error) {
		return fmt.Sscanf(s, "%10s %d %9s %d %2d:%2d %5s", &f.weekday, &f.day, &f.month, &f.year, &f.hh, &f.mm, &f.zone)
	}},
	{want: 6, zoneLast: true, scan: func(s string, f *dateFields) (int, error) {
		return fmt.Sscanf(s, "%d %9s %d %2d:%2d %5s", &f.day, &f.month, &f.year, &f.hh, &f.mm, &f.zone)
	}},
}

// rfc850Date matches the "06-Nov-94" form of RFC 850 dates.
var rfc850Date = regexp.MustCompile(`\b(\d{1,2})-([A-Za-z]{3})-(\d{2,4})\b`)

const monthNames = "JanFebMarAprMayJunJulAugSepOctNovDec"

// zoneOffsets maps symbolic time zones to their UTC offset in minutes.
var zoneOffsets = map[string]int{
	"UT": 0, "UTC": 0, "GMT": 0, "Z": 0, "WET": 0,
	"EST": -5 * 60, "EDT": -4 * 60, "CST": -6 * 60, "CDT": -5 * 60,
	"MST": -7 * 60, "MDT": -6 * 60, "PST": -8 * 60, "PDT": -7 * 60,
	"AKST": -9 * 60, "AKDT": -8 * 60, "HST": -10 * 60,
	"WEST": 60, "BST": 60, "CET": 60, "MET": 60, "CEST": 120, "MEST": 120,
	"EET": 120, "EEST": 180, "MSK": 180,
	"IST": 330, "HKT": 480, "JST": 540, "KST": 540,
	"AEST": 600, "AEDT": 660, "NZST": 720, "NZDT": 780,
}

// ParseDate parses a Date header value. A date without a recognizable zone
// is interpreted in local time. Results beyond the 32-bit time range are
// clamped.
func ParseDate(src string) (time.Time, error) {
	s := strings.Join(strings.Fields(src), " ")
	s = rfc850Date.ReplaceAllString(s, "$1 $2 $3")

	for _, p := range datePatterns {
		var f dateFields
		n, _ := p.scan(s, &f)
		if n == p.want || (p.zoneLast && n == p.want-1) {
			if n < p.want {
				f.zone = ""
			}
			if t, ok := f.toTime(); ok {
				return t, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, src)
}

func (f dateFields) toTime() (time.Time, bool) {
	month := parseMonth(f.month)
	if month == 0 {
		return time.Time{}, false
	}
	if f.day < 1 || f.day > 31 || f.hh < 0 || f.hh > 23 || f.mm < 0 || f.mm > 59 || f.ss < 0 || f.ss > 60 {
		return time.Time{}, false
	}

	year := f.year
	switch {
	case year < 0:
		return time.Time{}, false
	case year < 50:
		year += 2000
	case year < 1000:
		year += 1900
	}

	loc := time.Local
	if off, ok := parseZone(f.zone); ok {
		loc = time.FixedZone(f.zone, off*60)
	}

	t := time.Date(year, month, f.day, f.hh, f.mm, f.ss, 0, loc)
	if t.Unix() > math.MaxInt32 {
		t = time.Unix(math.MaxInt32, 0).In(loc)
	}
	return t, true
}

func parseMonth(s string) time.Month {
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 1 && n <= 12 {
			return time.Month(n)
		}
		return 0
	}
	if len(s) < 3 {
		return 0
	}
	idx := strings.Index(strings.ToLower(monthNames), strings.ToLower(s[:3]))
	if idx < 0 || idx%3 != 0 {
		return 0
	}
	return time.Month(idx/3 + 1)
}

// parseZone returns the offset in minutes for "+0900"-style or symbolic zones.
func parseZone(zone string) (int, bool) {
	if zone == "" {
		return 0, false
	}
	if zone[0] == '+' || zone[0] == '-' {
		if len(zone) != 5 {
			return 0, false
		}
		hh, err1 := strconv.Atoi(zone[1:3])
		mm, err2 := strconv.Atoi(zone[3:5])
		if err1 != nil || err2 != nil {
			return 0, false
		}
		off := hh*60 + mm
		if zone[0] == '-' {
			off = -off
		}
		return off, true
	}
	off, ok := zoneOffsets[strings.ToUpper(zone)]
	return off, ok
}
