package bmkg

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// monthAbbrev maps Indonesian (and English) month abbreviations to the
// English ones time.Parse understands.
var monthAbbrev = map[string]string{
	"jan": "Jan",
	"feb": "Feb",
	"mar": "Mar",
	"apr": "Apr",
	"mei": "May",
	"may": "May",
	"jun": "Jun",
	"jul": "Jul",
	"agu": "Aug",
	"agt": "Aug",
	"ags": "Aug",
	"aug": "Aug",
	"sep": "Sep",
	"okt": "Oct",
	"oct": "Oct",
	"nov": "Nov",
	"des": "Dec",
	"dec": "Dec",
}

// DateTimeParser splits BMKG local timestamps ("21 Okt 2025, 15:57:01 WIB")
// into a calendar date and a time of day. The feed always reports one civil
// time zone, so the zone label is dropped and nothing is converted.
type DateTimeParser struct {
	clock     clockwork.Clock
	fallbacks prometheus.Counter
}

// NewDateTimeParser returns a parser that uses clock for the fallback value and
// increments fallbacks (if non-nil) every time it is used.
func NewDateTimeParser(clock clockwork.Clock, fallbacks prometheus.Counter) *DateTimeParser {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DateTimeParser{clock: clock, fallbacks: fallbacks}
}

// Parse never fails: an unparseable string yields the current date and time.
func (p *DateTimeParser) Parse(s string) (date, clockTime string) {
	t, err := ParseLocal(s)
	if err != nil {
		slog.Warn("feed datetime unparseable, using current time", "raw", s, "error", err)
		if p.fallbacks != nil {
			p.fallbacks.Inc()
		}
		t = p.clock.Now()
	}
	return t.Format(DateLayout), t.Format(TimeLayout)
}

// ParseLocal parses "D Mon YYYY, HH:MM:SS [ZONE]" strictly. The result carries
// the wall-clock values in UTC without any zone conversion.
func ParseLocal(s string) (time.Time, error) {
	datePart, timePart, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return time.Time{}, fmt.Errorf("missing date/time separator in %q", s)
	}

	dateFields := strings.Fields(datePart)
	if len(dateFields) != 3 {
		return time.Time{}, fmt.Errorf("malformed date %q", datePart)
	}
	month, ok := monthAbbrev[strings.ToLower(dateFields[1])]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown month %q", dateFields[1])
	}

	timeFields := strings.Fields(timePart)
	if len(timeFields) == 0 || len(timeFields) > 2 {
		return time.Time{}, fmt.Errorf("malformed time %q", timePart)
	}

	normalized := fmt.Sprintf("%s %s %s %s", dateFields[0], month, dateFields[2], timeFields[0])
	t, err := time.Parse("2 Jan 2006 15:04:05", normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing %q: %w", s, err)
	}
	return t, nil
}
