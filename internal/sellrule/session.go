package sellrule

import (
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

var shanghai = domain.Shanghai

// Exchange session boundaries as seconds after midnight, Asia/Shanghai.
const (
	morningOpen    = 9*3600 + 30*60
	morningClose   = 11*3600 + 30*60
	afternoonOpen  = 13 * 3600
	afternoonClose = 15 * 3600
)

func secondsOfDay(t time.Time) int {
	t = t.In(shanghai)
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// InTradingHours reports whether t falls in a continuous-trading session:
// weekdays 09:30–11:30 and 13:00–15:00 Shanghai time.
func InTradingHours(t time.Time) bool {
	switch t.In(shanghai).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	s := secondsOfDay(t)
	return (s >= morningOpen && s <= morningClose) || (s >= afternoonOpen && s <= afternoonClose)
}

// InClosingWindow reports whether t is within window of the 15:00 close.
func InClosingWindow(t time.Time, window time.Duration) bool {
	if !InTradingHours(t) {
		return false
	}
	s := secondsOfDay(t)
	return s >= afternoonClose-int(window/time.Second) && s <= afternoonClose
}

// TradingDate returns the Shanghai calendar date of t as YYYY-MM-DD.
func TradingDate(t time.Time) string {
	return t.In(shanghai).Format("2006-01-02")
}
