package domain

import "time"

// Shanghai is the exchange time zone. China does not observe daylight
// saving, so a fixed offset needs no tzdata.
var Shanghai = time.FixedZone("CST", 8*60*60)

// TradingDay returns midnight Shanghai time of the day containing t.
func TradingDay(t time.Time) time.Time {
	t = t.In(Shanghai)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Shanghai)
}
