// Package fundamentals normalizes raw provider fundamentals payloads into
// flat, (ticker, date)-keyed records at quarterly and annual granularity.
package fundamentals

import (
	"errors"
	"time"
)

// Market close is anchored at 16:00 in the exchange's local time zone; the
// resulting instant (converted to UTC) keys every record.
const marketCloseHour = 16

// Sentinel errors for payloads the pipeline skips rather than processes.
var (
	// ErrNoFinancials marks a payload that is empty or carries no usable
	// financial statements.
	ErrNoFinancials = errors.New("fundamentals: no financial statements in payload")

	// ErrEtfData marks an ETF payload; ETFs are out of scope.
	ErrEtfData = errors.New("fundamentals: payload contains ETF data")
)

// Record is one normalized financial statement period for a ticker.
// Fields is open-ended: the provider's field set varies by ticker and over
// time, so everything beyond the identity pair stays dynamically typed.
type Record struct {
	Ticker string
	Date   time.Time // market-close instant, UTC
	Fields map[string]any
}

// Collections holds the two period granularities produced for one ticker or
// one batch. Order within each slice is unspecified.
type Collections struct {
	Quarterly []Record
	Annual    []Record
}

// Append merges another set of collections into this one.
func (c *Collections) Append(other Collections) {
	c.Quarterly = append(c.Quarterly, other.Quarterly...)
	c.Annual = append(c.Annual, other.Annual...)
}

// Len returns the total record count across both granularities.
func (c *Collections) Len() int {
	return len(c.Quarterly) + len(c.Annual)
}

// MarketClose anchors a calendar date to 16:00 in loc and returns the
// corresponding absolute instant in UTC. DST is handled by the location, so
// a June filing lands at 20:00Z and a December one at 21:00Z for US Eastern.
func MarketClose(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, marketCloseHour, 0, 0, 0, loc).UTC()
}

// ParseMarketClose parses a YYYY-MM-DD date string and anchors it to the
// market close in loc.
func ParseMarketClose(date string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return MarketClose(d.Year(), d.Month(), d.Day(), loc), nil
}
