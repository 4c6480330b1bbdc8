package fundamentals

import (
	"strings"
	"time"
)

// The three statement sections read from the payload's Financials block.
var statementSections = []string{"Balance_Sheet", "Cash_Flow", "Income_Statement"}

// Normalize converts one ticker's raw fundamentals payload into quarterly and
// annual record lists.
//
// Statement fragments (balance sheet, cash flow, income statement) for the
// same period are shallow-merged into a single record keyed by the canonical
// market-close instant; on overlapping field names the later-processed
// fragment wins. The canonical date prefers an explicit filing_date field on
// the period entry and falls back to the period's map key (or, for the bulk
// last_N shape, the entry's own date field). Entries with neither are dropped.
//
// Returns ErrEtfData for ETF payloads and ErrNoFinancials for empty payloads
// or payloads without a financials section. A ticker with financials but zero
// dateable periods yields empty collections and a nil error.
func Normalize(ticker string, payload map[string]any, loc *time.Location) (Collections, error) {
	if len(payload) == 0 {
		return Collections{}, ErrNoFinancials
	}
	if _, ok := payload["ETF_Data"]; ok {
		return Collections{}, ErrEtfData
	}

	financials, ok := payload["Financials"].(map[string]any)
	if !ok || len(financials) == 0 {
		return Collections{}, ErrNoFinancials
	}

	ticker = strings.ToUpper(ticker)
	quarterly := make(map[string]Record)
	annual := make(map[string]Record)

	for _, section := range statementSections {
		stmt, ok := financials[section].(map[string]any)
		if !ok {
			continue
		}
		for subKey, sub := range stmt {
			acc, ok := accumulatorFor(subKey, quarterly, annual)
			if !ok {
				continue
			}
			entries, ok := sub.(map[string]any)
			if !ok {
				continue
			}
			if isBulkPeriodKey(subKey) {
				// Bulk shape: the sub-structure is a single flat field map
				// carrying its own date key.
				mergeEntry(acc, ticker, stringField(entries, "date"), entries, loc)
				continue
			}
			// Single-ticker shape: period key -> flat field map.
			for periodKey, v := range entries {
				fields, ok := v.(map[string]any)
				if !ok {
					continue
				}
				mergeEntry(acc, ticker, periodKey, fields, loc)
			}
		}
	}

	return Collections{Quarterly: flatten(quarterly), Annual: flatten(annual)}, nil
}

// accumulatorFor routes a statement sub-key to its period granularity:
// "quarterly"/"quarterly_last_N" vs "yearly"/"yearly_last_N".
func accumulatorFor(subKey string, quarterly, annual map[string]Record) (map[string]Record, bool) {
	switch {
	case subKey == "quarterly" || strings.HasPrefix(subKey, "quarterly_last_"):
		return quarterly, true
	case subKey == "yearly" || strings.HasPrefix(subKey, "yearly_last_"):
		return annual, true
	}
	return nil, false
}

func isBulkPeriodKey(subKey string) bool {
	return strings.Contains(subKey, "_last_")
}

// mergeEntry resolves the canonical date for one period entry and shallow-
// merges its fields into the accumulator. Entries that cannot be dated are
// dropped silently.
func mergeEntry(acc map[string]Record, ticker, periodKey string, fields map[string]any, loc *time.Location) {
	date, ok := canonicalDate(fields, periodKey, loc)
	if !ok {
		return
	}

	key := date.Format(time.RFC3339)
	rec, exists := acc[key]
	if !exists {
		rec = Record{Ticker: ticker, Date: date, Fields: make(map[string]any, len(fields))}
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	acc[key] = rec
}

// canonicalDate prefers the entry's explicit filing_date, falling back to the
// period key. Both must be YYYY-MM-DD to be usable.
func canonicalDate(fields map[string]any, periodKey string, loc *time.Location) (time.Time, bool) {
	if fd := stringField(fields, "filing_date"); fd != "" {
		if t, err := ParseMarketClose(fd, loc); err == nil {
			return t, true
		}
	}
	if periodKey != "" {
		if t, err := ParseMarketClose(periodKey, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func flatten(acc map[string]Record) []Record {
	if len(acc) == 0 {
		return nil
	}
	out := make([]Record, 0, len(acc))
	for _, rec := range acc {
		out = append(out, rec)
	}
	return out
}
