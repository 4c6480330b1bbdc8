package store

import (
	"encoding/json"

	"cloud.google.com/go/bigquery"

	"fundsync/pkg/core/fundamentals"
)

// InferSchema derives the analytical table schema for a batch of records.
// The identity triple (ticker, symbol, date) is always present; beyond that,
// every field observed with a native numeric value anywhere in the batch is
// included as FLOAT. First observation wins: a field that is numeric in one
// record and a string in another is still included, and the non-numeric
// occurrences are coerced or nulled at write time.
//
// The schema is recomputed per write and never cached; two batches may
// legitimately differ as new numeric fields appear in the source data.
func InferSchema(records []fundamentals.Record) bigquery.Schema {
	schema := bigquery.Schema{
		{Name: "ticker", Type: bigquery.StringFieldType, Required: true},
		{Name: "symbol", Type: bigquery.StringFieldType, Required: true},
		{Name: "date", Type: bigquery.TimestampFieldType, Required: true},
	}

	seen := map[string]bool{"ticker": true, "symbol": true, "date": true}
	for _, rec := range records {
		for name, value := range rec.Fields {
			if seen[name] || !isNativeNumber(value) {
				continue
			}
			seen[name] = true
			schema = append(schema, &bigquery.FieldSchema{Name: name, Type: bigquery.FloatFieldType})
		}
	}
	return schema
}

// isNativeNumber reports whether a payload value arrived as a number rather
// than a numeric-looking string. JSON decoding yields float64 for all
// numbers; json.Number appears when a decoder opts into it.
func isNativeNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return true
	}
	return false
}
