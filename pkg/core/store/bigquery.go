package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"fundsync/pkg/core/fundamentals"
)

// insertChunkSize bounds one streaming-insert payload into the temp table.
const insertChunkSize = 500

// tableCreateAttempts bounds the visibility poll after table creation, which
// may not be immediately readable.
const tableCreateAttempts = 3

// BigQuerySink uploads normalized records to the analytical store using a
// stage-then-merge protocol: the destination has no native upsert-by-key, so
// records are streamed into a uniquely named temp table and folded into the
// main table with one MERGE statement on (ticker, date).
type BigQuerySink struct {
	client  *bigquery.Client
	dataset string
	now     func() time.Time
	sleep   func(time.Duration)
}

// NewBigQuerySink creates a sink writing into the given dataset.
func NewBigQuerySink(client *bigquery.Client, dataset string) *BigQuerySink {
	return &BigQuerySink{
		client:  client,
		dataset: dataset,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// MergeRecords upserts one batch of records into the named table.
//
// Steps: infer the batch schema, ensure the main table exists, create a
// temp table suffixed with the current unix timestamp, stream the filtered
// rows in chunks, run the MERGE, and always attempt to drop the temp table,
// merge success or not. The MERGE column list is the inferred schema, so a
// temp table that ends up empty produces a well-formed no-op merge.
//
// An empty batch is a no-op: no temp table is created.
func (s *BigQuerySink) MergeRecords(ctx context.Context, table string, records []fundamentals.Record) error {
	if len(records) == 0 {
		return nil
	}

	schema := InferSchema(records)
	ds := s.client.Dataset(s.dataset)

	if err := s.ensureTable(ctx, ds.Table(table), schema); err != nil {
		return fmt.Errorf("ensure table %s: %w", table, err)
	}

	tempName := tempTableName(table, s.now())
	temp := ds.Table(tempName)
	meta := &bigquery.TableMetadata{
		Schema: schema,
		// Belt and braces: if the process dies between staging and drop,
		// the orphan expires on its own.
		ExpirationTime: s.now().Add(6 * time.Hour),
	}
	if err := temp.Create(ctx, meta); err != nil {
		return fmt.Errorf("create temp table %s: %w", tempName, err)
	}
	defer func() {
		// Cleanup must run regardless of merge outcome. Drop failures are
		// logged, never escalated.
		if err := temp.Delete(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to drop temp table", "table", tempName, "error", err)
		}
	}()

	rows := buildRows(records, schema)
	inserter := temp.Inserter()
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := inserter.Put(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("stage rows into %s: %w", tempName, err)
		}
	}

	query := s.client.Query(buildMergeSQL(s.client.Project(), s.dataset, table, tempName, schema))
	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("run merge into %s: %w", table, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for merge into %s: %w", table, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("merge into %s failed: %w", table, err)
	}
	return nil
}

// ensureTable creates the main table when absent and polls until the new
// table is visible for reads: up to tableCreateAttempts checks with
// exponentially increasing waits.
func (s *BigQuerySink) ensureTable(ctx context.Context, table *bigquery.Table, schema bigquery.Schema) error {
	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}

	if err := table.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
		// Lost a race with a concurrent run; the table exists either way.
		if isConflict(err) {
			return nil
		}
		return err
	}

	wait := time.Second
	for attempt := 0; attempt < tableCreateAttempts; attempt++ {
		if _, err = table.Metadata(ctx); err == nil {
			return nil
		}
		s.sleep(wait)
		wait *= 2
	}
	return fmt.Errorf("table not visible after creation: %w", err)
}

// tempTableName derives the staging table name. The timestamp suffix keeps
// concurrent runs from colliding.
func tempTableName(table string, now time.Time) string {
	return fmt.Sprintf("%s_temp_%d", table, now.Unix())
}

// buildRows filters each record down to the inferred schema, coercing
// numeric-looking strings and nulling anything that cannot be represented as
// a float. Row order follows the schema's field order.
func buildRows(records []fundamentals.Record, schema bigquery.Schema) []*bigquery.ValuesSaver {
	rows := make([]*bigquery.ValuesSaver, 0, len(records))
	for _, rec := range records {
		row := make([]bigquery.Value, len(schema))
		for i, field := range schema {
			switch field.Name {
			case "ticker", "symbol":
				row[i] = rec.Ticker
			case "date":
				row[i] = rec.Date
			default:
				if v, ok := coerceFloat(rec.Fields[field.Name]); ok {
					row[i] = v
				} else {
					row[i] = nil
				}
			}
		}
		rows = append(rows, &bigquery.ValuesSaver{
			Schema:   schema,
			InsertID: fmt.Sprintf("%s-%d", rec.Ticker, rec.Date.Unix()),
			Row:      row,
		})
	}
	return rows
}

// coerceFloat converts native numbers and numeric-looking strings to
// float64. Anything else is unrepresentable in the analytical sink.
func coerceFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// buildMergeSQL assembles the match/update/insert statement. The column set
// comes from the inferred schema rather than a sampled temp-table row, so
// sparse first rows cannot shrink the update list.
func buildMergeSQL(project, dataset, table, tempTable string, schema bigquery.Schema) string {
	var cols, updates []string
	for _, field := range schema {
		cols = append(cols, "`"+field.Name+"`")
		if field.Name == "ticker" || field.Name == "date" {
			continue
		}
		updates = append(updates, fmt.Sprintf("main.`%s` = temp.`%s`", field.Name, field.Name))
	}

	values := make([]string, 0, len(schema))
	for _, field := range schema {
		values = append(values, "temp.`"+field.Name+"`")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE `%s.%s.%s` AS main\n", project, dataset, table)
	fmt.Fprintf(&b, "USING `%s.%s.%s` AS temp\n", project, dataset, tempTable)
	b.WriteString("ON main.ticker = temp.ticker AND main.date = temp.date\n")
	fmt.Fprintf(&b, "WHEN MATCHED THEN UPDATE SET %s\n", strings.Join(updates, ", "))
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(values, ", "))
	return b.String()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isConflict(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
