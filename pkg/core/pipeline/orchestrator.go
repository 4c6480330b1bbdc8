// Package pipeline drives the fundamentals sync: ticker list -> bulk fetch ->
// normalize -> dual-sink write, in bounded chunks with per-ticker failure
// isolation and inter-chunk pacing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fundsync/pkg/core/eodhd"
	"fundsync/pkg/core/fundamentals"
)

// Source fetches raw fundamentals payloads.
// Implementations: eodhd.Client, test fakes.
type Source interface {
	FetchFundamentals(ctx context.Context, ticker string) (eodhd.Payload, error)
	FetchBulkFundamentals(ctx context.Context, symbols []string, offset, limit int) ([]eodhd.Payload, error)
}

// DocumentSink is the full-fidelity record store.
type DocumentSink interface {
	UpsertRecords(ctx context.Context, granularity string, records []fundamentals.Record) error
}

// AnalyticalSink is the numeric, query-optimized record store.
type AnalyticalSink interface {
	MergeRecords(ctx context.Context, table string, records []fundamentals.Record) error
}

// pacer suspends the orchestrator between bulk chunks.
type pacer interface {
	Wait(ctx context.Context) error
}

// Orchestrator owns one run of the pipeline. Chunks are processed strictly
// sequentially; the only concurrency-shaped construct is the pacing wait
// between them.
type Orchestrator struct {
	source    Source
	documents DocumentSink
	analytics AnalyticalSink
	loc       *time.Location
	chunkSize int
	limiter   pacer
}

// NewOrchestrator wires the pipeline. loc is the exchange's time zone used to
// anchor canonical record dates.
func NewOrchestrator(source Source, documents DocumentSink, analytics AnalyticalSink, loc *time.Location) *Orchestrator {
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	// The bucket starts full; drain it so the first inter-chunk wait paces.
	limiter.Allow()
	return &Orchestrator{
		source:    source,
		documents: documents,
		analytics: analytics,
		loc:       loc,
		chunkSize: eodhd.BulkLimit,
		limiter:   limiter,
	}
}

// SkipReason classifies why a ticker inside a chunk produced no records.
type SkipReason string

const (
	SkipETF          SkipReason = "etf"
	SkipNoFinancials SkipReason = "no_financials"
	SkipError        SkipReason = "error"
)

// TickerOutcome is the per-ticker result inside one chunk.
type TickerOutcome struct {
	Ticker  string
	Skipped SkipReason // empty when the ticker produced records
	Err     error
}

// ChunkResult is the explicit result of one bulk chunk. Failures are carried
// here instead of being swallowed where they occur; the orchestrator's run
// loop is the single place that decides what gets logged.
type ChunkResult struct {
	Index         int
	Tickers       int
	Records       int
	FetchErr      error
	Outcomes      []TickerOutcome
	DocumentErr   error
	AnalyticalErr error
}

// RunReport summarizes a full SyncAll run.
type RunReport struct {
	RunID   string
	Chunks  []ChunkResult
	Elapsed time.Duration
}

// Records returns the total record count written across all chunks.
func (r *RunReport) Records() int {
	var n int
	for _, c := range r.Chunks {
		n += c.Records
	}
	return n
}

// SkippedTickers returns how many tickers were skipped across the run.
func (r *RunReport) SkippedTickers() int {
	var n int
	for _, c := range r.Chunks {
		for _, o := range c.Outcomes {
			if o.Skipped != "" {
				n++
			}
		}
	}
	return n
}

// FailedChunks returns how many chunks failed at the bulk-fetch level.
func (r *RunReport) FailedChunks() int {
	var n int
	for _, c := range r.Chunks {
		if c.FetchErr != nil {
			n++
		}
	}
	return n
}

// SyncTicker runs the single-ticker path: fetch, normalize, dual write.
// Fetch, normalization and document-store errors propagate to the caller.
// An analytical-sink failure is logged and not returned: the document store
// stays authoritative and the analytical store catches up on a later run.
func (o *Orchestrator) SyncTicker(ctx context.Context, ticker string) error {
	payload, err := o.source.FetchFundamentals(ctx, ticker)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", ticker, err)
	}

	cols, err := fundamentals.Normalize(ticker, payload, o.loc)
	if err != nil {
		return fmt.Errorf("normalize %s: %w", ticker, err)
	}

	if err := o.writeDocuments(ctx, cols); err != nil {
		return fmt.Errorf("document write for %s: %w", ticker, err)
	}
	if err := o.writeAnalytics(ctx, cols); err != nil {
		slog.Warn("analytical write failed", "ticker", ticker, "error", err)
	}
	return nil
}

// SyncAll runs the bulk path over a full ticker list. The list is split into
// chunks of at most the provider's bulk limit; each chunk is one bulk fetch,
// per-ticker normalization with error isolation, and one dual-sink write for
// the whole chunk. A pacing wait separates consecutive chunks (never added
// after the last). Chunk-level failures are recorded and logged, never fatal
// to the run.
func (o *Orchestrator) SyncAll(ctx context.Context, tickers []string) RunReport {
	report := RunReport{RunID: uuid.NewString()}
	start := time.Now()

	chunks := chunkSymbols(tickers, o.chunkSize)
	slog.Info("starting fundamentals sync",
		"run_id", report.RunID, "tickers", len(tickers), "chunks", len(chunks))

	for i, chunk := range chunks {
		if i > 0 {
			if err := o.limiter.Wait(ctx); err != nil {
				slog.Error("pacing wait interrupted", "run_id", report.RunID, "error", err)
				break
			}
		}

		result := o.processChunk(ctx, i, chunk)
		o.logChunk(report.RunID, result)
		report.Chunks = append(report.Chunks, result)
	}

	report.Elapsed = time.Since(start)
	slog.Info("fundamentals sync finished",
		"run_id", report.RunID,
		"records", report.Records(),
		"skipped_tickers", report.SkippedTickers(),
		"failed_chunks", report.FailedChunks(),
		"elapsed", report.Elapsed)
	return report
}

// processChunk performs one bulk fetch and the chunk-wide dual write.
func (o *Orchestrator) processChunk(ctx context.Context, index int, symbols []string) ChunkResult {
	result := ChunkResult{Index: index, Tickers: len(symbols)}

	payloads, err := o.source.FetchBulkFundamentals(ctx, symbols, 0, o.chunkSize)
	if err != nil {
		// No retry: the next chunk is attempted regardless.
		result.FetchErr = err
		return result
	}

	var batch fundamentals.Collections
	for _, payload := range payloads {
		ticker := tickerFromPayload(payload)
		if ticker == "" {
			result.Outcomes = append(result.Outcomes, TickerOutcome{
				Skipped: SkipError,
				Err:     errors.New("payload has no symbol code"),
			})
			continue
		}

		cols, err := fundamentals.Normalize(ticker, payload, o.loc)
		switch {
		case errors.Is(err, fundamentals.ErrEtfData):
			result.Outcomes = append(result.Outcomes, TickerOutcome{Ticker: ticker, Skipped: SkipETF, Err: err})
			continue
		case errors.Is(err, fundamentals.ErrNoFinancials):
			result.Outcomes = append(result.Outcomes, TickerOutcome{Ticker: ticker, Skipped: SkipNoFinancials, Err: err})
			continue
		case err != nil:
			result.Outcomes = append(result.Outcomes, TickerOutcome{Ticker: ticker, Skipped: SkipError, Err: err})
			continue
		}

		result.Outcomes = append(result.Outcomes, TickerOutcome{Ticker: ticker})
		batch.Append(cols)
	}
	result.Records = batch.Len()

	// Document writes run first and independently; an analytical failure can
	// leave a sink gap but never blocks or undoes the document write.
	result.DocumentErr = o.writeDocuments(ctx, batch)
	result.AnalyticalErr = o.writeAnalytics(ctx, batch)
	return result
}

func (o *Orchestrator) writeDocuments(ctx context.Context, cols fundamentals.Collections) error {
	return errors.Join(
		o.documents.UpsertRecords(ctx, "quarterly", cols.Quarterly),
		o.documents.UpsertRecords(ctx, "annual", cols.Annual),
	)
}

func (o *Orchestrator) writeAnalytics(ctx context.Context, cols fundamentals.Collections) error {
	return errors.Join(
		o.analytics.MergeRecords(ctx, "quarterly", cols.Quarterly),
		o.analytics.MergeRecords(ctx, "annual", cols.Annual),
	)
}

// logChunk is the one place bulk-path failures become log lines.
func (o *Orchestrator) logChunk(runID string, result ChunkResult) {
	if result.FetchErr != nil {
		slog.Error("bulk fetch failed, skipping chunk",
			"run_id", runID, "chunk", result.Index, "tickers", result.Tickers, "error", result.FetchErr)
		return
	}
	for _, outcome := range result.Outcomes {
		if outcome.Skipped != "" {
			slog.Warn("ticker skipped",
				"run_id", runID, "chunk", result.Index,
				"ticker", outcome.Ticker, "reason", string(outcome.Skipped), "error", outcome.Err)
		}
	}
	if result.DocumentErr != nil {
		slog.Error("document write failed",
			"run_id", runID, "chunk", result.Index, "error", result.DocumentErr)
	}
	if result.AnalyticalErr != nil {
		slog.Error("analytical write failed",
			"run_id", runID, "chunk", result.Index, "error", result.AnalyticalErr)
	}
	slog.Info("chunk done",
		"run_id", runID, "chunk", result.Index,
		"tickers", result.Tickers, "records", result.Records)
}

// chunkSymbols splits the ticker list into chunks of at most size.
func chunkSymbols(symbols []string, size int) [][]string {
	if size <= 0 {
		size = eodhd.BulkLimit
	}
	var chunks [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		chunks = append(chunks, symbols[start:end])
	}
	return chunks
}

// tickerFromPayload pulls the symbol code out of a bulk payload entry.
func tickerFromPayload(payload eodhd.Payload) string {
	general, ok := payload["General"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := general["Code"].(string)
	return code
}
