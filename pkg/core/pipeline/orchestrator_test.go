package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fundsync/pkg/core/eodhd"
	"fundsync/pkg/core/fundamentals"
)

// fakeSource serves canned payloads and records every bulk call.
type fakeSource struct {
	single    map[string]eodhd.Payload
	singleErr error
	bulkCalls [][]string
	bulkErrAt map[int]error // call index -> error
}

func (f *fakeSource) FetchFundamentals(ctx context.Context, ticker string) (eodhd.Payload, error) {
	if f.singleErr != nil {
		return nil, f.singleErr
	}
	return f.single[ticker], nil
}

func (f *fakeSource) FetchBulkFundamentals(ctx context.Context, symbols []string, offset, limit int) ([]eodhd.Payload, error) {
	call := len(f.bulkCalls)
	f.bulkCalls = append(f.bulkCalls, symbols)
	if err, ok := f.bulkErrAt[call]; ok {
		return nil, err
	}
	payloads := make([]eodhd.Payload, 0, len(symbols))
	for _, s := range symbols {
		if p, ok := f.single[s]; ok {
			payloads = append(payloads, p)
		} else {
			payloads = append(payloads, goodPayload(s))
		}
	}
	return payloads, nil
}

// fakeSink records writes per granularity.
type fakeSink struct {
	calls   int
	byTable map[string][]fundamentals.Record
	err     error
}

func newFakeSink() *fakeSink {
	return &fakeSink{byTable: make(map[string][]fundamentals.Record)}
}

func (f *fakeSink) UpsertRecords(ctx context.Context, granularity string, records []fundamentals.Record) error {
	return f.write(granularity, records)
}

func (f *fakeSink) MergeRecords(ctx context.Context, table string, records []fundamentals.Record) error {
	return f.write(table, records)
}

func (f *fakeSink) write(table string, records []fundamentals.Record) error {
	if len(records) > 0 {
		f.calls++
		f.byTable[table] = append(f.byTable[table], records...)
	}
	return f.err
}

// fakePacer counts inter-chunk waits.
type fakePacer struct{ waits int }

func (f *fakePacer) Wait(ctx context.Context) error {
	f.waits++
	return nil
}

func goodPayload(ticker string) eodhd.Payload {
	return eodhd.Payload{
		"General": map[string]any{"Code": ticker},
		"Financials": map[string]any{
			"Balance_Sheet": map[string]any{
				"quarterly": map[string]any{
					"2023-06-30": map[string]any{"totalAssets": 100.0},
				},
			},
		},
	}
}

func noFinancialsPayload(ticker string) eodhd.Payload {
	return eodhd.Payload{
		"General":    map[string]any{"Code": ticker},
		"Financials": map[string]any{},
	}
}

func etfPayload(ticker string) eodhd.Payload {
	return eodhd.Payload{
		"General":    map[string]any{"Code": ticker},
		"ETF_Data":   map[string]any{"ISIN": "X"},
		"Financials": map[string]any{},
	}
}

func newTestOrchestrator(src Source, docs DocumentSink, analytics AnalyticalSink) (*Orchestrator, *fakePacer) {
	o := NewOrchestrator(src, docs, analytics, time.UTC)
	p := &fakePacer{}
	o.limiter = p
	return o, p
}

func tickerList(n int) []string {
	tickers := make([]string, n)
	for i := range tickers {
		tickers[i] = fmt.Sprintf("T%04d", i)
	}
	return tickers
}

func TestSyncAll_ChunkingAndPacing(t *testing.T) {
	src := &fakeSource{single: map[string]eodhd.Payload{}}
	o, pacer := newTestOrchestrator(src, newFakeSink(), newFakeSink())

	report := o.SyncAll(context.Background(), tickerList(1200))

	if len(src.bulkCalls) != 3 {
		t.Fatalf("bulk calls = %d, want 3", len(src.bulkCalls))
	}
	wantSizes := []int{500, 500, 200}
	for i, call := range src.bulkCalls {
		if len(call) != wantSizes[i] {
			t.Errorf("chunk %d size = %d, want %d", i, len(call), wantSizes[i])
		}
	}
	if pacer.waits != 2 {
		t.Errorf("pacing waits = %d, want 2 (between chunks only)", pacer.waits)
	}
	if len(report.Chunks) != 3 {
		t.Errorf("chunk results = %d, want 3", len(report.Chunks))
	}
}

func TestSyncAll_PerTickerIsolation(t *testing.T) {
	// One no-financials ticker and one ETF inside the chunk must not prevent
	// the remaining tickers' records from being written.
	src := &fakeSource{single: map[string]eodhd.Payload{
		"BAD": noFinancialsPayload("BAD"),
		"SPY": etfPayload("SPY"),
	}}
	docs := newFakeSink()
	analytics := newFakeSink()
	o, _ := newTestOrchestrator(src, docs, analytics)

	report := o.SyncAll(context.Background(), []string{"AAA", "BAD", "SPY", "BBB"})

	if got := len(docs.byTable["quarterly"]); got != 2 {
		t.Errorf("document records = %d, want 2 (AAA and BBB)", got)
	}
	if report.SkippedTickers() != 2 {
		t.Errorf("skipped tickers = %d, want 2", report.SkippedTickers())
	}

	var reasons []SkipReason
	for _, outcome := range report.Chunks[0].Outcomes {
		if outcome.Skipped != "" {
			reasons = append(reasons, outcome.Skipped)
		}
	}
	want := map[SkipReason]bool{SkipNoFinancials: false, SkipETF: false}
	for _, r := range reasons {
		want[r] = true
	}
	if !want[SkipNoFinancials] || !want[SkipETF] {
		t.Errorf("skip reasons = %v, want both no_financials and etf", reasons)
	}
}

func TestSyncAll_ChunkFetchFailureIsolated(t *testing.T) {
	src := &fakeSource{
		single:    map[string]eodhd.Payload{},
		bulkErrAt: map[int]error{0: &eodhd.ProviderError{StatusCode: 503}},
	}
	docs := newFakeSink()
	o, _ := newTestOrchestrator(src, docs, newFakeSink())
	o.chunkSize = 2

	report := o.SyncAll(context.Background(), []string{"A", "B", "C", "D"})

	if len(src.bulkCalls) != 2 {
		t.Fatalf("bulk calls = %d, want 2 (failed chunk not retried, next attempted)", len(src.bulkCalls))
	}
	if report.FailedChunks() != 1 {
		t.Errorf("failed chunks = %d, want 1", report.FailedChunks())
	}
	if report.Chunks[0].FetchErr == nil {
		t.Error("first chunk missing fetch error")
	}
	if got := len(docs.byTable["quarterly"]); got != 2 {
		t.Errorf("document records = %d, want 2 from the surviving chunk", got)
	}
}

func TestSyncAll_OneWritePerChunk(t *testing.T) {
	src := &fakeSource{single: map[string]eodhd.Payload{}}
	docs := newFakeSink()
	o, _ := newTestOrchestrator(src, docs, newFakeSink())
	o.chunkSize = 3

	o.SyncAll(context.Background(), []string{"A", "B", "C"})

	// Three tickers, one chunk: the quarterly collection is written once,
	// not once per ticker.
	if docs.calls != 1 {
		t.Errorf("document sink calls = %d, want 1 per chunk per non-empty granularity", docs.calls)
	}
}

func TestSyncAll_AnalyticalFailureDoesNotBlockDocuments(t *testing.T) {
	src := &fakeSource{single: map[string]eodhd.Payload{}}
	docs := newFakeSink()
	analytics := newFakeSink()
	analytics.err = errors.New("streaming quota exceeded")
	o, _ := newTestOrchestrator(src, docs, analytics)

	report := o.SyncAll(context.Background(), []string{"A", "B"})

	if got := len(docs.byTable["quarterly"]); got != 2 {
		t.Errorf("document records = %d, want 2 despite analytical failure", got)
	}
	if report.Chunks[0].AnalyticalErr == nil {
		t.Error("analytical error not surfaced on chunk result")
	}
	if report.Chunks[0].DocumentErr != nil {
		t.Errorf("unexpected document error: %v", report.Chunks[0].DocumentErr)
	}
}

func TestSyncTicker_ErrorsPropagate(t *testing.T) {
	src := &fakeSource{singleErr: eodhd.ErrNotFound}
	o, _ := newTestOrchestrator(src, newFakeSink(), newFakeSink())

	err := o.SyncTicker(context.Background(), "NOPE")
	if !errors.Is(err, eodhd.ErrNotFound) {
		t.Errorf("expected ErrNotFound to propagate, got %v", err)
	}

	src = &fakeSource{single: map[string]eodhd.Payload{"SPY": etfPayload("SPY")}}
	o, _ = newTestOrchestrator(src, newFakeSink(), newFakeSink())
	err = o.SyncTicker(context.Background(), "SPY")
	if !errors.Is(err, fundamentals.ErrEtfData) {
		t.Errorf("expected ErrEtfData to propagate, got %v", err)
	}
}

func TestSyncTicker_AnalyticalFailureSwallowed(t *testing.T) {
	src := &fakeSource{single: map[string]eodhd.Payload{"MSFT": goodPayload("MSFT")}}
	docs := newFakeSink()
	analytics := newFakeSink()
	analytics.err = errors.New("merge failed")
	o, _ := newTestOrchestrator(src, docs, analytics)

	if err := o.SyncTicker(context.Background(), "MSFT"); err != nil {
		t.Errorf("analytical failure must not surface from SyncTicker, got %v", err)
	}
	if got := len(docs.byTable["quarterly"]); got != 1 {
		t.Errorf("document records = %d, want 1", got)
	}
}

func TestSyncTicker_DocumentFailurePropagates(t *testing.T) {
	src := &fakeSource{single: map[string]eodhd.Payload{"MSFT": goodPayload("MSFT")}}
	docs := newFakeSink()
	docs.err = errors.New("connection reset")
	o, _ := newTestOrchestrator(src, docs, newFakeSink())

	if err := o.SyncTicker(context.Background(), "MSFT"); err == nil {
		t.Error("expected document-store error to propagate")
	}
}

func TestChunkSymbols(t *testing.T) {
	chunks := chunkSymbols(tickerList(1200), 500)
	if len(chunks) != 3 || len(chunks[0]) != 500 || len(chunks[1]) != 500 || len(chunks[2]) != 200 {
		sizes := make([]int, len(chunks))
		for i, c := range chunks {
			sizes[i] = len(c)
		}
		t.Errorf("chunk sizes = %v, want [500 500 200]", sizes)
	}

	if got := chunkSymbols(nil, 500); got != nil {
		t.Errorf("chunking empty list = %v, want nil", got)
	}
}

func TestLoadTickerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickers.csv")
	content := "Symbol\naapl\n\nMSFT\n  goog  \n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write ticker file: %v", err)
	}

	tickers, err := LoadTickerFile(path)
	if err != nil {
		t.Fatalf("LoadTickerFile returned error: %v", err)
	}

	want := []string{"AAPL", "MSFT", "GOOG"}
	if len(tickers) != len(want) {
		t.Fatalf("tickers = %v, want %v", tickers, want)
	}
	for i := range want {
		if tickers[i] != want[i] {
			t.Errorf("ticker[%d] = %q, want %q", i, tickers[i], want[i])
		}
	}
}
