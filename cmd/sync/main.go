// Command sync runs the fundamentals pipeline once over a ticker list and
// exits. With ticker arguments it runs the single-ticker path for each
// instead of the full list.
//
//	sync            # full run over TICKER_FILE
//	sync MSFT AAPL  # single-ticker syncs
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"fundsync/pkg/core/config"
	"fundsync/pkg/core/eodhd"
	"fundsync/pkg/core/pipeline"
	"fundsync/pkg/core/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Info(".env not found, using process environment")
	}

	cfg := config.Load()
	if err := cfg.ValidatePipeline(); err != nil {
		slog.Error("configuration incomplete", "error", err)
		os.Exit(1)
	}

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("bad configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if err := store.InitMongo(ctx, cfg.MongoURI); err != nil {
		slog.Error("mongodb init failed", "error", err)
		os.Exit(1)
	}
	if err := store.InitBigQuery(ctx, cfg.BQProjectID, []byte(cfg.BQCredentialsJSON)); err != nil {
		slog.Error("bigquery init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close(ctx)

	docs := store.NewMongoSink(store.MongoDatabase(cfg.MongoDatabase))
	if err := docs.EnsureIndexes(ctx); err != nil {
		slog.Error("index creation failed", "error", err)
		os.Exit(1)
	}
	analytics := store.NewBigQuerySink(store.BigQueryClient(), cfg.BQDataset)
	source := eodhd.NewClient(cfg.EODHDToken, cfg.Exchange, cfg.ExchangeSuffix)

	orch := pipeline.NewOrchestrator(source, docs, analytics, loc)

	if args := os.Args[1:]; len(args) > 0 {
		runSingles(ctx, orch, args)
		return
	}

	tickers, err := pipeline.LoadTickerFile(cfg.TickerFile)
	if err != nil {
		slog.Error("could not load ticker list", "path", cfg.TickerFile, "error", err)
		os.Exit(1)
	}

	report := orch.SyncAll(ctx, tickers)
	if report.FailedChunks() == len(report.Chunks) && len(report.Chunks) > 0 {
		os.Exit(1)
	}
}

func runSingles(ctx context.Context, orch *pipeline.Orchestrator, tickers []string) {
	start := time.Now()
	var failed int
	for _, ticker := range tickers {
		if err := orch.SyncTicker(ctx, ticker); err != nil {
			slog.Error("sync failed", "ticker", ticker, "error", err)
			failed++
			continue
		}
		slog.Info("sync done", "ticker", ticker)
	}
	slog.Info("finished", "tickers", len(tickers), "failed", failed, "elapsed", time.Since(start))
	if failed == len(tickers) {
		os.Exit(1)
	}
}
