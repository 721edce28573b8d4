package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/mr1hm/disaster-response/internal/bmkg"
	"github.com/mr1hm/disaster-response/internal/config"
	"github.com/mr1hm/disaster-response/internal/events"
	"github.com/mr1hm/disaster-response/internal/ingestion"
	"github.com/mr1hm/disaster-response/internal/logging"
	"github.com/mr1hm/disaster-response/internal/observability"
	"github.com/mr1hm/disaster-response/internal/repository"
)

func main() {
	os.Exit(run())
}

func run() int {
	syncType := flag.String("type", string(ingestion.ModeAll), "feed to sync: latest, recent, felt or all")
	scheduled := flag.Bool("schedule", false, "log only, no interactive output (for cron and schedulers)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	if *scheduled {
		logging.Setup(cfg.Logging.Level)
	} else {
		// Keep stdout for the summary; only warnings reach the terminal.
		logging.SetupWriter(os.Stderr, "warn", "text")
	}

	mode, err := ingestion.ParseMode(*syncType)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	store, err := repository.NewStore(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metrics := observability.NewMetrics()

	// No in-process consumers here; events only leave the process via Kafka.
	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafka.Close()
		publisher = kafka
	}

	syncer := ingestion.NewSyncer(
		bmkg.NewClient(metrics),
		ingestion.NewResolver(store),
		ingestion.NewMaterializer(store, store, publisher, bmkg.NewDateTimeParser(nil, metrics.DatetimeFallbacks), nil),
		metrics,
	)

	result := syncer.Sync(context.Background(), mode)

	created, skipped := result.Counts()
	if *scheduled {
		slog.Info("bmkg sync finished", "type", mode, "success", result.Success,
			"created", created, "skipped", skipped, "message", result.Message)
	} else {
		color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
		printResult(os.Stdout, mode, result, color)
	}

	if !result.Success {
		return 1
	}
	return 0
}

const (
	ansiReset = "\033[0m"
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiDim   = "\033[2m"
)

func printResult(w io.Writer, mode ingestion.Mode, r *ingestion.Result, color bool) {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + ansiReset
	}
	line := func(prefix string, r *ingestion.Result) {
		mark := paint(ansiGreen, "✓")
		if !r.Success {
			mark = paint(ansiRed, "✗")
		}
		fmt.Fprintf(w, "%s%s %s\n", prefix, mark, r.Message)
		if r.Stats != nil {
			fmt.Fprintf(w, "%s  %s\n", prefix, paint(ansiDim,
				fmt.Sprintf("created: %d, skipped: %d, processed: %d", r.Stats.Created, r.Stats.Skipped, r.Stats.TotalProcessed)))
		}
	}

	line("", r)

	if data, ok := r.Data.(*ingestion.CombinedData); ok && mode == ingestion.ModeAll {
		for _, sub := range []struct {
			name string
			r    *ingestion.Result
		}{{"latest", data.Latest}, {"recent", data.Recent}, {"felt", data.Felt}} {
			fmt.Fprintf(w, "  %s:\n", sub.name)
			line("    ", sub.r)
		}
		fmt.Fprintf(w, "Total created: %d, total skipped: %d\n", r.Summary.TotalCreated, r.Summary.TotalSkipped)
	}
}
