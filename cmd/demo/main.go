// chronoindex demo - exercises the public API end to end: save a handful
// of records, run a similarity search and a context search, force a decay
// sweep and consolidation pass, then (with -snapshot) write a snapshot to
// disk.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/chronoindex/chronoindex/pkg/config"
	"github.com/chronoindex/chronoindex/pkg/engine"
	"github.com/chronoindex/chronoindex/pkg/logging"
	"github.com/chronoindex/chronoindex/pkg/temporal"
	"github.com/chronoindex/chronoindex/pkg/version"
)

func main() {
	dim := flag.Int("dim", 32, "vector dimension")
	count := flag.Int("n", 20, "number of synthetic records to seed")
	snapshotPath := flag.String("snapshot", "", "path to write/restore a snapshot (optional)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	fmt.Printf("chronoindex demo v%s\n", version.Version)

	cfg := config.DefaultConfig()
	cfg.Dimension = *dim
	cfg.MaxMemories = *count * 10
	cfg.AutoCleanupEnabled = true
	cfg.CleanupInterval = 30 * time.Second

	logCfg := logging.DefaultConfig()
	logCfg.Level = *logLevel

	svc, err := engine.New(cfg, logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init engine: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close engine: %v\n", err)
		}
	}()

	contexts := []string{"work", "personal", "research"}
	for i := 0; i < *count; i++ {
		ctx := contexts[i%len(contexts)]
		rec := syntheticRecord(fmt.Sprintf("mem-%d", i), ctx, *dim)
		if err := svc.Save(rec); err != nil {
			fmt.Fprintf(os.Stderr, "save %s: %v\n", rec.Vector.ID, err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded %d records across %d contexts\n", *count, len(contexts))

	query := syntheticRecord("query", "", *dim).Vector.Data
	results, queryID, err := svc.SearchSimilar(query, 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search similar: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("top %d similar to a random query:\n", len(results))
	for _, r := range results {
		fmt.Printf("  %-10s score=%.4f context=%s\n", r.Record.Vector.ID, r.Score, r.Record.Attributes.Context)
	}

	if diag, ok := svc.Explain(queryID); ok {
		fmt.Printf("explain query %d: kind=%s k=%d results=%d duration=%s\n",
			diag.QueryID, diag.Kind, diag.K, diag.ResultCount, diag.Duration)
	}

	ctxResults, _, err := svc.SearchByContext("work", query, 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search by context: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d records in context 'work'\n", len(ctxResults))

	if summary, ok := svc.GetContextSummary("work"); ok {
		fmt.Printf("context summary 'work': count=%d mean_importance=%.3f\n", summary.MemoryCount, summary.MeanImportance)
	}

	if err := svc.Consolidate(); err != nil {
		fmt.Fprintf(os.Stderr, "consolidate: %v\n", err)
		os.Exit(1)
	}
	if err := svc.ApplyDecay(time.Hour); err != nil {
		fmt.Fprintf(os.Stderr, "apply decay: %v\n", err)
		os.Exit(1)
	}

	stats := svc.Stats()
	fmt.Printf("stats after consolidate+decay: total=%d capacity_used=%.2f%% mean_importance=%.3f\n",
		stats.Total, stats.CapacityUsed*100, stats.MeanImportance)

	if *snapshotPath != "" {
		if err := svc.Snapshot(*snapshotPath); err != nil {
			fmt.Fprintf(os.Stderr, "snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote snapshot to %s\n", *snapshotPath)
	}
}

func syntheticRecord(id, context string, dim int) temporal.TemporalRecord {
	data := make([]float32, dim)
	for i := range data {
		data[i] = rand.Float32()*2 - 1
	}
	now := time.Now()
	return temporal.TemporalRecord{
		Vector: temporal.Vector{ID: id, Data: data},
		Attributes: temporal.MemoryAttributes{
			CreatedAt:     now,
			LastAccess:    now,
			Importance:    rand.Float32(),
			Context:       context,
			DecayRate:     0.1,
			Relationships: map[string]struct{}{},
		},
	}
}
