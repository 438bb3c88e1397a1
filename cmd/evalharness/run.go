package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"eval_harness/internal/config"
	"eval_harness/internal/eval"
	"eval_harness/internal/models"
	"eval_harness/internal/storage"
)

var runFlags struct {
	suiteFile   string
	concurrency int
	runID       string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a suite of evaluations",
	Long: `Run every test in a YAML suite file through the pipeline and print one
JSON result line per test.

Providers come from the providers file plus any inline declarations in the
suite. A provider whose session cannot be shared across calls requires
--concurrency 1.

Examples:
  # Run a suite with the default providers file
  evalharness run --suite suite.yaml

  # Serialize calls for single-session providers
  evalharness run --suite suite.yaml --concurrency 1`,
	RunE: runSuite,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.suiteFile, "suite", "s", "", "suite file path (required)")
	runCmd.Flags().IntVarP(&runFlags.concurrency, "concurrency", "j", 4, "number of concurrent evaluations")
	runCmd.Flags().StringVar(&runFlags.runID, "run-id", "", "run identifier for persisted records (default: random)")
	_ = runCmd.MarkFlagRequired("suite")
}

// runResult is one JSON output line.
type runResult struct {
	Index    int          `json:"index"`
	Provider string       `json:"provider"`
	Result   *eval.Result `json:"result"`
}

func runSuite(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if providersFile != "" {
		cfg.ProvidersFile = providersFile
	}

	suite, err := config.LoadSuite(runFlags.suiteFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pf := &config.ProvidersFile{}
	if fromFile, err := config.LoadProviders(cfg.ProvidersFile); err == nil {
		pf.Providers = fromFile.Providers
	} else if len(suite.Providers) == 0 {
		return fmt.Errorf("no providers available: %w", err)
	}
	pf.Providers = append(pf.Providers, suite.Providers...)
	if err := a.engine.SetProviders(pf); err != nil {
		return err
	}

	runID := runFlags.runID
	if runID == "" {
		runID = uuid.New().String()
	}

	concurrency := runFlags.concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	type job struct {
		index int
		tc    config.TestCase
	}
	jobs := make(chan job)
	results := make([]*eval.Result, len(suite.Tests))

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				result := a.engine.Invoke(ctx, j.tc.Provider, j.tc.Request())
				results[j.index] = result
				a.persistRecord(ctx, runID, j.tc, result)
			}
		}()
	}

	for i, tc := range suite.Tests {
		jobs <- job{index: i, tc: tc}
	}
	close(jobs)
	wg.Wait()

	encoder := json.NewEncoder(os.Stdout)
	failed, cached := 0, 0
	totalCost := 0.0
	costKnown := false
	for i, result := range results {
		_ = encoder.Encode(runResult{Index: i, Provider: suite.Tests[i].Provider, Result: result})
		if !result.Ok() {
			failed++
		}
		if result.Cached {
			cached++
		}
		if result.CostUSD != nil {
			totalCost += *result.CostUSD
			costKnown = true
		}
	}

	fmt.Fprintf(os.Stderr, "run %s: %d evals, %d failed, %d cached", runID, len(results), failed, cached)
	if costKnown {
		fmt.Fprintf(os.Stderr, ", $%.6f", totalCost)
	}
	fmt.Fprintln(os.Stderr)

	a.reportPersisted(ctx, runID)

	if failed > 0 {
		return fmt.Errorf("%d of %d evaluations failed", failed, len(results))
	}
	return nil
}

// reportPersisted drains the persistence queue and prints the database-side
// run summary, if a database is configured.
func (a *app) reportPersisted(ctx context.Context, runID string) {
	if a.worker == nil || a.db == nil {
		return
	}

	// Stop the writer only after the queue is empty so the summary covers
	// the whole run. Stop waits out the in-flight batch.
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		length, err := a.worker.GetQueueLength(ctx)
		if err != nil || length == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	_ = a.worker.Stop()
	a.worker = nil

	summary, err := storage.NewResultRepository(a.db).SummarizeRun(ctx, runID)
	if err != nil {
		a.logger.Warn("Failed to summarize run", "error", err)
		return
	}
	fmt.Fprintf(os.Stderr, "persisted %d records (%d failed), %d prompt + %d completion tokens",
		summary.Evals, summary.Failures, summary.PromptTokens, summary.CompletionTokens)
	if summary.CostUSD != nil {
		fmt.Fprintf(os.Stderr, ", $%.6f", *summary.CostUSD)
	}
	fmt.Fprintln(os.Stderr)
}

// persistRecord stages one record for the database writer, if configured.
func (a *app) persistRecord(ctx context.Context, runID string, tc config.TestCase, result *eval.Result) {
	if a.worker == nil {
		return
	}
	spec, err := a.registry.Parser().Parse(tc.Provider)
	if err != nil {
		return
	}
	rec := models.NewEvalRecord(runID, tc.Provider, spec.Vendor, string(spec.Mode), spec.Model, result)
	rec.SessionKey = tc.SessionKey
	if err := a.worker.Enqueue(ctx, rec); err != nil {
		a.logger.Warn("Failed to stage eval record", "error", err)
	}
}
