// Command worker executes one scraping task from a JSON or YAML definition:
// it validates the submission, acquires a proxy, drives a headless browser
// through the configured pages, and persists the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/fetchlab/harvester/internal/browser"
	"github.com/fetchlab/harvester/internal/monitoring"
	"github.com/fetchlab/harvester/internal/proxy"
	"github.com/fetchlab/harvester/internal/results"
	"github.com/fetchlab/harvester/internal/scraper"
	"github.com/fetchlab/harvester/internal/settings"
	"github.com/fetchlab/harvester/internal/taskconfig"
)

func main() {
	var (
		taskID       = flag.String("id", "", "task identifier (random UUID when empty)")
		validateOnly = flag.Bool("validate", false, "validate the task definition and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <task-file>\n\nReads a JSON or YAML task definition (\"-\" for stdin) and executes it.\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfgSettings, err := settings.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	log := newLogger(cfgSettings.LogLevel)

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadTask(flag.Arg(0))
	if err != nil {
		log.Error().Err(err).Msg("task definition rejected")
		os.Exit(1)
	}
	if *validateOnly {
		fmt.Println("task definition is valid")
		return
	}

	id := *taskID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, id, cfg, cfgSettings, log); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, taskID string, cfg *taskconfig.TaskConfig, s *settings.Settings, log zerolog.Logger) error {
	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	var pool *proxy.Pool
	if s.ProxyAPIKey != "" {
		provider := proxy.NewProviderClient(s.ProxyAPIKey, s.ProxyAPIURL)
		checker := proxy.NewHealthChecker(10 * time.Second)
		pool = proxy.NewPool(provider, checker, proxy.PoolConfig{
			HealthCheckInterval: s.HealthCheckInterval,
			Country:             s.CountryPreference,
		}, log)
		if err := pool.Initialize(ctx); err != nil {
			log.Error().Err(err).Msg("proxy pool initialization failed")
			return err
		}
		defer pool.Stop()
		monitoring.RegisterPoolGauges(registry, pool.GetStats)
	} else {
		log.Warn().Msg("no proxy API key configured, running without proxies")
	}

	var inspector monitoring.PoolInspector
	if pool != nil {
		inspector = pool
	}
	server := monitoring.NewServer(s.MetricsAddr, registry, inspector, log)
	server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	var index *results.Index
	if s.ResultsIndexPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.ResultsIndexPath), 0o755); err == nil {
			if index, err = results.OpenIndex(s.ResultsIndexPath); err != nil {
				log.Warn().Err(err).Msg("result index unavailable")
			} else {
				defer index.Close()
			}
		}
	}
	writer := results.NewWriter(s.ResultsDir, index, log)
	if _, err := writer.PruneOlderThan(s.ResultRetention); err != nil {
		log.Warn().Err(err).Msg("result pruning failed")
	}

	var source scraper.ProxySource
	if pool != nil {
		source = pool
	}
	factory := func(ctx context.Context, cfg *taskconfig.TaskConfig, ep *proxy.Endpoint) (scraper.PageSession, error) {
		return browser.NewSession(ctx, cfg, ep, log)
	}

	runner := scraper.NewRunner(source, factory, writer, metrics, log)
	result, err := runner.Run(ctx, taskID, cfg)
	if err != nil {
		log.Error().Err(err).Msg("task execution failed")
		return err
	}

	summary, _ := json.MarshalIndent(map[string]interface{}{
		"task_id":       result.TaskID,
		"status":        result.Status,
		"pages":         result.PagesScraped,
		"records":       result.TotalRecords,
		"compute_units": result.ComputeUnitsUsed,
		"results_file":  result.Metadata["results_file"],
		"errors":        result.Errors,
	}, "", "  ")
	fmt.Println(string(summary))

	if result.Status != scraper.StatusCompleted {
		return fmt.Errorf("task %s failed", taskID)
	}
	return nil
}

// loadTask reads and validates a task definition. YAML files are converted
// to the canonical JSON form before strict parsing.
func loadTask(path string) (*taskconfig.TaskConfig, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task definition: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var m map[string]interface{}
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("invalid YAML task definition: %w", err)
		}
		return taskconfig.ParseMap(m)
	}
	return taskconfig.Parse(raw)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
