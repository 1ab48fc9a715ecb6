// Command helium-extractor downloads the Helium hotspot and org OUI lists
// and enriches every hotspot with its detail record, writing CSV files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/helium-extractor/pkg/cache"
	"github.com/Sternrassler/helium-extractor/pkg/client"
	"github.com/Sternrassler/helium-extractor/pkg/config"
	"github.com/Sternrassler/helium-extractor/pkg/csvfile"
	"github.com/Sternrassler/helium-extractor/pkg/enrich"
	"github.com/Sternrassler/helium-extractor/pkg/flatten"
	"github.com/Sternrassler/helium-extractor/pkg/logging"
	"github.com/Sternrassler/helium-extractor/pkg/metrics"
	"github.com/Sternrassler/helium-extractor/pkg/pagination"
	"github.com/Sternrassler/helium-extractor/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// options are the run modes selected on the command line.
type options struct {
	skipList   bool
	mergeOnly  bool
	noClean    bool
	purgeCache bool
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	skipList := flag.Bool("skip-list", false, "reuse the existing hotspot list instead of downloading it")
	mergeOnly := flag.Bool("merge-only", false, "only merge shards left by an earlier run")
	noClean := flag.Bool("no-clean", false, "keep output files from earlier runs and append to them")
	purgeCache := flag.Bool("purge-cache", false, "delete cached API responses before the run (requires Redis)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{skipList: *skipList, mergeOnly: *mergeOnly, noClean: *noClean, purgeCache: *purgeCache}
	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error().Err(err).Msg("Helium data extraction failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, logger zerolog.Logger) error {
	start := time.Now()
	logger.Info().Msg("Helium data extraction started")

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: newMetricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis - detail responses are cached")
	}

	if opts.purgeCache {
		if redisClient == nil {
			return fmt.Errorf("-purge-cache needs a redis address")
		}
		if _, err := cache.NewManager(redisClient).Purge(ctx); err != nil {
			return fmt.Errorf("purge response cache: %w", err)
		}
	}

	api, err := newAPIClient(cfg, redisClient)
	if err != nil {
		return err
	}
	defer api.Close()

	x := &extractor{cfg: cfg, api: api, logger: logger}

	if opts.mergeOnly {
		return x.mergeLeftovers()
	}

	if !opts.noClean {
		if err := x.cleanup(opts.skipList); err != nil {
			return err
		}
	}

	if !opts.skipList {
		if err := x.listStage(ctx); err != nil {
			return err
		}
	}

	keys, err := x.readKeys()
	if err != nil {
		return err
	}

	if err := x.enrich(ctx, keys); err != nil {
		return err
	}

	logger.Info().Dur("duration", time.Since(start)).Msg("Helium data extraction finished")
	return nil
}

func newAPIClient(cfg config.Config, redisClient *redis.Client) (*client.Client, error) {
	clientCfg := client.DefaultConfig(cfg.API.BaseURL)
	clientCfg.UserAgent = cfg.API.UserAgent
	clientCfg.Timeout = cfg.API.Timeout
	clientCfg.Retry = cfg.Retry
	clientCfg.RateLimit = ratelimit.DefaultConfig()
	clientCfg.RateLimit.RequestsPerSecond = cfg.API.RequestsPerSecond
	clientCfg.RateLimit.Burst = cfg.API.Burst
	clientCfg.Redis = redisClient
	clientCfg.CacheTTL = cfg.Redis.TTL

	api, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}
	return api, nil
}

func newMetricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// extractor holds what the stages of one run share.
type extractor struct {
	cfg    config.Config
	api    *client.Client
	logger zerolog.Logger
}

// cleanup deletes the outputs of an earlier run. The list files are kept
// when they are about to be reused.
func (x *extractor) cleanup(keepLists bool) error {
	paths := []string{x.cfg.InfoPath()}
	if !keepLists {
		paths = append(paths, x.cfg.HotspotPath(), x.cfg.OrgOUIPath())
	}

	for _, p := range paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			x.logger.Info().Str("path", p).Msg("Removed old output file")
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("remove old output: %w", err)
		}
	}
	return nil
}

// listStage downloads the hotspot list and the org OUI list concurrently.
// They write different files.
func (x *extractor) listStage(ctx context.Context) error {
	if err := os.MkdirAll(x.cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return x.listHotspots(gctx) })
	g.Go(func() error { return x.listOrgs(gctx) })
	return g.Wait()
}

func (x *extractor) listHotspots(ctx context.Context) error {
	x.logger.Info().Strs("subnetworks", x.cfg.API.Subnetworks).Msg("Processing for hotspots data started")

	walkerCfg := pagination.DefaultConfig()
	walkerCfg.MaxPages = x.cfg.API.MaxPages
	walker := pagination.NewCursorWalker(x.api, walkerCfg)
	sink := &csvSink{path: x.cfg.HotspotPath(), columns: x.cfg.API.HotspotColumns}

	for _, sub := range x.cfg.API.Subnetworks {
		start := "hotspots?subnetwork=" + url.QueryEscape(sub)
		stats, err := walker.Walk(ctx, start, func(p pagination.Page) error {
			return sink.write(p.Items)
		})
		if err != nil {
			return fmt.Errorf("list hotspots of subnetwork %s: %w", sub, err)
		}
		x.logger.Info().
			Str("subnetwork", sub).
			Int("pages", stats.Pages).
			Int("items", stats.Items).
			Msg("Processing for hotspots subnetwork finished")
	}
	return nil
}

func (x *extractor) listOrgs(ctx context.Context) error {
	x.logger.Info().Msg("Processing for org OUI data started")

	records, err := pagination.FetchList(ctx, x.api, "oui/all", "orgs")
	if err != nil {
		return fmt.Errorf("list org OUIs: %w", err)
	}

	sink := &csvSink{path: x.cfg.OrgOUIPath(), columns: x.cfg.API.OrgColumns}
	if err := sink.write(records); err != nil {
		return err
	}

	x.logger.Info().Int("orgs", len(records)).Msg("Processing for org OUI data finished")
	return nil
}

// readKeys reads the detail keys from the hotspot list. Without the
// configured key column the first column is used.
func (x *extractor) readKeys() ([]string, error) {
	path := x.cfg.HotspotPath()
	keys, err := csvfile.ReadColumn(path, x.cfg.Enrich.KeyColumn)
	if errors.Is(err, csvfile.ErrColumnNotFound) {
		x.logger.Warn().
			Str("column", x.cfg.Enrich.KeyColumn).
			Msg("Key column not in hotspot list - using the first column")
		keys, err = csvfile.ReadColumn(path, "")
	}
	if err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	return keys, nil
}

func (x *extractor) pipeline() (*enrich.Pipeline, error) {
	return enrich.NewPipeline(x.api, enrich.Config{
		PoolSize:     x.cfg.Enrich.PoolSize,
		BatchSize:    x.cfg.Enrich.BatchSize,
		TargetChunks: x.cfg.Enrich.TargetChunks,
		LogEvery:     x.cfg.Enrich.LogEvery,
		Columns:      x.cfg.Enrich.Columns,
		ShardDir:     x.cfg.ShardPath(),
		KeepShards:   x.cfg.Output.KeepShards,
		Fetcher: enrich.FetcherConfig{
			PathTemplate: x.cfg.Enrich.DetailPath,
		},
	})
}

func (x *extractor) enrich(ctx context.Context, keys []string) error {
	p, err := x.pipeline()
	if err != nil {
		return err
	}

	report, err := p.Run(ctx, keys, x.cfg.InfoPath())
	if err != nil {
		if errors.Is(err, enrich.ErrChunksLost) {
			x.logger.Warn().
				Ints("lost_chunks", report.LostChunks).
				Int("lost_keys", report.LostKeys).
				Msg("Output written without some chunks")
		}
		return err
	}

	x.logger.Info().
		Int("keys", report.Keys).
		Int64("skipped", report.Progress.Skipped).
		Int("rows", report.Merge.Rows).
		Str("output", report.Merge.Output).
		Msg("Hotspot info written")
	return nil
}

func (x *extractor) mergeLeftovers() error {
	p, err := x.pipeline()
	if err != nil {
		return err
	}
	result, err := p.MergeLeftovers(x.cfg.InfoPath())
	if err != nil {
		return err
	}
	x.logger.Info().
		Int("shards", result.Shards).
		Int("rows", result.Rows).
		Msg("Leftover shards merged")
	return nil
}

// csvSink appends list records to one file under a fixed column set: the
// configured columns, else the header already in the file, else the fields
// of the first non-empty batch.
type csvSink struct {
	path    string
	columns []string
}

func (s *csvSink) write(records []flatten.Record) error {
	if len(records) == 0 {
		return nil
	}
	if len(s.columns) == 0 {
		header, err := csvfile.ReadHeader(s.path)
		if err != nil {
			return err
		}
		s.columns = header
		if len(s.columns) == 0 {
			s.columns = flatten.Columns(records)
		}
	}
	return csvfile.AppendRecords(s.path, s.columns, records)
}
