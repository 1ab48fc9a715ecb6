// Package config assembles the extractor configuration from defaults, an
// optional YAML file and HELIUM_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/helium-extractor/pkg/client"
	"gopkg.in/yaml.v3"
)

// DefaultColumns is the canonical column set of the hotspot info output.
var DefaultColumns = []string{
	"key_to_asset_key",
	"entity_key_str",
	"name",
	"is_active",
	"hotspot_infos.iot.asset",
	"hotspot_infos.iot.location",
	"hotspot_infos.iot.lat",
	"hotspot_infos.iot.long",
	"hotspot_infos.iot.elevation",
	"hotspot_infos.iot.gain",
	"hotspot_infos.iot.is_full_hotspot",
	"hotspot_infos.iot.num_location_asserts",
	"hotspot_infos.iot.is_active",
	"hotspot_infos.iot.dec_est",
	"hotspot_infos.iot.created_at",
	"hotspot_infos.mobile.asset",
	"hotspot_infos.mobile.location",
	"hotspot_infos.mobile.lat",
	"hotspot_infos.mobile.long",
	"hotspot_infos.mobile.device_type",
	"hotspot_infos.mobile.num_location_asserts",
	"hotspot_infos.mobile.is_active",
	"hotspot_infos.mobile.dc_onboarding_fee_paid",
	"hotspot_infos.mobile.created_at",
}

// Config is the complete extractor configuration.
type Config struct {
	Output      OutputConfig       `yaml:"output"`
	API         APIConfig          `yaml:"api"`
	Retry       client.RetryConfig `yaml:"retry"`
	Enrich      EnrichConfig       `yaml:"enrich"`
	Redis       RedisConfig        `yaml:"redis"`
	Log         LogConfig          `yaml:"log"`
	MetricsAddr string             `yaml:"metrics_addr"`
}

// OutputConfig names the files a run produces.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	HotspotFile string `yaml:"hotspot_file"`
	InfoFile    string `yaml:"info_file"`
	OrgOUIFile  string `yaml:"org_oui_file"`
	ShardDir    string `yaml:"shard_dir"`
	KeepShards  bool   `yaml:"keep_shards"`
}

// APIConfig describes the remote API and how hard it may be driven.
type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	Subnetworks       []string      `yaml:"subnetworks"`
	HotspotColumns    []string      `yaml:"hotspot_columns"`
	OrgColumns        []string      `yaml:"org_columns"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxPages          int           `yaml:"max_pages"`
}

// EnrichConfig tunes the detail enrichment stage.
type EnrichConfig struct {
	PoolSize     int      `yaml:"pool_size"`
	BatchSize    int      `yaml:"batch_size"`
	TargetChunks int      `yaml:"target_chunks"`
	LogEvery     int      `yaml:"log_every"`
	Columns      []string `yaml:"columns"`
	KeyColumn    string   `yaml:"key_column"`
	DetailPath   string   `yaml:"detail_path"`
}

// RedisConfig enables the detail response cache when Addr is set.
type RedisConfig struct {
	Addr string        `yaml:"addr"`
	DB   int           `yaml:"db"`
	TTL  time.Duration `yaml:"ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Output: OutputConfig{
			Dir:         ".",
			HotspotFile: "hotspot_data.csv",
			InfoFile:    "hotspot_info_data.csv",
			OrgOUIFile:  "org_oui_data.csv",
			ShardDir:    "shards",
		},
		API: APIConfig{
			BaseURL:     "https://entities.nft.helium.io/v2",
			UserAgent:   "helium-extractor/1.0",
			Timeout:     30 * time.Second,
			Subnetworks: []string{"mobile", "iot"},
			Burst:       1,
		},
		Retry: client.DefaultRetryConfig(),
		Enrich: EnrichConfig{
			PoolSize:     runtime.NumCPU(),
			BatchSize:    100,
			TargetChunks: 1000,
			LogEvery:     100,
			Columns:      append([]string(nil), DefaultColumns...),
			KeyColumn:    "entity_key_str",
			DetailPath:   "hotspot/{key}",
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// not empty) and then with the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from HELIUM_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("HELIUM_OUTPUT_DIR", &c.Output.Dir)
	e.str("HELIUM_SHARD_DIR", &c.Output.ShardDir)
	e.boolean("HELIUM_KEEP_SHARDS", &c.Output.KeepShards)

	e.str("HELIUM_BASE_URL", &c.API.BaseURL)
	e.str("HELIUM_USER_AGENT", &c.API.UserAgent)
	e.duration("HELIUM_TIMEOUT", &c.API.Timeout)
	e.list("HELIUM_SUBNETWORKS", &c.API.Subnetworks)
	e.float("HELIUM_REQUESTS_PER_SECOND", &c.API.RequestsPerSecond)
	e.integer("HELIUM_BURST", &c.API.Burst)

	e.integer("HELIUM_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	e.duration("HELIUM_INITIAL_BACKOFF", &c.Retry.InitialBackoff)
	e.duration("HELIUM_MAX_BACKOFF", &c.Retry.MaxBackoff)

	e.integer("HELIUM_POOL_SIZE", &c.Enrich.PoolSize)
	e.integer("HELIUM_BATCH_SIZE", &c.Enrich.BatchSize)
	e.integer("HELIUM_TARGET_CHUNKS", &c.Enrich.TargetChunks)
	e.integer("HELIUM_LOG_EVERY", &c.Enrich.LogEvery)
	e.list("HELIUM_COLUMNS", &c.Enrich.Columns)
	e.str("HELIUM_KEY_COLUMN", &c.Enrich.KeyColumn)

	e.str("HELIUM_REDIS_ADDR", &c.Redis.Addr)
	e.integer("HELIUM_REDIS_DB", &c.Redis.DB)
	e.duration("HELIUM_CACHE_TTL", &c.Redis.TTL)

	e.str("HELIUM_LOG_LEVEL", &c.Log.Level)
	e.boolean("HELIUM_LOG_PRETTY", &c.Log.Pretty)
	e.str("HELIUM_METRICS_ADDR", &c.MetricsAddr)

	return errors.Join(e.errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.UserAgent == "" {
		errs = append(errs, errors.New("api.user_agent is required"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts))
	}
	if c.Enrich.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("enrich.pool_size must be >= 1 (got %d)", c.Enrich.PoolSize))
	}
	if c.Enrich.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("enrich.batch_size must be >= 1 (got %d)", c.Enrich.BatchSize))
	}
	if c.Enrich.TargetChunks < 1 {
		errs = append(errs, fmt.Errorf("enrich.target_chunks must be >= 1 (got %d)", c.Enrich.TargetChunks))
	}
	if len(c.Enrich.Columns) == 0 {
		errs = append(errs, errors.New("enrich.columns must not be empty"))
	}
	if c.Output.InfoFile == "" || c.Output.HotspotFile == "" || c.Output.OrgOUIFile == "" {
		errs = append(errs, errors.New("output file names must not be empty"))
	}
	if c.API.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("api.requests_per_second must be >= 0 (got %g)", c.API.RequestsPerSecond))
	}

	return errors.Join(errs...)
}

// HotspotPath returns the path of the hotspot list output.
func (c *Config) HotspotPath() string { return filepath.Join(c.Output.Dir, c.Output.HotspotFile) }

// InfoPath returns the path of the enriched hotspot info output.
func (c *Config) InfoPath() string { return filepath.Join(c.Output.Dir, c.Output.InfoFile) }

// OrgOUIPath returns the path of the org OUI output.
func (c *Config) OrgOUIPath() string { return filepath.Join(c.Output.Dir, c.Output.OrgOUIFile) }

// ShardPath returns the shard directory. A relative ShardDir is taken
// relative to the output directory.
func (c *Config) ShardPath() string {
	if filepath.IsAbs(c.Output.ShardDir) {
		return c.Output.ShardDir
	}
	return filepath.Join(c.Output.Dir, c.Output.ShardDir)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}
