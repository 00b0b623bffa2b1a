// Package config loads service settings from the environment (and an
// optional .env file) and the marketplace source list from YAML.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/freshness"
	"github.com/WessleyAI/wessley-pricing/engine/market"
	"github.com/WessleyAI/wessley-pricing/engine/research"
)

//go:embed default_sources.yaml
var defaultSourcesYAML []byte

// Config holds every runtime setting.
type Config struct {
	Port       string
	CORSOrigin string
	LogLevel   string

	// StoreBackend is memory, sqlite, postgres or redis.
	StoreBackend  string
	SQLitePath    string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// CatalogBackend is memory or neo4j.
	CatalogBackend string
	Neo4jURL       string
	Neo4jUser      string
	Neo4jPass      string
	Neo4jDatabase  string

	// NATSURL enables research events when set.
	NATSURL string
	// PriceSync subscribes to research events and pushes prices into the
	// catalog when confidence reaches PriceSyncMinConfidence.
	PriceSync              bool
	PriceSyncMinConfidence int

	// RefreshSpec is the cron schedule of the stale refresh; empty disables.
	RefreshSpec string

	FreshnessWindow time.Duration
	AdapterTimeout  time.Duration
	BatchSize       int
	BatchDelay      time.Duration
	BulkParallelism int
	Policy          market.Policy

	Sources []SourceConfig
}

// SourceConfig is one entry of the sources file.
type SourceConfig struct {
	Name          string        `yaml:"name"`
	Disabled      bool          `yaml:"disabled"`
	BaseURL       string        `yaml:"base_url"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	MaxResults    int           `yaml:"max_results"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	FailThreshold int           `yaml:"fail_threshold"`
	OpenTimeout   time.Duration `yaml:"open_timeout"`
}

// Source returns the typed source name.
func (s SourceConfig) Source() domain.Source { return domain.Source(s.Name) }

// APIKey reads the credential from the environment.
func (s SourceConfig) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.APIKeyEnv)
}

type sourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment alone.
func FromEnv() (*Config, error) {
	var p parser
	c := &Config{
		Port:       envOr("PORT", "8080"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		LogLevel:   envOr("LOG_LEVEL", "info"),

		StoreBackend:  envOr("STORE_BACKEND", "sqlite"),
		SQLitePath:    envOr("SQLITE_PATH", "data/pricing.db"),
		PostgresDSN:   envOr("POSTGRES_DSN", "postgres://localhost:5432/pricing?sslmode=disable"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.int("REDIS_DB", 0),

		CatalogBackend: envOr("CATALOG_BACKEND", "memory"),
		Neo4jURL:       envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:      envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:      envOr("NEO4J_PASS", "password"),
		Neo4jDatabase:  os.Getenv("NEO4J_DATABASE"),

		NATSURL:                os.Getenv("NATS_URL"),
		PriceSync:              p.bool("PRICE_SYNC", false),
		PriceSyncMinConfidence: p.int("PRICE_SYNC_MIN_CONFIDENCE", 50),
		RefreshSpec:            os.Getenv("REFRESH_SCHEDULE"),

		FreshnessWindow: p.duration("FRESHNESS_WINDOW", freshness.DefaultWindow),
		AdapterTimeout:  p.duration("ADAPTER_TIMEOUT", research.DefaultAdapterTimeout),
		BatchSize:       p.int("BATCH_SIZE", research.DefaultBatchSize),
		BatchDelay:      p.duration("BATCH_DELAY", research.DefaultBatchDelay),
		BulkParallelism: p.int("BULK_PARALLELISM", 0),
	}
	c.Policy = market.DefaultPolicy()
	c.Policy.AnomalyThreshold = p.float("ANOMALY_THRESHOLD", market.AnomalyThreshold)
	c.Policy.CompetitiveMarkdown = p.float("COMPETITIVE_MARKDOWN", market.CompetitiveMarkdown)
	c.Policy.ConfidenceSaturation = p.int("CONFIDENCE_SATURATION", market.ConfidenceSaturation)
	if p.err != nil {
		return nil, p.err
	}

	var err error
	if path := os.Getenv("SOURCES_FILE"); path != "" {
		c.Sources, err = LoadSources(path)
	} else {
		c.Sources, err = parseSources(defaultSourcesYAML)
	}
	if err != nil {
		return nil, err
	}
	return c, c.validate()
}

// LoadSources reads a sources file.
func LoadSources(path string) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sources file: %w", err)
	}
	return parseSources(data)
}

func parseSources(data []byte) ([]SourceConfig, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing sources: %w", err)
	}
	seen := map[string]bool{}
	for _, s := range f.Sources {
		if _, err := domain.ParseSource(s.Name); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("source %q listed twice", s.Name)
		}
		seen[s.Name] = true
	}
	return f.Sources, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.CatalogBackend {
	case "memory", "neo4j":
	default:
		return fmt.Errorf("unknown CATALOG_BACKEND %q", c.CatalogBackend)
	}
	if c.Policy.AnomalyThreshold <= 0 || c.Policy.AnomalyThreshold >= 1 {
		return fmt.Errorf("ANOMALY_THRESHOLD must be in (0, 1), got %v", c.Policy.AnomalyThreshold)
	}
	if c.PriceSync && c.NATSURL == "" {
		return errors.New("PRICE_SYNC requires NATS_URL")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parser reads typed env vars and keeps the first error.
type parser struct{ err error }

func (p *parser) fail(key, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}
