package app

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogMode     string   `envconfig:"LOG_MODE" default:"development"`
	HTTPAddr    string   `envconfig:"HTTP_ADDR" default:":8080"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
	JWTSecret   string   `envconfig:"JWT_SECRET_KEY"`

	DBDriver         string `envconfig:"DB_DRIVER" default:"postgres"`
	PostgresDSN      string `envconfig:"POSTGRES_DSN"`
	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PostgresName     string `envconfig:"POSTGRES_NAME" default:"biograph"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	SQLitePath       string `envconfig:"SQLITE_PATH"`
	DBMaxOpenConns   int    `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	AutoMigrate      bool   `envconfig:"AUTO_MIGRATE" default:"true"`

	GraphBackend        string        `envconfig:"GRAPH_BACKEND" default:"postgres"`
	Neo4jURI            string        `envconfig:"NEO4J_URI"`
	Neo4jUser           string        `envconfig:"NEO4J_USER"`
	Neo4jPassword       string        `envconfig:"NEO4J_PASSWORD"`
	Neo4jDatabase       string        `envconfig:"NEO4J_DATABASE"`
	Neo4jTimeoutSeconds int           `envconfig:"NEO4J_TIMEOUT_SECONDS" default:"10"`
	Neo4jMaxPoolSize    int           `envconfig:"NEO4J_MAX_POOL_SIZE" default:"50"`
	BadgerDir           string        `envconfig:"BADGER_DIR"`
	ProjectionReadTO    time.Duration `envconfig:"PROJECTION_READ_TIMEOUT" default:"2s"`
	ProjectionSyncQueue int           `envconfig:"PROJECTION_SYNC_QUEUE" default:"64"`

	LookupCacheBackend   string        `envconfig:"LOOKUP_CACHE_BACKEND" default:"postgres"`
	RedisAddr            string        `envconfig:"REDIS_ADDR"`
	RedisPassword        string        `envconfig:"REDIS_PASSWORD"`
	RedisDB              int           `envconfig:"REDIS_DB" default:"0"`
	LookupCacheTTL       time.Duration `envconfig:"LOOKUP_CACHE_TTL" default:"720h"`
	LookupResolveTimeout time.Duration `envconfig:"LOOKUP_RESOLVE_TIMEOUT" default:"3s"`
	OpenTargetsLabelURL  string        `envconfig:"OPENTARGETS_LABEL_URL"`
	ChEMBLLabelURL       string        `envconfig:"CHEMBL_LABEL_URL" default:"https://www.ebi.ac.uk/chembl/api/data/molecule/{id}.json"`
	GeoNamesLabelURL     string        `envconfig:"GEONAMES_LABEL_URL"`
	WikidataLabelURL     string        `envconfig:"WIKIDATA_LABEL_URL"`

	ChainMissingConfidence float64 `envconfig:"CHAIN_MISSING_CONFIDENCE" default:"0.5"`
	DiffThreshold          float64 `envconfig:"DIFF_THRESHOLD" default:"0.05"`
	MaterializeParallelism int     `envconfig:"MATERIALIZE_PARALLELISM" default:"4"`
	ConfidencePolicyFile   string  `envconfig:"CONFIDENCE_POLICY_FILE"`
	LicenseAllowlistFile   string  `envconfig:"LICENSE_ALLOWLIST_FILE"`

	MaterializeCron       string        `envconfig:"MATERIALIZE_CRON" default:"15 2 * * *"`
	CacheCleanupCron      string        `envconfig:"CACHE_CLEANUP_CRON" default:"@hourly"`
	ProjectionRebuildCron string        `envconfig:"PROJECTION_REBUILD_CRON" default:"0 4 * * *"`
	CronTimezone          string        `envconfig:"CRON_TZ" default:"UTC"`
	JobTimeout            time.Duration `envconfig:"JOB_TIMEOUT" default:"30m"`

	MetricsEnabled bool    `envconfig:"METRICS_ENABLED" default:"true"`
	MetricsAddr    string  `envconfig:"METRICS_ADDR"`
	OtelEnabled    bool    `envconfig:"OTEL_ENABLED" default:"false"`
	OtelService    string  `envconfig:"OTEL_SERVICE_NAME" default:"biograph"`
	OtelEnv        string  `envconfig:"OTEL_ENVIRONMENT" default:"development"`
	OtelVersion    string  `envconfig:"OTEL_SERVICE_VERSION"`
	OtelEndpoint   string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelHeaders    string  `envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`
	OtelInsecure   bool    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`
	OtelSampler    float64 `envconfig:"OTEL_TRACES_SAMPLER_RATIO" default:"0.1"`
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ChainMissingConfidence < 0 || c.ChainMissingConfidence > 1 {
		return fmt.Errorf("config: CHAIN_MISSING_CONFIDENCE %v outside [0,1]", c.ChainMissingConfidence)
	}
	if c.DiffThreshold < 0 {
		return fmt.Errorf("config: DIFF_THRESHOLD must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.LookupCacheBackend)) {
	case "postgres", "redis":
	default:
		return fmt.Errorf("config: LOOKUP_CACHE_BACKEND %q must be postgres or redis", c.LookupCacheBackend)
	}
	if c.LookupCacheTTL <= 0 {
		return fmt.Errorf("config: LOOKUP_CACHE_TTL must be positive")
	}
	if _, err := time.LoadLocation(c.CronTimezone); err != nil {
		return fmt.Errorf("config: CRON_TZ: %w", err)
	}
	return nil
}

// DatabaseDSN prefers POSTGRES_DSN and otherwise assembles one from the POSTGRES_* parts.
func (c Config) DatabaseDSN() string {
	if dsn := strings.TrimSpace(c.PostgresDSN); dsn != "" {
		return dsn
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresName,
		RawQuery: "sslmode=" + url.QueryEscape(c.PostgresSSLMode),
	}
	return u.String()
}

func (c Config) CronLocation() *time.Location {
	loc, err := time.LoadLocation(c.CronTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
