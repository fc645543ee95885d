package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "ASSETPIPE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global         GlobalConfig         `yaml:"global"`
	Loader         LoaderConfig         `yaml:"loader"`
	Concurrency    ConcurrencyConfig    `yaml:"concurrency"`
	Sources        SourcesConfig        `yaml:"sources"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	LogFormat string `yaml:"log_format" validate:"required,oneof=text json"`
	LogFile   string `yaml:"log_file"`
}

// LoaderConfig configures the resource loader
type LoaderConfig struct {
	MaxRetries        int           `yaml:"max_retries" validate:"gte=0"`
	RetryDelay        time.Duration `yaml:"retry_delay" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	BatchConcurrency  int           `yaml:"batch_concurrency" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`

	// RetryMultiplier grows the delay after each retry; 0 or 1 keeps it fixed
	RetryMultiplier float64       `yaml:"retry_multiplier" validate:"gte=0"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay" validate:"gte=0"`
	RetryJitter     bool          `yaml:"retry_jitter"`
	// RetryableReasons are retried even though they are terminal by default
	RetryableReasons []string `yaml:"retryable_reasons" validate:"dive,required"`
}

// ConcurrencyConfig caps concurrently executing loads per tier. Zero keeps
// the built-in default.
type ConcurrencyConfig struct {
	Critical int `yaml:"critical" validate:"gte=0"`
	District int `yaml:"district" validate:"gte=0"`
	Optional int `yaml:"optional" validate:"gte=0"`
}

// SourcesConfig selects the fetchers assets can be read from
type SourcesConfig struct {
	HTTP  HTTPSourceConfig  `yaml:"http"`
	File  FileSourceConfig  `yaml:"file"`
	S3    S3SourceConfig    `yaml:"s3"`
	MinIO MinIOSourceConfig `yaml:"minio"`
}

// HTTPSourceConfig configures http:// and https:// fetching
type HTTPSourceConfig struct {
	Enabled         bool          `yaml:"enabled"`
	UserAgent       string        `yaml:"user_agent"`
	MaxBytes        int64         `yaml:"max_bytes" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout" validate:"gte=0"`
}

// FileSourceConfig configures file:// and bare path fetching
type FileSourceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Root    string `yaml:"root" validate:"required_if=Enabled true"`
}

// S3SourceConfig configures s3:// fetching
type S3SourceConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	MaxRetries      int    `yaml:"max_retries" validate:"gte=0"`
	UseDualStack    bool   `yaml:"use_dual_stack"`
}

// MinIOSourceConfig configures minio:// fetching
type MinIOSourceConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CircuitBreakerConfig represents per-host circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=0"`
	MaxRequests      int           `yaml:"max_requests" validate:"gte=0"`
	Interval         time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gte=0"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Port           int               `yaml:"port" validate:"min=0,max=65535"`
	Path           string            `yaml:"path" validate:"required_if=Enabled true"`
	Namespace      string            `yaml:"namespace"`
	CustomLabels   map[string]string `yaml:"custom_labels"`
	UpdateInterval time.Duration     `yaml:"update_interval" validate:"gte=0"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Loader: LoaderConfig{
			MaxRetries:       3,
			RetryDelay:       1 * time.Second,
			Timeout:          30 * time.Second,
			BatchConcurrency: 8,
		},
		Concurrency: ConcurrencyConfig{
			Critical: 1,
			District: 2,
			Optional: 1,
		},
		Sources: SourcesConfig{
			HTTP: HTTPSourceConfig{
				Enabled:         true,
				UserAgent:       "assetpipe/1.0",
				MaxBytes:        256 << 20,
				MaxIdleConns:    32,
				IdleConnTimeout: 90 * time.Second,
			},
			File: FileSourceConfig{
				Enabled: true,
				Root:    ".",
			},
			S3: S3SourceConfig{
				Region: "us-east-1",
			},
			MinIO: MinIOSourceConfig{
				UseSSL: true,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			MaxRequests:      1,
			Timeout:          30 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   false,
				Port:      9090,
				Path:      "/metrics",
				Namespace: "assetpipe",
				CustomLabels: map[string]string{
					"service": "assetpipe",
				},
				UpdateInterval: 15 * time.Second,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from ASSETPIPE_* environment variables.
// Values that fail to parse are reported together.
func (c *Configuration) LoadFromEnv() error {
	env := envReader{}

	env.str("LOG_LEVEL", func(v string) { c.Global.LogLevel = strings.ToUpper(v) })
	env.str("LOG_FORMAT", func(v string) { c.Global.LogFormat = strings.ToLower(v) })
	env.str("LOG_FILE", func(v string) { c.Global.LogFile = v })

	env.integer("MAX_RETRIES", &c.Loader.MaxRetries)
	env.duration("RETRY_DELAY", &c.Loader.RetryDelay)
	env.duration("TIMEOUT", &c.Loader.Timeout)
	env.integer("BATCH_CONCURRENCY", &c.Loader.BatchConcurrency)
	env.float("REQUESTS_PER_SECOND", &c.Loader.RequestsPerSecond)
	env.float("RETRY_MULTIPLIER", &c.Loader.RetryMultiplier)
	env.duration("RETRY_MAX_DELAY", &c.Loader.RetryMaxDelay)
	env.boolean("RETRY_JITTER", &c.Loader.RetryJitter)
	env.str("RETRYABLE_REASONS", func(v string) {
		c.Loader.RetryableReasons = nil
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				c.Loader.RetryableReasons = append(c.Loader.RetryableReasons, r)
			}
		}
	})

	env.integer("CONCURRENCY_CRITICAL", &c.Concurrency.Critical)
	env.integer("CONCURRENCY_DISTRICT", &c.Concurrency.District)
	env.integer("CONCURRENCY_OPTIONAL", &c.Concurrency.Optional)

	env.boolean("HTTP_ENABLED", &c.Sources.HTTP.Enabled)
	env.str("HTTP_USER_AGENT", func(v string) { c.Sources.HTTP.UserAgent = v })
	env.boolean("FILE_ENABLED", &c.Sources.File.Enabled)
	env.str("FILE_ROOT", func(v string) { c.Sources.File.Root = v })

	env.boolean("S3_ENABLED", &c.Sources.S3.Enabled)
	env.str("S3_REGION", func(v string) { c.Sources.S3.Region = v })
	env.str("S3_ENDPOINT", func(v string) { c.Sources.S3.Endpoint = v })
	env.str("S3_ACCESS_KEY_ID", func(v string) { c.Sources.S3.AccessKeyID = v })
	env.str("S3_SECRET_ACCESS_KEY", func(v string) { c.Sources.S3.SecretAccessKey = v })
	env.boolean("S3_FORCE_PATH_STYLE", &c.Sources.S3.ForcePathStyle)

	env.boolean("MINIO_ENABLED", &c.Sources.MinIO.Enabled)
	env.str("MINIO_ENDPOINT", func(v string) { c.Sources.MinIO.Endpoint = v })
	env.str("MINIO_ACCESS_KEY", func(v string) { c.Sources.MinIO.AccessKey = v })
	env.str("MINIO_SECRET_KEY", func(v string) { c.Sources.MinIO.SecretKey = v })
	env.boolean("MINIO_USE_SSL", &c.Sources.MinIO.UseSSL)

	env.boolean("CIRCUIT_BREAKER_ENABLED", &c.CircuitBreaker.Enabled)
	env.integer("CIRCUIT_BREAKER_FAILURE_THRESHOLD", &c.CircuitBreaker.FailureThreshold)

	env.boolean("METRICS_ENABLED", &c.Monitoring.Metrics.Enabled)
	env.integer("METRICS_PORT", &c.Monitoring.Metrics.Port)

	if len(env.errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(env.errs, "; "))
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s := c.Sources
	if !s.HTTP.Enabled && !s.File.Enabled && !s.S3.Enabled && !s.MinIO.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}

	if (s.S3.AccessKeyID == "") != (s.S3.SecretAccessKey == "") {
		return fmt.Errorf("s3 access_key_id and secret_access_key must be set together")
	}

	return nil
}

type envReader struct {
	errs []string
}

func (e *envReader) lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
}

func (e *envReader) str(key string, set func(string)) {
	if val, ok := e.lookup(key); ok {
		set(val)
	}
}

func (e *envReader) integer(key string, dst *int) {
	if val, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if val, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if val, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if val, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}
