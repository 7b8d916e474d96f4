package core

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"attic/internal/ingest"

	"github.com/goccy/go-yaml"
)

// S3Config configures the object store s3:// sources are read from. Leaving
// Endpoint empty disables s3:// sources.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type Config struct {
	Listen         string `yaml:"listen"`
	TLSListen      string `yaml:"tls_listen"`
	TLSCertFile    string `yaml:"tls_cert_file"`
	TLSKeyFile     string `yaml:"tls_key_file"`
	CacheRoot      string `yaml:"cache_root"`
	PermanentRoot  string `yaml:"permanent_root"`
	LedgerPath     string `yaml:"ledger_path"`
	Workers        int    `yaml:"workers"`
	LogLevel       string `yaml:"log_level"`
	DefaultQuality int    `yaml:"default_quality"`

	// SourceRoot confines local ingest sources. Paths are resolved below it.
	// When empty the server accepts no local file sources at all.
	SourceRoot string `yaml:"source_root"`
	// MaxPixels rejects sources whose header declares a larger frame. Zero
	// disables the limit.
	MaxPixels int64 `yaml:"max_pixels"`

	// Credentials for the HTTP API. When both are empty the API is open.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	S3 S3Config `yaml:"s3"`
}

const (
	DefaultListen        = "127.0.0.1:9000"
	DefaultCacheRoot     = "./data/cache"
	DefaultPermanentRoot = "./data/files"
	DefaultWorkers       = 4
	DefaultLogLevel      = "info"
	DefaultS3Region      = "us-east-1"
	ledgerFileName       = "attic.sqlite"
)

func DefaultConfig() Config {
	return Config{
		Listen:         DefaultListen,
		CacheRoot:      DefaultCacheRoot,
		PermanentRoot:  DefaultPermanentRoot,
		Workers:        DefaultWorkers,
		LogLevel:       DefaultLogLevel,
		DefaultQuality: ingest.DefaultQuality,
		MaxPixels:      ingest.DefaultMaxPixels,
		S3:             S3Config{Region: DefaultS3Region},
	}
}

type ConfigOption func(*Config)

func WithListen(addr string) ConfigOption {
	return func(cfg *Config) {
		cfg.Listen = addr
	}
}

func WithRoots(cacheRoot string, permanentRoot string) ConfigOption {
	return func(cfg *Config) {
		cfg.CacheRoot = cacheRoot
		cfg.PermanentRoot = permanentRoot
	}
}

func WithLedgerPath(path string) ConfigOption {
	return func(cfg *Config) {
		cfg.LedgerPath = path
	}
}

func WithWorkers(n int) ConfigOption {
	return func(cfg *Config) {
		cfg.Workers = n
	}
}

func WithLogLevel(level string) ConfigOption {
	return func(cfg *Config) {
		cfg.LogLevel = level
	}
}

func WithCredentials(accessKeyID string, secretAccessKey string) ConfigOption {
	return func(cfg *Config) {
		cfg.AccessKeyID = accessKeyID
		cfg.SecretAccessKey = secretAccessKey
	}
}

func WithSourceRoot(root string) ConfigOption {
	return func(cfg *Config) {
		cfg.SourceRoot = root
	}
}

func WithMaxPixels(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxPixels = n
	}
}

func WithS3(s3 S3Config) ConfigOption {
	return func(cfg *Config) {
		cfg.S3 = s3
	}
}

// NewConfig applies opts on top of the defaults.
func NewConfig(opts ...ConfigOption) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// LoadConfig reads the YAML file at path (when path is not empty) over the
// defaults and then applies ATTIC_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ATTIC_LISTEN":            &c.Listen,
		"ATTIC_CACHE_ROOT":        &c.CacheRoot,
		"ATTIC_PERMANENT_ROOT":    &c.PermanentRoot,
		"ATTIC_LEDGER_PATH":       &c.LedgerPath,
		"ATTIC_SOURCE_ROOT":       &c.SourceRoot,
		"ATTIC_LOG_LEVEL":         &c.LogLevel,
		"ATTIC_ACCESS_KEY_ID":     &c.AccessKeyID,
		"ATTIC_SECRET_ACCESS_KEY": &c.SecretAccessKey,
		"ATTIC_S3_ENDPOINT":       &c.S3.Endpoint,
		"ATTIC_S3_ACCESS_KEY":     &c.S3.AccessKey,
		"ATTIC_S3_SECRET_KEY":     &c.S3.SecretKey,
		"ATTIC_S3_REGION":         &c.S3.Region,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("ATTIC_WORKERS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ATTIC_WORKERS: %w", err)
		}
		c.Workers = n
	}

	if v, ok := lookup("ATTIC_MAX_PIXELS"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("ATTIC_MAX_PIXELS: %w", err)
		}
		c.MaxPixels = n
	}

	if v, ok := lookup("ATTIC_S3_SSL"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ATTIC_S3_SSL: %w", err)
		}
		c.S3.UseSSL = b
	}
	return nil
}

// Validate checks the configuration and fills in derived defaults.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.CacheRoot) == "" {
		errs = append(errs, errors.New("cache_root must not be empty"))
	}
	if strings.TrimSpace(c.PermanentRoot) == "" {
		errs = append(errs, errors.New("permanent_root must not be empty"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.DefaultQuality < 0 || c.DefaultQuality > 100 {
		errs = append(errs, fmt.Errorf("default_quality must be within 0..100, got %d", c.DefaultQuality))
	}
	if c.MaxPixels < 0 {
		errs = append(errs, fmt.Errorf("max_pixels must not be negative, got %d", c.MaxPixels))
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		errs = append(errs, errors.New("access_key_id and secret_access_key must be set together"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls_cert_file and tls_key_file must be set together"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	case "":
		c.LogLevel = DefaultLogLevel
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}

	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LedgerPath == "" && c.PermanentRoot != "" {
		c.LedgerPath = filepath.Join(c.PermanentRoot, ledgerFileName)
	}
	if c.S3.Endpoint != "" && c.S3.Region == "" {
		c.S3.Region = DefaultS3Region
	}

	return errors.Join(errs...)
}

// CheckExposure refuses to serve an unauthenticated API on anything but a
// loopback address.
func (c Config) CheckExposure() error {
	if c.AccessKeyID != "" {
		return nil
	}

	addrs := []string{c.Listen}
	if c.TLSListen != "" {
		addrs = append(addrs, c.TLSListen)
	}
	for _, addr := range addrs {
		if !isLoopback(addr) {
			return fmt.Errorf("refusing to listen on %q without access_key_id: bind a loopback address or configure credentials", addr)
		}
	}
	return nil
}

func isLoopback(listen string) bool {
	host, _, err := net.SplitHostPort(ListenAddr(listen))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ListenAddr turns a bare port such as "9000" into ":9000".
func ListenAddr(listen string) string {
	if listen == "" || strings.Contains(listen, ":") {
		return listen
	}
	return ":" + listen
}
