// Package config handles fieldsync configuration.
//
// Configuration is read from a YAML file, then overridden by FIELDSYNC_* environment
// variables (a .env file next to the config is loaded first, best effort):
//
//	server:
//	  base_url: "https://api.example.com"   - REST server root
//	  token: "..."                          - Bearer token (prefer FIELDSYNC_TOKEN)
//	  timeout: 15s                          - Per-call timeout
//	scope_id: "42"                          - Tenant/company identifier
//	data_dir: "~/.local/share/fieldsync"    - Where the SQLite database lives
//	sync:
//	  schedule: "@every 15m"                - Background sync cadence (cron spec)
//	  skip_empty: true                      - Skip batch calls with nothing pending
//	  backoff_base: 1m
//	  backoff_max: 1h
//	cache:
//	  ttl: 5m                               - List cache freshness, 0 = never stale
//	connectivity:
//	  probe_url: "https://api.example.com/health"
//	  probe_interval: 30s
//	log:
//	  level: info
//	  file: ""                              - Rotating log file, stderr when empty
//	api:
//	  listen: "127.0.0.1:7420"
//	entities: [tasks, products]             - Enabled entity types, all when empty
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the default configuration file name.
const FileName = "fieldsync.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIELDSYNC_"

// KnownEntities are the entity types the client can synchronize, in sync order.
var KnownEntities = []string{"tasks", "task_completions", "label_templates", "products", "checkpoints"}

// customPath holds an optional custom config file path.
var customPath string

// SetPath sets a custom config file path for Load() to use.
// Pass an empty string to reset to the default path.
func SetPath(path string) {
	customPath = path
}

var (
	urlPattern    = regexp.MustCompile(`^https?://[^\s]+$`)
	listenPattern = regexp.MustCompile(`^[^\s]*:[0-9]{1,5}$`)
)

// Config is the full client configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	ScopeID      string             `yaml:"scope_id"`
	DataDir      string             `yaml:"data_dir"`
	Sync         SyncConfig         `yaml:"sync"`
	Cache        CacheConfig        `yaml:"cache"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Log          LogConfig          `yaml:"log"`
	API          APIConfig          `yaml:"api"`
	Entities     []string           `yaml:"entities,omitempty"`
}

// ServerConfig locates the REST server.
type ServerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig controls the sync engine and scheduler.
type SyncConfig struct {
	Schedule    string        `yaml:"schedule"`
	SkipEmpty   *bool         `yaml:"skip_empty,omitempty"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// SkipEmptyEnabled reports whether empty non-initial batches are skipped. Defaults to true.
func (s SyncConfig) SkipEmptyEnabled() bool {
	if s.SkipEmpty == nil {
		return true
	}
	return *s.SkipEmpty
}

// CacheConfig controls list cache freshness.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ConnectivityConfig controls the background reachability probe.
type ConnectivityConfig struct {
	ProbeURL      string        `yaml:"probe_url,omitempty"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// APIConfig controls the local status API.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	dataDir := "fieldsync-data"
	if dir, err := os.UserConfigDir(); err == nil {
		dataDir = filepath.Join(dir, "fieldsync")
	}
	return &Config{
		Server:  ServerConfig{Timeout: 15 * time.Second},
		DataDir: dataDir,
		Sync: SyncConfig{
			Schedule:    "@every 15m",
			BackoffBase: time.Minute,
			BackoffMax:  time.Hour,
		},
		Cache:        CacheConfig{TTL: 5 * time.Minute},
		Connectivity: ConnectivityConfig{ProbeInterval: 30 * time.Second},
		Log:          LogConfig{Level: "info"},
		API:          APIConfig{Listen: "127.0.0.1:7420"},
	}
}

// Path returns the config file Load() would read: the custom path, FIELDSYNC_CONFIG, or
// FileName in the working directory.
func Path() string {
	if customPath != "" {
		return customPath
	}
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return FileName
}

// Load reads the configuration file at Path(), loads .env from the same directory and
// applies environment overrides. A missing default file is not an error.
func Load() (*Config, error) {
	path := Path()
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	cfg, err := LoadFrom(path)
	if os.IsNotExist(err) && path == FileName {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// LoadFrom reads a configuration file over the defaults. Environment overrides are not
// applied.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err // Return unwrapped for os.IsNotExist() checks
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FIELDSYNC_* variables found by lookup.
// Unparseable values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("SERVER_URL", &c.Server.BaseURL)
	str("TOKEN", &c.Server.Token)
	dur("SERVER_TIMEOUT", &c.Server.Timeout)
	str("SCOPE_ID", &c.ScopeID)
	str("DATA_DIR", &c.DataDir)
	str("SYNC_SCHEDULE", &c.Sync.Schedule)
	dur("CACHE_TTL", &c.Cache.TTL)
	str("PROBE_URL", &c.Connectivity.ProbeURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	str("API_LISTEN", &c.API.Listen)

	if v, ok := lookup(EnvPrefix + "SKIP_EMPTY"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Sync.SkipEmpty = &b
		}
	}
	if v, ok := lookup(EnvPrefix + "ENTITIES"); ok && v != "" {
		c.Entities = nil
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				c.Entities = append(c.Entities, e)
			}
		}
	}
}

// Save writes the configuration to path. The token is never written.
func (c *Config) Save(path string) error {
	out := *c
	out.Server.Token = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := "# fieldsync configuration\n# Set FIELDSYNC_TOKEN in the environment or .env\n\n"
	if err := os.WriteFile(path, []byte(header+string(data)), 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if !urlPattern.MatchString(c.Server.BaseURL) {
		return fmt.Errorf("server.base_url must be a valid HTTP(S) URL")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	if strings.TrimSpace(c.ScopeID) == "" {
		return fmt.Errorf("scope_id is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Sync.BackoffBase <= 0 {
		return fmt.Errorf("sync.backoff_base must be positive")
	}
	if c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("sync.backoff_max must not be lower than sync.backoff_base")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if c.Connectivity.ProbeURL != "" && !urlPattern.MatchString(c.Connectivity.ProbeURL) {
		return fmt.Errorf("connectivity.probe_url must be a valid HTTP(S) URL")
	}
	if c.API.Listen != "" && !listenPattern.MatchString(c.API.Listen) {
		return fmt.Errorf("api.listen must be host:port")
	}
	for _, e := range c.Entities {
		if !isKnownEntity(e) {
			return fmt.Errorf("unknown entity %q (known: %s)", e, strings.Join(KnownEntities, ", "))
		}
	}
	return nil
}

// EnabledEntities returns the configured entities in sync order, or all of them.
func (c *Config) EnabledEntities() []string {
	if len(c.Entities) == 0 {
		return append([]string(nil), KnownEntities...)
	}
	enabled := make(map[string]bool, len(c.Entities))
	for _, e := range c.Entities {
		enabled[e] = true
	}
	var out []string
	for _, e := range KnownEntities {
		if enabled[e] {
			out = append(out, e)
		}
	}
	return out
}

func isKnownEntity(name string) bool {
	for _, e := range KnownEntities {
		if e == name {
			return true
		}
	}
	return false
}
