package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level HSS process configuration, loaded once from a
// YAML file at startup.
type Config struct {
	Application ApplicationConfig `yaml:"application"`
	HSS         HSSConfig         `yaml:"hss"`
	DBURI       string            `yaml:"db_uri"`
	Pool        PoolConfig        `yaml:"pool"`
	Log         LogConfig         `yaml:"log"`
	Ops         OpsConfig         `yaml:"ops"`
	Audit       AuditConfig       `yaml:"audit"`
}

// ApplicationConfig holds process identity.
type ApplicationConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// HSSConfig holds the S6a-facing identity of this HSS instance. Its fields
// mirror the freeDiameter.conf identity/realm/transport knobs the original
// hss_fd_init reads, as flat keys under hss:, with ConfigPath naming an
// external freeDiameter config file.
type HSSConfig struct {
	OriginHost  string         `yaml:"identity"`
	OriginRealm string         `yaml:"realm"`
	Port        int            `yaml:"port"`
	SecPort     int            `yaml:"sec_port"`
	ListenOn    string         `yaml:"listen_on"`
	ConfigPath  string         `yaml:"free_diameter_conf,omitempty"`
	LoadExt     []string       `yaml:"load_extension,omitempty"`
	Connect     []DiameterPeer `yaml:"connect,omitempty"`
	PLMNID      string         `yaml:"plmn_id"`
}

// DiameterPeer is a statically configured peer connection entry.
type DiameterPeer struct {
	Identity string `yaml:"identity"`
	Addr     string `yaml:"addr"`
	Port     int    `yaml:"port"`
}

// PoolConfig tunes the AV Pool Manager.
type PoolConfig struct {
	RefillSize int `yaml:"refill_size"`
}

// LogConfig mirrors internal/logger.Config, expressed in YAML-friendly
// field names.
type LogConfig struct {
	Path              string `yaml:"path"`
	Level             string `yaml:"level"`
	Format            string `yaml:"format"`
	MaxSizeMB         int    `yaml:"max_size_mb"`
	MaxBackups        int    `yaml:"max_backups"`
	MaxAgeDays        int    `yaml:"max_age_days"`
	Compress          bool   `yaml:"compress"`
	AllowSecretFields bool   `yaml:"allow_secret_fields"`
}

// OpsConfig controls the read-only operability HTTP surface (pkg/ops).
type OpsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminUser     string        `yaml:"admin_user"`
	AdminPassHash string        `yaml:"admin_pass_hash"`
}

// AuditConfig controls the optional Postgres transaction-audit sink.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Global config instance, matching the teacher's package-level Load/Get.
var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load reads configuration from a YAML file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// Default returns a Config with the non-zero defaults a bare YAML file is
// allowed to omit.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{RefillSize: 9},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ops: OpsConfig{
			ListenAddr: ":8080",
			TokenTTL:   time.Hour,
		},
	}
}

// Get returns the global configuration instance.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Validate performs configuration validation.
func (c *Config) Validate() error {
	if c.HSS.OriginHost == "" {
		return fmt.Errorf("hss.identity is required")
	}
	if c.HSS.OriginRealm == "" {
		return fmt.Errorf("hss.realm is required")
	}
	if c.DBURI == "" {
		return fmt.Errorf("db_uri is required")
	}
	if c.Pool.RefillSize < 1 {
		return fmt.Errorf("pool.refill_size must be at least 1")
	}
	if c.Audit.Enabled && c.Audit.DSN == "" {
		return fmt.Errorf("audit.dsn is required when audit.enabled is true")
	}
	return nil
}
