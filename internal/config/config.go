// Package config loads HostBridge's daemon configuration from flags,
// environment variables, and an optional config file, layered through
// spf13/viper the way the daemon's own config.yaml loading does it.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix AutomaticEnv binds environment variables under,
// e.g. HOSTBRIDGE_QUEUE_DIR for the "queue_dir" key.
const EnvPrefix = "HOSTBRIDGE"

// Config is the resolved, typed view over every setting named in the
// external interfaces' environment variable table.
type Config struct {
	v *viper.Viper
}

// New builds a Config with defaults registered and the environment bound.
// A config file at path is merged in if it exists; a missing file is not
// an error.
func New(configFile string) *Config {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	registerDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		_ = v.ReadInConfig() // best effort; absent file keeps defaults+env
	}

	return &Config{v: v}
}

func registerDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":3030")
	v.SetDefault("queue_dir", "codex_queue")
	v.SetDefault("sqlite_enabled", true)
	v.SetDefault("sqlite_path", "hostbridge.db")

	v.SetDefault("job_ttl_sec", 600)
	v.SetDefault("max_actions", 400)
	v.SetDefault("max_source_bytes", 1<<20)
	v.SetDefault("safe_edit_bytes", 64<<10)
	v.SetDefault("max_queue", 500)
	v.SetDefault("policy_profile", "standard")
	v.SetDefault("protected_roots", []string{})
	v.SetDefault("allowed_roots", []string{"game/"})

	v.SetDefault("auto_repair", false)
	v.SetDefault("repair_max_attempts", 3)
	v.SetDefault("repair_cooldown_sec", 30)

	v.SetDefault("context_min_interval_sec", 0)
	v.SetDefault("reconcile_interval_sec", 20)

	v.SetDefault("heartbeat_ttl_sec", 15)
	v.SetDefault("claim_ttl_sec", 30)
	v.SetDefault("default_wait_timeout_sec", 25)
	v.SetDefault("max_wait_timeout_sec", 60)

	v.SetDefault("max_risk", 0.75)
	v.SetDefault("delta_max_items", 50)
	v.SetDefault("focus_max_scripts", 12)
	v.SetDefault("focus_max_bytes", 4096)
	v.SetDefault("semantic_max_source_bytes", 256<<10)
	v.SetDefault("semantic_keyword_cap", 20)
	v.SetDefault("semantic_symbol_cap", 40)
}

func (c *Config) Addr() string                { return c.v.GetString("addr") }
func (c *Config) QueueDir() string            { return c.v.GetString("queue_dir") }
func (c *Config) SQLiteEnabled() bool         { return c.v.GetBool("sqlite_enabled") }
func (c *Config) SQLitePath() string          { return c.v.GetString("sqlite_path") }

func (c *Config) JobTTL() time.Duration          { return time.Duration(c.v.GetInt64("job_ttl_sec")) * time.Second }
func (c *Config) MaxActions() int                { return c.v.GetInt("max_actions") }
func (c *Config) MaxSourceBytes() int64          { return c.v.GetInt64("max_source_bytes") }
func (c *Config) SafeEditBytes() int64           { return c.v.GetInt64("safe_edit_bytes") }
func (c *Config) MaxQueue() int                  { return c.v.GetInt("max_queue") }
func (c *Config) PolicyProfile() string          { return c.v.GetString("policy_profile") }
func (c *Config) ProtectedRoots() []string       { return c.v.GetStringSlice("protected_roots") }
func (c *Config) AllowedRoots() []string         { return c.v.GetStringSlice("allowed_roots") }

func (c *Config) AutoRepair() bool               { return c.v.GetBool("auto_repair") }
func (c *Config) RepairMaxAttempts() int         { return c.v.GetInt("repair_max_attempts") }
func (c *Config) RepairCooldown() time.Duration  { return time.Duration(c.v.GetInt64("repair_cooldown_sec")) * time.Second }

func (c *Config) ContextMinInterval() time.Duration { return time.Duration(c.v.GetInt64("context_min_interval_sec")) * time.Second }
func (c *Config) ReconcileInterval() time.Duration  { return time.Duration(c.v.GetInt64("reconcile_interval_sec")) * time.Second }

func (c *Config) HeartbeatTTL() time.Duration    { return time.Duration(c.v.GetInt64("heartbeat_ttl_sec")) * time.Second }
func (c *Config) ClaimTTL() time.Duration        { return time.Duration(c.v.GetInt64("claim_ttl_sec")) * time.Second }
func (c *Config) DefaultWaitTimeout() time.Duration { return time.Duration(c.v.GetInt64("default_wait_timeout_sec")) * time.Second }
func (c *Config) MaxWaitTimeout() time.Duration  { return time.Duration(c.v.GetInt64("max_wait_timeout_sec")) * time.Second }

func (c *Config) MaxRisk() float64               { return c.v.GetFloat64("max_risk") }
func (c *Config) DeltaMaxItems() int              { return c.v.GetInt("delta_max_items") }
func (c *Config) FocusMaxScripts() int            { return c.v.GetInt("focus_max_scripts") }
func (c *Config) FocusMaxBytes() int              { return c.v.GetInt("focus_max_bytes") }
func (c *Config) SemanticMaxSourceBytes() int64   { return c.v.GetInt64("semantic_max_source_bytes") }
func (c *Config) SemanticKeywordCap() int         { return c.v.GetInt("semantic_keyword_cap") }
func (c *Config) SemanticSymbolCap() int          { return c.v.GetInt("semantic_symbol_cap") }

// Raw exposes the underlying viper instance so cmd/hbd can call BindPFlag
// directly during flag registration, giving explicit CLI flags priority
// over config-file/env values.
func (c *Config) Raw() *viper.Viper { return c.v }
