// Package daemon assembles the essence service from its configuration:
// store, engine, Redis transport, HTTP API and telemetry.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/lifehub/essence/internal/app/achievement"
	"github.com/lifehub/essence/internal/app/anticheat"
	"github.com/lifehub/essence/internal/app/engine"
	"github.com/lifehub/essence/internal/app/leveling"
	"github.com/lifehub/essence/internal/app/normalizer"
	"github.com/lifehub/essence/internal/app/reward"
	"github.com/lifehub/essence/internal/domain"
	"github.com/lifehub/essence/internal/infra/observability"
	"github.com/lifehub/essence/internal/infra/redisbus"
)

// ConfigFileName is the config file looked up inside the essence home.
const ConfigFileName = "config.toml"

// Config is the complete service configuration. Durations are Go duration
// strings ("5m", "168h").
type Config struct {
	API          APIConfig                      `toml:"api"`
	Store        StoreConfig                    `toml:"store"`
	Log          LogConfig                      `toml:"log"`
	Telemetry    TelemetryConfig                `toml:"telemetry"`
	Redis        RedisConfig                    `toml:"redis"`
	Engine       EngineConfig                   `toml:"engine"`
	Events       EventsConfig                   `toml:"events"`
	AntiCheat    AntiCheatConfig                `toml:"anticheat"`
	Leveling     LevelingConfig                 `toml:"leveling"`
	Achievements []domain.AchievementDefinition `toml:"achievements"`
	Rewards      []domain.RewardDefinition      `toml:"rewards"`
}

type APIConfig struct {
	Host    string `toml:"host" env:"ESSENCE_API_HOST"`
	Port    int    `toml:"port" env:"ESSENCE_API_PORT"`
	Metrics bool   `toml:"metrics" env:"ESSENCE_API_METRICS"`
}

type StoreConfig struct {
	Path string `toml:"path" env:"ESSENCE_DB_PATH"` // empty: <home>/essence.db
}

type LogConfig struct {
	Mode  string `toml:"mode" env:"ESSENCE_LOG_MODE"` // development | production
	Level string `toml:"level" env:"ESSENCE_LOG_LEVEL"`
	Salt  string `toml:"hash_salt" env:"ESSENCE_LOG_SALT"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `toml:"otlp_endpoint" env:"ESSENCE_OTEL_ENDPOINT"`
	ServiceName  string  `toml:"service_name"`
	SampleRatio  float64 `toml:"sample_ratio"`
}

type RedisConfig struct {
	Addr      string `toml:"addr" env:"ESSENCE_REDIS_ADDR"` // empty disables Redis
	Password  string `toml:"password" env:"ESSENCE_REDIS_PASSWORD"`
	DB        int    `toml:"db"`
	Stream    string `toml:"stream"`
	Group     string `toml:"group"`
	Consumer  string `toml:"consumer" env:"ESSENCE_REDIS_CONSUMER"`
	Channel   string `toml:"channel"`
	BatchSize int64  `toml:"batch_size"`
	Block     string `toml:"block"`
	ClaimIdle string `toml:"claim_idle"`
	MaxLen    int64  `toml:"max_len"`
}

type EngineConfig struct {
	Lanes              int    `toml:"lanes"`
	LaneBuffer         int    `toml:"lane_buffer"`
	MaxRetries         int    `toml:"max_retries"`
	RequeueDelay       string `toml:"requeue_delay"`
	MaxRequeueDelay    string `toml:"max_requeue_delay"`
	MaxRequeues        int    `toml:"max_requeues"`
	ProcessedRetention string `toml:"processed_retention"`
	PruneInterval      string `toml:"prune_interval"`
	Timezone           string `toml:"timezone"` // calendar days for streaks
}

type EventsConfig struct {
	Domains     []string         `toml:"domains"`
	ClockSkew   string           `toml:"clock_skew"`
	MaxEventAge string           `toml:"max_event_age"`
	Essence     map[string]int64 `toml:"essence"` // "domain:eventType" → base essence
}

type RateLimitConfig struct {
	Limit  int    `toml:"limit"`
	Window string `toml:"window"`
}

type DecayStepConfig struct {
	After      int     `toml:"after"`
	Multiplier float64 `toml:"multiplier"`
}

type DecayConfig struct {
	Kind   string            `toml:"kind"` // none | steps | halving
	Period string            `toml:"period"`
	Floor  float64           `toml:"floor"`
	Steps  []DecayStepConfig `toml:"steps"`
	Every  int               `toml:"every"`
}

type AntiCheatConfig struct {
	RateLimits        map[string]RateLimitConfig `toml:"rate_limits"`
	Cooldowns         map[string]string          `toml:"cooldowns"`
	InstantCompletion string                     `toml:"instant_completion"`
	EssenceCapMax     int64                      `toml:"essence_cap"`
	EssenceCapWindow  string                     `toml:"essence_cap_window"`
	Decay             DecayConfig                `toml:"decay"`
}

type LevelingConfig struct {
	Titles map[string]string `toml:"titles"` // level (as string) → title
}

// DefaultConfig returns a working configuration with the stock catalogs.
func DefaultConfig() *Config {
	ac := anticheat.DefaultConfig()
	ec := engine.DefaultConfig()
	nc := normalizer.DefaultConfig()
	rc := redisbus.DefaultConfig()

	cfg := &Config{
		API:       APIConfig{Host: "127.0.0.1", Port: 8420, Metrics: true},
		Log:       LogConfig{Mode: "development", Level: "info"},
		Telemetry: TelemetryConfig{ServiceName: "essence", SampleRatio: 1},
		Redis: RedisConfig{
			Stream:    rc.Stream,
			Group:     rc.Group,
			Channel:   rc.Channel,
			BatchSize: rc.BatchSize,
			Block:     rc.Block.String(),
			ClaimIdle: rc.ClaimIdle.String(),
			MaxLen:    rc.MaxLen,
		},
		Engine: EngineConfig{
			Lanes:              ec.Lanes,
			LaneBuffer:         ec.LaneBuffer,
			MaxRetries:         ec.MaxRetries,
			RequeueDelay:       ec.RequeueDelay.String(),
			MaxRequeueDelay:    ec.MaxRequeueDelay.String(),
			MaxRequeues:        ec.MaxRequeues,
			ProcessedRetention: ec.ProcessedRetention.String(),
			PruneInterval:      ec.PruneInterval.String(),
			Timezone:           "UTC",
		},
		Events: EventsConfig{
			ClockSkew:   nc.ClockSkew.String(),
			MaxEventAge: nc.MaxEventAge.String(),
			Essence:     nc.EssenceBase,
		},
		AntiCheat: AntiCheatConfig{
			RateLimits:        make(map[string]RateLimitConfig, len(ac.RateLimits)),
			Cooldowns:         make(map[string]string, len(ac.Cooldowns)),
			InstantCompletion: ac.InstantCompletion.String(),
			EssenceCapMax:     ac.EssenceCap.Max,
			EssenceCapWindow:  ac.EssenceCap.Window.String(),
			Decay: DecayConfig{
				Kind:   string(ac.Decay.Kind),
				Period: ac.Decay.Period.String(),
				Floor:  ac.Decay.Floor,
				Every:  ac.Decay.Every,
			},
		},
		Leveling:     LevelingConfig{Titles: make(map[string]string)},
		Achievements: achievement.DefaultCatalog(),
		Rewards:      reward.DefaultCatalog(),
	}
	for _, d := range nc.Domains {
		cfg.Events.Domains = append(cfg.Events.Domains, string(d))
	}
	for k, rl := range ac.RateLimits {
		cfg.AntiCheat.RateLimits[k] = RateLimitConfig{Limit: rl.Limit, Window: rl.Window.String()}
	}
	for k, d := range ac.Cooldowns {
		cfg.AntiCheat.Cooldowns[k] = d.String()
	}
	for _, s := range ac.Decay.Steps {
		cfg.AntiCheat.Decay.Steps = append(cfg.AntiCheat.Decay.Steps, DecayStepConfig{After: s.After, Multiplier: s.Multiplier})
	}
	for l, t := range leveling.DefaultTitleTable() {
		cfg.Leveling.Titles[strconv.Itoa(l)] = t
	}
	return cfg
}

// ─── Loading ────────────────────────────────────────────────────────────────

// Home returns the essence home directory: $ESSENCE_HOME or ~/.essence.
func Home() string {
	if h := os.Getenv("ESSENCE_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".essence"
	}
	return filepath.Join(home, ".essence")
}

// LoadConfig reads path (or <home>/config.toml when empty) over the defaults
// and applies environment overrides. A missing default file is not an error.
// Tables merge into the defaults; [[achievements]] and [[rewards]] replace
// the stock catalogs.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	// Decoding reuses slice elements, so catalogs start empty and fall back
	// to the defaults only when the file has none.
	cfg.Achievements, cfg.Rewards = nil, nil
	explicit := path != ""
	if !explicit {
		path = filepath.Join(Home(), ConfigFileName)
	}

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case err == nil:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if cfg.Achievements == nil {
		cfg.Achievements = achievement.DefaultCatalog()
	}
	if cfg.Rewards == nil {
		cfg.Rewards = reward.DefaultCatalog()
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Save writes the config as TOML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

// DBPath returns the database file, defaulting into the home directory.
func (c *Config) DBPath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(Home(), "essence.db")
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// ─── Validation & Conversion ────────────────────────────────────────────────

// Validate builds every component config and reports the first error.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if _, err := c.AntiCheatConfig(); err != nil {
		return err
	}
	ec, err := c.EngineConfig()
	if err != nil {
		return err
	}
	nc, err := c.NormalizerConfig()
	if err != nil {
		return err
	}
	if nc.MaxEventAge <= 0 {
		return fmt.Errorf("events.max_event_age must be set: processed events are pruned after engine.processed_retention %s",
			ec.ProcessedRetention)
	}
	if ec.ProcessedRetention < nc.MaxEventAge {
		return fmt.Errorf("engine.processed_retention %s shorter than events.max_event_age %s",
			ec.ProcessedRetention, nc.MaxEventAge)
	}
	if _, err := c.TitleTable(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.RedisConfig(); err != nil {
		return err
	}
	if _, err := reward.NewCatalog(c.Rewards); err != nil {
		return fmt.Errorf("rewards: %w", err)
	}
	for _, def := range c.Achievements {
		if err := achievement.ValidateDefinition(def); err != nil {
			return fmt.Errorf("achievements: %w", err)
		}
	}
	return nil
}

// UnresolvedRewards lists "achievement → reward" references missing from the
// reward catalog. They are legal: grants are deferred until reconciled.
func (c *Config) UnresolvedRewards() []string {
	known := make(map[string]bool, len(c.Rewards))
	for _, r := range c.Rewards {
		known[r.ID] = true
	}
	var out []string
	for _, def := range c.Achievements {
		for _, t := range def.EffectiveTiers() {
			if t.RewardID != "" && !known[t.RewardID] {
				out = append(out, def.ID+" → "+t.RewardID)
			}
		}
	}
	return out
}

func (c *Config) AntiCheatConfig() (anticheat.Config, error) {
	a := c.AntiCheat
	out := anticheat.Config{
		RateLimits: make(map[string]anticheat.RateLimit, len(a.RateLimits)),
		Cooldowns:  make(map[string]time.Duration, len(a.Cooldowns)),
	}
	var err error
	for k, rl := range a.RateLimits {
		w, perr := parseDuration("anticheat.rate_limits."+k+".window", rl.Window)
		if perr != nil {
			return out, perr
		}
		out.RateLimits[k] = anticheat.RateLimit{Limit: rl.Limit, Window: w}
	}
	for k, s := range a.Cooldowns {
		if out.Cooldowns[k], err = parseDuration("anticheat.cooldowns."+k, s); err != nil {
			return out, err
		}
	}
	if out.InstantCompletion, err = parseDuration("anticheat.instant_completion", a.InstantCompletion); err != nil {
		return out, err
	}
	out.EssenceCap.Max = a.EssenceCapMax
	if out.EssenceCap.Window, err = parseDuration("anticheat.essence_cap_window", a.EssenceCapWindow); err != nil {
		return out, err
	}
	out.Decay = anticheat.Decay{
		Kind:  anticheat.DecayKind(a.Decay.Kind),
		Floor: a.Decay.Floor,
		Every: a.Decay.Every,
	}
	if out.Decay.Period, err = parseDuration("anticheat.decay.period", a.Decay.Period); err != nil {
		return out, err
	}
	for _, s := range a.Decay.Steps {
		out.Decay.Steps = append(out.Decay.Steps, anticheat.DecayStep{After: s.After, Multiplier: s.Multiplier})
	}
	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("anticheat: %w", err)
	}
	return out, nil
}

func (c *Config) EngineConfig() (engine.Config, error) {
	e := c.Engine
	out := engine.DefaultConfig()
	out.Lanes = e.Lanes
	out.LaneBuffer = e.LaneBuffer
	out.MaxRetries = e.MaxRetries
	out.MaxRequeues = e.MaxRequeues
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"engine.requeue_delay", e.RequeueDelay, &out.RequeueDelay},
		{"engine.max_requeue_delay", e.MaxRequeueDelay, &out.MaxRequeueDelay},
		{"engine.processed_retention", e.ProcessedRetention, &out.ProcessedRetention},
		{"engine.prune_interval", e.PruneInterval, &out.PruneInterval},
	} {
		d, err := parseDuration(f.name, f.raw)
		if err != nil {
			return out, err
		}
		if d > 0 {
			*f.dst = d
		}
	}
	if out.Lanes < 0 || out.LaneBuffer < 0 || out.MaxRetries < 0 || out.MaxRequeues < 0 {
		return out, fmt.Errorf("engine: lanes, buffers and retry counts must not be negative")
	}
	return out, nil
}

func (c *Config) NormalizerConfig() (normalizer.Config, error) {
	ev := c.Events
	out := normalizer.Config{EssenceBase: ev.Essence}
	for _, d := range ev.Domains {
		out.Domains = append(out.Domains, domain.SourceDomain(d))
	}
	var err error
	if out.ClockSkew, err = parseDuration("events.clock_skew", ev.ClockSkew); err != nil {
		return out, err
	}
	if out.MaxEventAge, err = parseDuration("events.max_event_age", ev.MaxEventAge); err != nil {
		return out, err
	}
	for k, v := range ev.Essence {
		if v < 0 {
			return out, fmt.Errorf("events.essence.%s: negative essence %d", k, v)
		}
	}
	return out, nil
}

// TitleTable parses the level → title map.
func (c *Config) TitleTable() (map[int]string, error) {
	if len(c.Leveling.Titles) == 0 {
		return leveling.DefaultTitleTable(), nil
	}
	out := make(map[int]string, len(c.Leveling.Titles))
	for k, v := range c.Leveling.Titles {
		l, err := strconv.Atoi(k)
		if err != nil || l < 1 {
			return nil, fmt.Errorf("leveling.titles: level %q must be a positive integer", k)
		}
		out[l] = v
	}
	if _, ok := out[1]; !ok {
		return nil, fmt.Errorf("leveling.titles: level 1 needs a title")
	}
	return out, nil
}

// Location is the calendar used for streak days.
func (c *Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return nil, fmt.Errorf("engine.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) RedisConfig() (redisbus.Config, error) {
	r := c.Redis
	out := redisbus.DefaultConfig()
	out.Addr = r.Addr
	out.Password = r.Password
	out.DB = r.DB
	if r.Stream != "" {
		out.Stream = r.Stream
	}
	if r.Group != "" {
		out.Group = r.Group
	}
	if r.Channel != "" {
		out.Channel = r.Channel
	}
	out.Consumer = r.Consumer
	if r.BatchSize > 0 {
		out.BatchSize = r.BatchSize
	}
	if r.MaxLen > 0 {
		out.MaxLen = r.MaxLen
	}
	var err error
	if r.Block != "" {
		if out.Block, err = parseDuration("redis.block", r.Block); err != nil {
			return out, err
		}
	}
	if r.ClaimIdle != "" {
		if out.ClaimIdle, err = parseDuration("redis.claim_idle", r.ClaimIdle); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (c *Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Endpoint:    c.Telemetry.OTLPEndpoint,
		ServiceName: c.Telemetry.ServiceName,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}

// Summary renders the effective settings for `essence config`.
func (c *Config) Summary() []string {
	lines := []string{
		"api:        " + c.Addr(),
		"database:   " + c.DBPath(),
		"log mode:   " + c.Log.Mode,
		fmt.Sprintf("lanes:      %d", c.Engine.Lanes),
		fmt.Sprintf("catalog:    %d achievements, %d rewards", len(c.Achievements), len(c.Rewards)),
	}
	if c.Redis.Addr != "" {
		lines = append(lines, "redis:      "+c.Redis.Addr)
	}
	if c.Telemetry.OTLPEndpoint != "" {
		lines = append(lines, "otlp:       "+c.Telemetry.OTLPEndpoint)
	}
	keys := make([]string, 0, len(c.Events.Essence))
	for k := range c.Events.Essence {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("essence:    %-32s %d", k, c.Events.Essence[k]))
	}
	return lines
}

func parseDuration(name, s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", name, s)
	}
	return d, nil
}
