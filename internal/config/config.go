// Package config defines the top-level configuration for qmtbot and
// converts it into the per-package settings each component validates.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/executor"
	"github.com/alanyoungcy/qmtbot/internal/grid"
	"github.com/alanyoungcy/qmtbot/internal/ledger"
	"github.com/alanyoungcy/qmtbot/internal/monitor"
	"github.com/alanyoungcy/qmtbot/internal/risk"
	"github.com/alanyoungcy/qmtbot/internal/sellrule"
	"github.com/alanyoungcy/qmtbot/internal/server"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by QMTBOT_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Longport  LongportConfig  `toml:"longport"`
	Broker    BrokerConfig    `toml:"broker"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Risk      RiskConfig      `toml:"risk"`
	Grid      GridConfig      `toml:"grid"`
	SellRules SellRulesConfig `toml:"sell_rules"`
	Executor  ExecutorConfig  `toml:"executor"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Log       LogConfig       `toml:"log"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for the trade archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ArchiveTime is the Shanghai wall-clock time (HH:MM) of the
	// close-of-day job: archive (when enabled) and the daily summary.
	ArchiveTime string `toml:"archive_time"`
}

// LongportConfig holds the live quote feed credentials.
type LongportConfig struct {
	Enabled     bool   `toml:"enabled"`
	AppKey      string `toml:"app_key"`
	AppSecret   string `toml:"app_secret"`
	AccessToken string `toml:"access_token"`
	Depth       bool   `toml:"depth"`
}

// BrokerConfig selects the account the bot trades.
type BrokerConfig struct {
	Kind     string          `toml:"kind"`
	Cash     float64         `toml:"cash"`
	Holdings []HoldingConfig `toml:"holdings"`
}

// HoldingConfig seeds a paper account position.
type HoldingConfig struct {
	Symbol   string  `toml:"symbol"`
	Name     string  `toml:"name"`
	Quantity int64   `toml:"quantity"`
	Cost     float64 `toml:"cost"`
}

// MonitorConfig maps onto monitor.Config.
type MonitorConfig struct {
	Interval        duration `toml:"interval"`
	DispatchTimeout duration `toml:"dispatch_timeout"`
	SyncTimeout     duration `toml:"sync_timeout"`
	SignalTTL       duration `toml:"signal_ttl"`
	LockKey         string   `toml:"lock_key"`
	LockTTL         duration `toml:"lock_ttl"`
}

// RiskConfig maps onto risk.Config.
type RiskConfig struct {
	HardStopRatio        float64      `toml:"hard_stop_ratio"`
	FixedStopRatio       float64      `toml:"fixed_stop_ratio"`
	FirstProfitThreshold float64      `toml:"first_profit_threshold"`
	FirstProfitFraction  float64      `toml:"first_profit_fraction"`
	Bands                []BandConfig `toml:"bands"`
}

// BandConfig is one row of the trailing-stop table.
type BandConfig struct {
	MinGain float64 `toml:"min_gain"`
	Factor  float64 `toml:"factor"`
}

// GridConfig maps onto grid.Config.
type GridConfig struct {
	Enabled   bool    `toml:"enabled"`
	Step      float64 `toml:"step"`
	Ratio     float64 `toml:"ratio"`
	MaxLevels int     `toml:"max_levels"`
	Anchor    string  `toml:"anchor"`
}

// SellRulesConfig maps onto sellrule.Config. Rules are enabled unless
// listed in Disabled.
type SellRulesConfig struct {
	Cooldown       duration `toml:"cooldown"`
	SellPriceLevel int      `toml:"sell_price_level"`
	Disabled       []int    `toml:"disabled"`

	Rule1Rise           float64  `toml:"rule1_rise"`
	Rule1Drawdown       float64  `toml:"rule1_drawdown"`
	Rule2Rise           float64  `toml:"rule2_rise"`
	Rule2Drawdown       float64  `toml:"rule2_drawdown"`
	Rule3Gain           float64  `toml:"rule3_gain"`
	Rule3Drawdown       float64  `toml:"rule3_drawdown"`
	Rule4Gain           float64  `toml:"rule4_gain"`
	Rule4Drawdown       float64  `toml:"rule4_drawdown"`
	Rule5Window         duration `toml:"rule5_window"`
	Rule5LimitTolerance float64  `toml:"rule5_limit_tolerance"`
	Rule6NearLimit      float64  `toml:"rule6_near_limit"`
	Rule6SealThreshold  float64  `toml:"rule6_seal_threshold"`
	Rule7Timeout        duration `toml:"rule7_timeout"`
	Rule8MaxDrawdown    float64  `toml:"rule8_max_drawdown"`
}

// ExecutorConfig maps onto executor.Config.
type ExecutorConfig struct {
	DedupTTL    duration `toml:"dedup_ttl"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	BuyFeeRate  float64  `toml:"buy_fee_rate"`
	SellFeeRate float64  `toml:"sell_fee_rate"`
}

// LedgerConfig maps onto ledger.Config.
type LedgerConfig struct {
	BrokerTimeout      duration `toml:"broker_timeout"`
	QuoteTimeout       duration `toml:"quote_timeout"`
	QuoteConcurrency   int      `toml:"quote_concurrency"`
	SuspectDropRatio   float64  `toml:"suspect_drop_ratio"`
	SuspectMinHeld     int      `toml:"suspect_min_held"`
	SuspectMaxSkips    int      `toml:"suspect_max_skips"`
	PersistBackoffBase duration `toml:"persist_backoff_base"`
	PersistBackoffMax  duration `toml:"persist_backoff_max"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials. A channel is
// active when its token or key is set.
type NotifyConfig struct {
	PushPlusURL     string   `toml:"pushplus_url"`
	PushPlusToken   string   `toml:"pushplus_token"`
	PushPlusChannel string   `toml:"pushplus_channel"`
	PushPlusWebhook string   `toml:"pushplus_webhook"`
	WeComURL        string   `toml:"wecom_url"`
	WeComKey        string   `toml:"wecom_key"`
	Events          []string `toml:"events"`
}

// LogConfig controls log output. File, when set, receives a rotated copy
// of everything written to stdout.
type LogConfig struct {
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated from each package's defaults.
func Defaults() Config {
	mon := monitor.DefaultConfig()
	rk := risk.DefaultConfig()
	gr := grid.DefaultConfig()
	sr := sellrule.DefaultConfig()
	ex := executor.DefaultConfig()
	lg := ledger.DefaultConfig()

	bands := make([]BandConfig, 0, len(rk.Bands))
	for _, b := range rk.Bands {
		bands = append(bands, BandConfig{MinGain: b.MinGain, Factor: b.Factor})
	}

	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "qmtbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "qmtbot-archive",
			ForcePathStyle: true,
			ArchiveTime:    "15:30",
		},
		Longport: LongportConfig{Depth: true},
		Broker: BrokerConfig{
			Kind: "paper",
			Cash: 1_000_000,
		},
		Monitor: MonitorConfig{
			Interval:        duration{mon.Interval},
			DispatchTimeout: duration{mon.DispatchTimeout},
			SyncTimeout:     duration{mon.SyncTimeout},
			SignalTTL:       duration{mon.SignalTTL},
			LockKey:         mon.LockKey,
			LockTTL:         duration{mon.LockTTL},
		},
		Risk: RiskConfig{
			HardStopRatio:        rk.HardStopRatio,
			FixedStopRatio:       rk.FixedStopRatio,
			FirstProfitThreshold: rk.FirstProfitThreshold,
			FirstProfitFraction:  rk.FirstProfitFraction,
			Bands:                bands,
		},
		Grid: GridConfig{
			Enabled:   gr.Enabled,
			Step:      gr.Step,
			Ratio:     gr.Ratio,
			MaxLevels: gr.MaxLevels,
			Anchor:    string(gr.Anchor),
		},
		SellRules: SellRulesConfig{
			Cooldown:            duration{sr.Cooldown},
			SellPriceLevel:      sr.SellPriceLevel,
			Rule1Rise:           sr.Rule1Rise,
			Rule1Drawdown:       sr.Rule1Drawdown,
			Rule2Rise:           sr.Rule2Rise,
			Rule2Drawdown:       sr.Rule2Drawdown,
			Rule3Gain:           sr.Rule3Gain,
			Rule3Drawdown:       sr.Rule3Drawdown,
			Rule4Gain:           sr.Rule4Gain,
			Rule4Drawdown:       sr.Rule4Drawdown,
			Rule5Window:         duration{sr.Rule5Window},
			Rule5LimitTolerance: sr.Rule5LimitTolerance,
			Rule6NearLimit:      sr.Rule6NearLimit,
			Rule6SealThreshold:  sr.Rule6SealThreshold,
			Rule7Timeout:        duration{sr.Rule7Timeout},
			Rule8MaxDrawdown:    sr.Rule8MaxDrawdown,
		},
		Executor: ExecutorConfig{
			DedupTTL:    duration{ex.DedupTTL},
			RateLimit:   ex.RateLimit,
			RateWindow:  duration{ex.RateWindow},
			BuyFeeRate:  ex.BuyFeeRate,
			SellFeeRate: ex.SellFeeRate,
		},
		Ledger: LedgerConfig{
			BrokerTimeout:      duration{lg.BrokerTimeout},
			QuoteTimeout:       duration{lg.QuoteTimeout},
			QuoteConcurrency:   lg.QuoteConcurrency,
			SuspectDropRatio:   lg.SuspectDropRatio,
			SuspectMinHeld:     lg.SuspectMinHeld,
			SuspectMaxSkips:    lg.SuspectMaxSkips,
			PersistBackoffBase: duration{lg.PersistBackoffBase},
			PersistBackoffMax:  duration{lg.PersistBackoffMax},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				"hard_stop_loss", "first_take_profit", "dynamic_stop",
				"manual", "order_failed", "order_filled",
			},
		},
		Log: LogConfig{
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// MonitorSettings converts the [monitor] section.
func (c *Config) MonitorSettings() monitor.Config {
	return monitor.Config{
		Interval:        c.Monitor.Interval.Duration,
		DispatchTimeout: c.Monitor.DispatchTimeout.Duration,
		SyncTimeout:     c.Monitor.SyncTimeout.Duration,
		SignalTTL:       c.Monitor.SignalTTL.Duration,
		LockKey:         c.Monitor.LockKey,
		LockTTL:         c.Monitor.LockTTL.Duration,
	}
}

// RiskSettings converts the [risk] section.
func (c *Config) RiskSettings() risk.Config {
	bands := make([]risk.Band, 0, len(c.Risk.Bands))
	for _, b := range c.Risk.Bands {
		bands = append(bands, risk.Band{MinGain: b.MinGain, Factor: b.Factor})
	}
	return risk.Config{
		HardStopRatio:        c.Risk.HardStopRatio,
		FixedStopRatio:       c.Risk.FixedStopRatio,
		FirstProfitThreshold: c.Risk.FirstProfitThreshold,
		FirstProfitFraction:  c.Risk.FirstProfitFraction,
		Bands:                bands,
	}
}

// GridSettings converts the [grid] section.
func (c *Config) GridSettings() grid.Config {
	return grid.Config{
		Enabled:   c.Grid.Enabled,
		Step:      c.Grid.Step,
		Ratio:     c.Grid.Ratio,
		MaxLevels: c.Grid.MaxLevels,
		Anchor:    grid.Anchor(strings.ToLower(c.Grid.Anchor)),
	}
}

// SellRuleSettings converts the [sell_rules] section.
func (c *Config) SellRuleSettings() sellrule.Config {
	s := c.SellRules
	enabled := make(map[int]bool, 8)
	for rule := sellrule.RuleGapUpPullback; rule <= sellrule.RuleMaxDrawdown; rule++ {
		enabled[rule] = true
	}
	for _, rule := range s.Disabled {
		// Out-of-range entries are kept so Validate reports them.
		enabled[rule] = false
	}
	return sellrule.Config{
		Cooldown:            s.Cooldown.Duration,
		SellPriceLevel:      s.SellPriceLevel,
		Enabled:             enabled,
		Rule1Rise:           s.Rule1Rise,
		Rule1Drawdown:       s.Rule1Drawdown,
		Rule2Rise:           s.Rule2Rise,
		Rule2Drawdown:       s.Rule2Drawdown,
		Rule3Gain:           s.Rule3Gain,
		Rule3Drawdown:       s.Rule3Drawdown,
		Rule4Gain:           s.Rule4Gain,
		Rule4Drawdown:       s.Rule4Drawdown,
		Rule5Window:         s.Rule5Window.Duration,
		Rule5LimitTolerance: s.Rule5LimitTolerance,
		Rule6NearLimit:      s.Rule6NearLimit,
		Rule6SealThreshold:  s.Rule6SealThreshold,
		Rule7Timeout:        s.Rule7Timeout.Duration,
		Rule8MaxDrawdown:    s.Rule8MaxDrawdown,
	}
}

// ExecutorSettings converts the [executor] section.
func (c *Config) ExecutorSettings() executor.Config {
	return executor.Config{
		DedupTTL:    c.Executor.DedupTTL.Duration,
		RateLimit:   c.Executor.RateLimit,
		RateWindow:  c.Executor.RateWindow.Duration,
		BuyFeeRate:  c.Executor.BuyFeeRate,
		SellFeeRate: c.Executor.SellFeeRate,
	}
}

// LedgerSettings converts the [ledger] section.
func (c *Config) LedgerSettings() ledger.Config {
	return ledger.Config{
		BrokerTimeout:      c.Ledger.BrokerTimeout.Duration,
		QuoteTimeout:       c.Ledger.QuoteTimeout.Duration,
		QuoteConcurrency:   c.Ledger.QuoteConcurrency,
		SuspectDropRatio:   c.Ledger.SuspectDropRatio,
		SuspectMinHeld:     c.Ledger.SuspectMinHeld,
		SuspectMaxSkips:    c.Ledger.SuspectMaxSkips,
		PersistBackoffBase: c.Ledger.PersistBackoffBase.Duration,
		PersistBackoffMax:  c.Ledger.PersistBackoffMax.Duration,
	}
}

// ServerSettings converts the [server] section.
func (c *Config) ServerSettings() server.Config {
	return server.Config{
		Port:        c.Server.Port,
		CORSOrigins: c.Server.CORSOrigins,
		APIKey:      c.Server.APIKey,
		RateLimit:   c.Server.RateLimit,
		RateWindow:  c.Server.RateWindow.Duration,
	}
}

// ArchiveClock parses S3.ArchiveTime into hour and minute.
func (c *Config) ArchiveClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.S3.ArchiveTime))
	if err != nil {
		return 0, 0, fmt.Errorf("s3: archive_time %q must be HH:MM", c.S3.ArchiveTime)
	}
	return t.Hour(), t.Minute(), nil
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true, // monitor loop plus API server
	"monitor": true, // headless: no API server
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found. An invalid configuration is the only
// condition that stops the bot from starting.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("log: format must be json or text, got %q", c.Log.Format))
	}
	if c.Log.File != "" && c.Log.MaxSizeMB < 1 {
		errs = append(errs, "log: max_size_mb must be >= 1 when file is set")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if _, _, err := c.ArchiveClock(); err != nil {
		errs = append(errs, err.Error())
	}

	// Longport
	if c.Longport.Enabled && (c.Longport.AppKey == "" || c.Longport.AppSecret == "" || c.Longport.AccessToken == "") {
		errs = append(errs, "longport: app_key, app_secret and access_token must all be set when enabled")
	}

	// Broker
	if strings.ToLower(c.Broker.Kind) != "paper" {
		errs = append(errs, fmt.Sprintf("broker: unsupported kind %q (valid: paper)", c.Broker.Kind))
	}
	if c.Broker.Cash < 0 {
		errs = append(errs, "broker: cash must be >= 0")
	}
	seen := make(map[string]bool, len(c.Broker.Holdings))
	for i, h := range c.Broker.Holdings {
		switch {
		case h.Symbol == "":
			errs = append(errs, fmt.Sprintf("broker: holdings[%d]: symbol must not be empty", i))
		case seen[h.Symbol]:
			errs = append(errs, fmt.Sprintf("broker: holdings[%d]: duplicate symbol %s", i, h.Symbol))
		case h.Quantity <= 0 || h.Cost <= 0:
			errs = append(errs, fmt.Sprintf("broker: holdings[%d]: quantity and cost must be > 0", i))
		}
		seen[h.Symbol] = true
	}

	// Component settings
	type section struct {
		name string
		err  error
	}
	sections := []section{
		{"monitor", c.MonitorSettings().Validate()},
		{"risk", c.RiskSettings().Validate()},
		{"grid", c.GridSettings().Validate()},
		{"sell_rules", c.SellRuleSettings().Validate()},
		{"executor", c.ExecutorSettings().Validate()},
		{"ledger", c.LedgerSettings().Validate()},
	}
	if c.Server.Enabled {
		sections = append(sections, section{"server", c.ServerSettings().Validate()})
	}
	for _, s := range sections {
		if s.err == nil {
			continue
		}
		for _, line := range strings.Split(s.err.Error(), "\n") {
			if _, rest, ok := strings.Cut(line, "invalid config: "); ok {
				line = rest
			}
			line = strings.TrimPrefix(strings.TrimSpace(line), s.name+": ")
			if line != "" {
				errs = append(errs, s.name+": "+line)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
