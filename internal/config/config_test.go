package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/grid"
	"github.com/alanyoungcy/qmtbot/internal/sellrule"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qmtbot.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, `
mode = "monitor"
log_level = "debug"

[broker]
kind = "paper"
cash = 50000.0

[[broker.holdings]]
symbol = "600000.SH"
name = "PFYH"
quantity = 1000
cost = 10.5

[monitor]
interval = "2s"

[risk]
hard_stop_ratio = 0.08
bands = [
  { min_gain = 0.0, factor = 0.95 },
  { min_gain = 0.2, factor = 0.9 },
]

[grid]
enabled = true
anchor = "PEAK"

[sell_rules]
cooldown = "10s"
disabled = [5, 6]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Mode != "monitor" || cfg.LogLevel != "debug" {
		t.Errorf("mode/log_level = %q/%q", cfg.Mode, cfg.LogLevel)
	}
	if len(cfg.Broker.Holdings) != 1 || cfg.Broker.Holdings[0].Quantity != 1000 {
		t.Errorf("holdings = %+v", cfg.Broker.Holdings)
	}
	if got := cfg.MonitorSettings().Interval; got != 2*time.Second {
		t.Errorf("interval = %s", got)
	}
	// Untouched keys keep their defaults.
	if got := cfg.MonitorSettings().LockKey; got != "monitor:cycle" {
		t.Errorf("lock key = %q", got)
	}

	rk := cfg.RiskSettings()
	if rk.HardStopRatio != 0.08 || len(rk.Bands) != 2 || rk.Bands[1].Factor != 0.9 {
		t.Errorf("risk = %+v", rk)
	}
	if rk.FixedStopRatio != Defaults().Risk.FixedStopRatio {
		t.Errorf("fixed stop ratio lost its default: %v", rk.FixedStopRatio)
	}

	if g := cfg.GridSettings(); !g.Enabled || g.Anchor != grid.AnchorPeak {
		t.Errorf("grid = %+v", g)
	}

	sr := cfg.SellRuleSettings()
	if sr.Cooldown != 10*time.Second {
		t.Errorf("cooldown = %s", sr.Cooldown)
	}
	for rule := sellrule.RuleGapUpPullback; rule <= sellrule.RuleMaxDrawdown; rule++ {
		want := rule != sellrule.RuleClosingSell && rule != sellrule.RuleLimitUpSealWeak
		if sr.Enabled[rule] != want {
			t.Errorf("rule %d enabled = %v, want %v", rule, sr.Enabled[rule], want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QMTBOT_MODE", "MONITOR")
	t.Setenv("QMTBOT_POSTGRES_PASSWORD", "pg-secret")
	t.Setenv("QMTBOT_SERVER_CORS_ORIGINS", "http://a.local, ,http://b.local")
	t.Setenv("QMTBOT_MONITOR_INTERVAL", "500ms")
	t.Setenv("QMTBOT_SERVER_PORT", "not-a-number")
	t.Setenv("LONGPORT_ACCESS_TOKEN", "lp-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "MONITOR" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Postgres.Password != "pg-secret" {
		t.Errorf("postgres password = %q", cfg.Postgres.Password)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "http://a.local|http://b.local" {
		t.Errorf("cors = %q", got)
	}
	if cfg.Monitor.Interval.Duration != 500*time.Millisecond {
		t.Errorf("interval = %s", cfg.Monitor.Interval.Duration)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("unparseable port override applied: %d", cfg.Server.Port)
	}
	if cfg.Longport.AccessToken != "lp-token" {
		t.Errorf("longport token = %q", cfg.Longport.AccessToken)
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Broker.Kind = "live"
	cfg.Broker.Holdings = []HoldingConfig{
		{Symbol: "600000.SH", Quantity: 100, Cost: 10},
		{Symbol: "600000.SH", Quantity: 100, Cost: 10},
	}
	cfg.Risk.Bands = []BandConfig{{MinGain: 0, Factor: 1.5}}
	cfg.SellRules.Disabled = []int{9}
	cfg.Server.Port = 0
	cfg.S3.Enabled = true
	cfg.S3.ArchiveTime = "25:99"
	cfg.Longport.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{
		`unknown mode "yolo"`,
		`broker: unsupported kind "live"`,
		"duplicate symbol 600000.SH",
		"risk: ",
		"sell_rules: unknown rule 9",
		"server: port 0 out of range",
		"s3: archive_time",
		"longport: app_key",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestServerSectionSkippedWhenDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Enabled = false
	cfg.Server.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Longport.AccessToken = "tok"
	cfg.Notify.WeComKey = "key"
	cfg.Server.APIKey = ""

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != redacted || out.Longport.AccessToken != redacted || out.Notify.WeComKey != redacted {
		t.Errorf("secrets not redacted: %+v", out)
	}
	if out.Server.APIKey != "" {
		t.Errorf("empty secret became %q", out.Server.APIKey)
	}
	if cfg.Postgres.Password != "pw" {
		t.Error("original mutated")
	}

	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Error("slice shared with original")
	}
}
