package config

import (
	"strings"
	"testing"
	"time"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8443" || cfg.LockTimeout != 300*time.Second || cfg.PipelineTimeout != 1800*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Schedule.Enabled || cfg.Schedule.Cron != "0 10 * * 1" || cfg.Schedule.Timezone != "Europe/Berlin" {
		t.Fatalf("unexpected schedule defaults %+v", cfg.Schedule)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "SourcePath") {
		t.Fatalf("expected missing source path to fail validation, got %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"EXCEL_FILE_PATH":      `C:\reports\Bericht.xlsm`,
		"WHITELIST_USER_IDS":   " 111, 222,,333 ",
		"DATABASE_URL":         "sqlite:/var/lib/reportd/ledger.db",
		"ENGINE_LOCK_TIMEOUT":  "45",
		"ENGINE_READY_TIMEOUT": "2m",
		"ENGINE_KIND":          "simulated",
		"SCHEDULE_ENABLED":     "true",
		"SCHEDULE_USER_IDS":    "444",
		"ARCHIVE_S3_BUCKET":    "reports",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(cfg.Whitelist) != 3 || cfg.Whitelist[2] != 333 {
		t.Fatalf("unexpected whitelist %v", cfg.Whitelist)
	}
	if cfg.LockTimeout != 45*time.Second || cfg.ReadyTimeout != 2*time.Minute {
		t.Fatalf("unexpected timeouts %s/%s", cfg.LockTimeout, cfg.ReadyTimeout)
	}
	if !cfg.Schedule.Enabled || len(cfg.Schedule.Recipients) != 1 {
		t.Fatalf("unexpected schedule %+v", cfg.Schedule)
	}
	if !cfg.Archive.Enabled() {
		t.Fatal("expected archive enabled")
	}
}

func TestLoadReportsEveryBadValue(t *testing.T) {
	_, err := Load(envMap(map[string]string{
		"WHITELIST_USER_IDS": "111,abc",
		"PIPELINE_TIMEOUT":   "forever",
		"SCHEDULE_ENABLED":   "sometimes",
	}))
	if err == nil {
		t.Fatal("expected load errors")
	}
	for _, key := range []string{"WHITELIST_USER_IDS", "PIPELINE_TIMEOUT", "SCHEDULE_ENABLED"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected error to mention %s, got %v", key, err)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "engine kind", mutate: func(c *Config) { c.EngineKind = "libreoffice" }, field: "EngineKind"},
		{name: "database url", mutate: func(c *Config) { c.DatabaseURL = "mysql://db" }, field: "DatabaseURL"},
		{name: "lock timeout", mutate: func(c *Config) { c.LockTimeout = 0 }, field: "LockTimeout"},
		{name: "schedule cron", mutate: func(c *Config) { c.Schedule.Enabled = true; c.Schedule.Cron = "" }, field: "Cron"},
		{name: "whitelist id", mutate: func(c *Config) { c.Whitelist = []int64{-1} }, field: "Whitelist"},
		{name: "webapp url", mutate: func(c *Config) { c.WebAppURL = "not a url" }, field: "WebAppURL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.SourcePath = "Bericht.xlsm"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("expected violation on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{"300": 300 * time.Second, "1.5s": 1500 * time.Millisecond, "30m": 30 * time.Minute}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		if err != nil || got != want {
			t.Fatalf("%q: expected %s, got %s (%v)", raw, want, got, err)
		}
	}
}
