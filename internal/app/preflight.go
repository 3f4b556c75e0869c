package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/izavyalov-dev/reportd/internal/config"
	"github.com/izavyalov-dev/reportd/orchestrator"
	"github.com/izavyalov-dev/reportd/registry"
)

// Check is the result of one preflight probe.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Preflight verifies a deployment can serve reports without starting the engine.
func Preflight(ctx context.Context, cfg config.Config) []Check {
	var checks []Check
	add := func(name string, err error, okDetail string) {
		c := Check{Name: name, OK: err == nil, Detail: okDetail}
		if err != nil {
			c.Detail = err.Error()
		}
		checks = append(checks, c)
	}

	add("config", cfg.Validate(), "valid")

	if cfg.BotToken == "" {
		add("bot token", fmt.Errorf("TELEGRAM_BOT_TOKEN is not set"), "")
	} else {
		add("bot token", nil, "set")
	}

	if len(cfg.Whitelist) == 0 && cfg.DatabaseURL == "" {
		add("whitelist", fmt.Errorf("WHITELIST_USER_IDS is empty and no ledger is configured"), "")
	} else {
		add("whitelist", nil, fmt.Sprintf("%d static ids", len(cfg.Whitelist)))
	}

	if cfg.EngineKind == config.EngineCOM && runtime.GOOS != "windows" {
		add("engine", fmt.Errorf("com engine requires windows, running on %s", runtime.GOOS), "")
	} else {
		add("engine", nil, cfg.EngineKind)
	}

	reg, err := loadRegistry(cfg.ReportsFile)
	add("registry", err, "loaded")

	if _, err := os.Stat(cfg.SourcePath); err != nil {
		add("source document", err, "")
	} else {
		add("source document", nil, cfg.SourcePath)
		if reg != nil {
			inspector := registry.NewInspector()
			for _, kind := range reg.Kinds() {
				rep, _ := reg.Lookup(kind)
				add("bindings "+kind, inspector.Check(cfg.SourcePath, rep), "present")
			}
		}
	}

	add("lock directory", writableDir(filepath.Dir(cfg.LockPath)), filepath.Dir(cfg.LockPath))
	add("working directory", writableDir(cfg.WorkDir), cfg.WorkDir)

	if cfg.Schedule.Enabled {
		loc, err := orchestrator.ValidateSchedule(cfg.Schedule.Cron, cfg.Schedule.Timezone)
		detail := ""
		if loc != nil {
			detail = cfg.Schedule.Cron + " " + loc.String()
		}
		add("schedule", err, detail)
		if reg != nil {
			_, err := reg.Lookup(cfg.Schedule.Kind)
			add("schedule kind", err, cfg.Schedule.Kind)
		}
	}

	if cfg.DatabaseURL != "" {
		a, err := Build(ctx, cfg, nil, Options{})
		if err == nil {
			a.Close()
		}
		add("ledger", err, "reachable")
	}
	return checks
}

// Passed reports whether every check succeeded.
func Passed(checks []Check) bool {
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func writableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".reportd-preflight-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
