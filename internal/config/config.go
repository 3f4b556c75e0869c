// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	EngineCOM       = "com"
	EngineSimulated = "simulated"
)

type Config struct {
	Listen    string `validate:"required"`
	BotToken  string
	WebAppURL string  `validate:"omitempty,url"`
	Whitelist []int64 `validate:"dive,gt=0"`

	DatabaseURL string `validate:"omitempty,startswith=postgres://|startswith=postgresql://|startswith=sqlite:"`

	SourcePath      string        `validate:"required"`
	WorkDir         string        `validate:"required"`
	LockPath        string        `validate:"required"`
	LockTimeout     time.Duration `validate:"gt=0"`
	ReadyTimeout    time.Duration `validate:"gt=0"`
	PipelineTimeout time.Duration `validate:"gt=0"`
	EngineKind      string        `validate:"oneof=com simulated"`
	// OutputDir is where the simulated engine writes its reports.
	OutputDir   string
	ReportsFile string

	Schedule ScheduleConfig
	Archive  ArchiveConfig
}

type ScheduleConfig struct {
	Enabled    bool
	Cron       string  `validate:"required_if=Enabled true"`
	Timezone   string  `validate:"required_if=Enabled true"`
	Kind       string  `validate:"required_if=Enabled true"`
	Recipients []int64 `validate:"dive,gt=0"`
}

type ArchiveConfig struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string `validate:"omitempty,url"`
}

// Enabled reports whether delivered reports are archived.
func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// Defaults returns the settings used when no environment overrides them.
func Defaults() Config {
	tmp := os.TempDir()
	return Config{
		Listen:          ":8443",
		WorkDir:         tmp,
		LockPath:        filepath.Join(tmp, "reportd_engine.lock"),
		LockTimeout:     300 * time.Second,
		ReadyTimeout:    180 * time.Second,
		PipelineTimeout: 1800 * time.Second,
		EngineKind:      EngineCOM,
		OutputDir:       filepath.Join(tmp, "reportd_out"),
		Schedule: ScheduleConfig{
			Cron:     "0 10 * * 1",
			Timezone: "Europe/Berlin",
			Kind:     "bericht",
		},
	}
}

// Load reads the environment through getenv over the defaults. It does not
// validate; flags may still override fields.
func Load(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	var errs []error
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	ids := func(key string, dst *[]int64) {
		if v := getenv(key); strings.TrimSpace(v) != "" {
			parsed, err := ParseIDs(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = parsed
		}
	}

	str("REPORTD_LISTEN", &cfg.Listen)
	str("TELEGRAM_BOT_TOKEN", &cfg.BotToken)
	str("WEBAPP_URL", &cfg.WebAppURL)
	ids("WHITELIST_USER_IDS", &cfg.Whitelist)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("EXCEL_FILE_PATH", &cfg.SourcePath)
	str("EXCEL_WORKCOPY_DIR", &cfg.WorkDir)
	str("ENGINE_LOCK_PATH", &cfg.LockPath)
	dur("ENGINE_LOCK_TIMEOUT", &cfg.LockTimeout)
	dur("ENGINE_READY_TIMEOUT", &cfg.ReadyTimeout)
	dur("PIPELINE_TIMEOUT", &cfg.PipelineTimeout)
	str("ENGINE_KIND", &cfg.EngineKind)
	str("ENGINE_OUTPUT_DIR", &cfg.OutputDir)
	str("REPORTS_FILE", &cfg.ReportsFile)

	if v := strings.TrimSpace(getenv("SCHEDULE_ENABLED")); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SCHEDULE_ENABLED: %w", err))
		}
		cfg.Schedule.Enabled = enabled
	}
	str("SCHEDULE_CRON", &cfg.Schedule.Cron)
	str("SCHEDULE_TIMEZONE", &cfg.Schedule.Timezone)
	str("SCHEDULE_REPORT_TYPE", &cfg.Schedule.Kind)
	ids("SCHEDULE_USER_IDS", &cfg.Schedule.Recipients)

	str("ARCHIVE_S3_BUCKET", &cfg.Archive.Bucket)
	str("ARCHIVE_S3_PREFIX", &cfg.Archive.Prefix)
	str("ARCHIVE_S3_REGION", &cfg.Archive.Region)
	str("ARCHIVE_S3_ENDPOINT", &cfg.Archive.Endpoint)

	return cfg, errors.Join(errs...)
}

// FromEnv loads the process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns one error listing every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ParseIDs reads a comma separated list of numeric user ids. Blank entries
// are skipped.
func ParseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseDuration accepts Go durations ("90s") and bare seconds ("90").
func ParseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}
