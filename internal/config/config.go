package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"mvdan.cc/xurls/v2"
)

const (
	DefaultBaseURL = "https://intern.aiaxuropenings.com"
	DefaultModel   = "microsoft-florence-2-large"
)

//nolint:gochecknoglobals // Compiled once.
var httpURLPattern = mustMatchScheme(`https?://`)

type Config struct {
	APIToken        string        `env:"VISION_API_TOKEN,required,notEmpty"`
	BaseURL         string        `env:"VISION_BASE_URL"   envDefault:"https://intern.aiaxuropenings.com"`
	TargetURL       string        `env:"TARGET_URL"`
	Model           string        `env:"VISION_MODEL"      envDefault:"microsoft-florence-2-large"`
	DetectImageMIME bool          `env:"DETECT_IMAGE_MIME" envDefault:"false"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT"      envDefault:"60s"`
	MaxImageBytes   int64         `env:"MAX_IMAGE_BYTES"   envDefault:"20971520"`
	Schedule        string        `env:"SCHEDULE"`
	RunTimeout      time.Duration `env:"RUN_TIMEOUT"       envDefault:"5m"`
	DBPath          string        `env:"DB_PATH"`
	TelegramToken   string        `env:"TELEGRAM_TOKEN"`
	TelegramChatID  int64         `env:"TELEGRAM_CHAT_ID"`
	LogLevel        slog.Level    `env:"LOG_LEVEL"         envDefault:"INFO"`
}

// Load parses the environment. A non-empty target overrides TARGET_URL.
func Load(target string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if target = strings.TrimSpace(target); target != "" {
		cfg.TargetURL = target
	}

	cfg.APIToken = strings.TrimSpace(cfg.APIToken)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.APIToken == "" {
		errs = append(errs, errors.New("VISION_API_TOKEN is empty"))
	}

	if !isAbsoluteHTTPURL(c.TargetURL) {
		errs = append(errs, fmt.Errorf("TARGET_URL must be an absolute http(s) URL (got %q)", c.TargetURL))
	}

	if !isAbsoluteHTTPURL(c.BaseURL) {
		errs = append(errs, fmt.Errorf("VISION_BASE_URL must be an absolute http(s) URL (got %q)", c.BaseURL))
	}

	if c.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("MAX_IMAGE_BYTES must be positive"))
	}

	if (c.TelegramToken == "") != (c.TelegramChatID == 0) {
		errs = append(errs, errors.New("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}

	return errors.Join(errs...)
}

func (c Config) NotifierEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

func (c Config) JournalEnabled() bool {
	return strings.TrimSpace(c.DBPath) != ""
}

func mustMatchScheme(scheme string) *regexp.Regexp {
	re, err := xurls.StrictMatchingScheme(scheme)
	if err != nil {
		panic(fmt.Sprintf("compile URL pattern: %v", err))
	}

	return re
}

// isAbsoluteHTTPURL accepts raw when it starts with an http(s) URL and parses
// with a host. The pattern alone would reject trailing punctuation.
func isAbsoluteHTTPURL(raw string) bool {
	if loc := httpURLPattern.FindStringIndex(raw); loc == nil || loc[0] != 0 {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
