// Package config loads run settings from defaults, a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cantalupo555/gov-dataset-retriever/internal/browser"
	"github.com/cantalupo555/gov-dataset-retriever/internal/fetch"
	"github.com/cantalupo555/gov-dataset-retriever/internal/watcher"
)

// Duration decodes TOML strings such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds application configuration.
type Config struct {
	OutputDir    string `toml:"output_dir"`
	ChromePath   string `toml:"chrome_path"`
	Headless     bool   `toml:"headless"`
	UserAgent    string `toml:"user_agent"`
	WindowWidth  int    `toml:"window_width"`
	WindowHeight int    `toml:"window_height"`

	NavigationTimeout Duration `toml:"navigation_timeout"`
	SettleDelay       Duration `toml:"settle_delay"`
	StabilizeDelay    Duration `toml:"stabilize_delay"`
	PollInterval      Duration `toml:"poll_interval"`
	RequestTimeout    Duration `toml:"request_timeout"`
	RequestDelay      Duration `toml:"request_delay"`

	// Catalog is a YAML task catalog; empty means the built-in one.
	Catalog string `toml:"catalog"`
	// MirrorURL is a gocloud bucket URL; empty disables mirroring.
	MirrorURL string `toml:"mirror_url"`
}

// DefaultPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "gov-dataset-retriever", "config.toml")
}

// Default returns the built-in configuration.
func Default() Config {
	b := browser.DefaultConfig()
	f := fetch.DefaultOptions()
	return Config{
		OutputDir:         "./data",
		Headless:          b.Headless,
		UserAgent:         b.UserAgent,
		WindowWidth:       b.WindowWidth,
		WindowHeight:      b.WindowHeight,
		NavigationTimeout: Duration{b.NavigationTimeout},
		SettleDelay:       Duration{b.SettleDelay},
		StabilizeDelay:    Duration{b.StabilizeDelay},
		PollInterval:      Duration{watcher.DefaultInterval},
		RequestTimeout:    Duration{f.Timeout},
		RequestDelay:      Duration{time.Second},
	}
}

// Load builds a Config from defaults, the TOML file at path and environment
// overrides. A missing file is not an error unless required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()

	if path != "" {
		_, err := toml.DecodeFile(path, &cfg)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Env overrides
func applyEnv(cfg *Config) {
	if v := os.Getenv("RETRIEVER_OUTPUT"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("RETRIEVER_CHROME"); v != "" {
		cfg.ChromePath = v
	}
	if v := os.Getenv("RETRIEVER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Headless = b
		}
	}
	if v := os.Getenv("RETRIEVER_MIRROR"); v != "" {
		cfg.MirrorURL = v
	}
}

// Validate rejects settings the run cannot work with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output_dir is empty"))
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		errs = append(errs, errors.New("window size must be positive"))
	}
	if c.NavigationTimeout.Duration <= 0 || c.RequestTimeout.Duration <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.PollInterval.Duration <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.SettleDelay.Duration < 0 || c.StabilizeDelay.Duration < 0 || c.RequestDelay.Duration < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Browser returns the browser settings for a session writing into downloadDir.
func (c Config) Browser(downloadDir string) browser.Config {
	b := browser.DefaultConfig()
	b.ExecPath = c.ChromePath
	b.DownloadDir = downloadDir
	b.Headless = c.Headless
	b.UserAgent = c.UserAgent
	b.WindowWidth = c.WindowWidth
	b.WindowHeight = c.WindowHeight
	b.NavigationTimeout = c.NavigationTimeout.Duration
	b.SettleDelay = c.SettleDelay.Duration
	b.StabilizeDelay = c.StabilizeDelay.Duration
	return b
}

// Fetch returns the HTTP client options.
func (c Config) Fetch() fetch.Options {
	o := fetch.DefaultOptions()
	o.Timeout = c.RequestTimeout.Duration
	o.UserAgent = c.UserAgent
	return o
}
