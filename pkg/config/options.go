package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Browser drivers.
const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
	DriverRod        = "rod"
)

// Options controls how the agent process launches and attaches. They are
// separate from Settings: Settings are user preferences shared with the
// settings panel, Options describe one run.
type Options struct {
	Driver       string         `mapstructure:"driver"`
	URL          string         `mapstructure:"url"`
	Matches      []string       `mapstructure:"matches"`
	Headless     bool           `mapstructure:"headless"`
	UserDataDir  string         `mapstructure:"user_data_dir"`
	CDPURL       string         `mapstructure:"cdp_url"`
	BrowserPath  string         `mapstructure:"browser_path"`
	Install      bool           `mapstructure:"install"`
	SettingsPath string         `mapstructure:"settings_path"`
	PresetsPath  string         `mapstructure:"presets_path"`
	Markup       MarkupOptions  `mapstructure:"markup"`
	Logging      LoggingOptions `mapstructure:"logging"`
}

// MarkupOptions override the host-page structure the locator relies on.
// Empty values keep the built-in defaults.
type MarkupOptions struct {
	OptionTextClass    string `mapstructure:"option_text_class"`
	ActionableSelector string `mapstructure:"actionable_selector"`
	PrimaryInput       string `mapstructure:"primary_input"`
}

// LoggingOptions controls logger behaviour.
type LoggingOptions struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// flagKeys maps command-line flag names onto option keys.
var flagKeys = map[string]string{
	"driver":        "driver",
	"url":           "url",
	"match":         "matches",
	"headless":      "headless",
	"user-data-dir": "user_data_dir",
	"cdp-url":       "cdp_url",
	"browser-path":  "browser_path",
	"install":       "install",
	"settings":      "settings_path",
	"presets":       "presets_path",
	"log-level":     "logging.level",
	"log-format":    "logging.format",
}

// LoadOptions reads options from path (or ./modelpin.yaml, then
// ~/.modelpin/modelpin.yaml when empty), the environment (prefix MODELPIN_,
// dots replaced with underscores) and any flags in fs that were set.
func LoadOptions(path string, fs *pflag.FlagSet) (*Options, error) {
	v := viper.New()
	setOptionDefaults(v)

	v.SetEnvPrefix("MODELPIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("modelpin")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.modelpin")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read options: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

func setOptionDefaults(v *viper.Viper) {
	v.SetDefault("driver", DriverPlaywright)
	v.SetDefault("url", "https://gemini.google.com/app")
	v.SetDefault("matches", []string{"https://gemini.google.com/*"})
	v.SetDefault("headless", false)
	v.SetDefault("user_data_dir", "")
	v.SetDefault("cdp_url", "")
	v.SetDefault("browser_path", "")
	v.SetDefault("install", false)
	v.SetDefault("settings_path", "")
	v.SetDefault("presets_path", "")
	v.SetDefault("markup.option_text_class", "")
	v.SetDefault("markup.actionable_selector", "")
	v.SetDefault("markup.primary_input", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// ProfileDir returns the browser profile directory, defaulting to
// ~/.modelpin/profile.
func (o *Options) ProfileDir() (string, error) {
	if o.UserDataDir != "" {
		return o.UserDataDir, nil
	}
	return DefaultProfileDir()
}

// DefaultProfileDir returns ~/.modelpin/profile.
func DefaultProfileDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".modelpin", "profile"), nil
}

// Validate performs basic sanity checks on option values.
func (o *Options) Validate() error {
	switch o.Driver {
	case DriverPlaywright, DriverChromedp, DriverRod:
	default:
		return fmt.Errorf("invalid driver %q (must be %q, %q or %q)", o.Driver, DriverPlaywright, DriverChromedp, DriverRod)
	}

	if strings.TrimSpace(o.URL) == "" && o.CDPURL == "" {
		return errors.New("a start url is required unless attaching with cdp_url")
	}

	if len(o.Matches) == 0 {
		return errors.New("at least one url match pattern is required")
	}

	return nil
}
