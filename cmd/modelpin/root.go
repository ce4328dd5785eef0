package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/entrhq/modelpin/pkg/config"
	"github.com/entrhq/modelpin/pkg/logging"
)

// version is set with -ldflags at release time.
var version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "modelpin",
		Short: "Keep a web app's model selector on the model you chose",
		Long: `modelpin drives a Chromium browser over the DevTools protocol, watches the
host page's model selector and switches it back to the configured target
whenever the page shows a different model.

Settings live in ~/.modelpin/settings.json and can be changed while the
agent runs:
  modelpin config set modelPreset=thinking
  modelpin config set enabled=false`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "options file (default ./modelpin.yaml or ~/.modelpin/modelpin.yaml)")
	pf.String("settings", "", "settings file (default ~/.modelpin/settings.json)")
	pf.String("presets", "", "YAML preset catalog replacing the built-in presets")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "console", "log format: console or json")

	root.AddCommand(
		newRunCmd(),
		newConfigCmd(),
		newPresetsCmd(),
		newProbeCmd(),
		newVersionCmd(),
	)
	return root
}

// addBrowserFlags registers the flags of commands that open a page.
func addBrowserFlags(fs *pflag.FlagSet) {
	fs.String("driver", config.DriverPlaywright, "browser driver: playwright, chromedp or rod")
	fs.String("url", "", "page to open when no matching tab is reused")
	fs.StringSlice("match", nil, "URL glob of pages to reconcile (repeatable)")
	fs.Bool("headless", false, "run the browser without a window")
	fs.String("user-data-dir", "", "browser profile directory (default ~/.modelpin/profile)")
	fs.String("cdp-url", "", "attach to a running browser at this DevTools URL")
	fs.String("browser-path", "", "browser executable")
	fs.Bool("install", false, "download the Playwright driver and Chromium if missing")
}

// loadOptions reads options with cmd's flags applied on top.
func loadOptions(cmd *cobra.Command) (*config.Options, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.LoadOptions(path, cmd.Flags())
}

// setupLogging applies the logging options and returns the root logger.
func setupLogging(opts *config.Options) (*logging.Logger, error) {
	if err := logging.SetLevel(opts.Logging.Level); err != nil {
		return nil, err
	}
	if err := logging.SetFormat(opts.Logging.Format); err != nil {
		return nil, err
	}
	log, err := logging.NewLogger("modelpin")
	if err != nil {
		// Falls back to stderr; keep going.
		fmt.Printf("Warning: %v\n", err)
	}
	return log, nil
}

func openStore(opts *config.Options, log *logging.Logger) (*config.SettingsStore, error) {
	store, err := config.NewSettingsStore(opts.SettingsPath, log.Named("settings"))
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}
	return store, nil
}

func loadCatalog(opts *config.Options) (*config.Catalog, error) {
	if opts.PresetsPath == "" {
		return config.BuiltinCatalog(), nil
	}
	return config.LoadCatalog(opts.PresetsPath)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modelpin v%s (settings version %s)\n", version, config.Version)
		},
	}
}
