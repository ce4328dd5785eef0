package main

import (
	"fmt"
	"maps"
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/modelpin/pkg/config"
	"github.com/entrhq/modelpin/pkg/logging"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the stored settings",
		Long: `Show or change the settings the agent runs on.

Keys:
  enabled                 true or false
  modelPreset             a preset key (see 'modelpin presets') or custom
  targetModelName         name shown in the selector menu
  targetModelDesc         description shown under the name
  modelSwitcherSelector   CSS selector of the selector button
  delay                   debounce and menu settle time in milliseconds

A running agent picks changes up immediately.`,
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigSetCmd(), newConfigResetCmd())
	return cmd
}

// settingsView is the printed form of the resolved settings.
type settingsView struct {
	Status                string `yaml:"status"`
	Path                  string `yaml:"path"`
	Enabled               bool   `yaml:"enabled"`
	ModelPreset           string `yaml:"modelPreset"`
	ModelConfigVersion    string `yaml:"modelConfigVersion"`
	TargetModelName       string `yaml:"targetModelName"`
	TargetModelDesc       string `yaml:"targetModelDesc"`
	ModelSwitcherSelector string `yaml:"modelSwitcherSelector"`
	Delay                 int64  `yaml:"delay"`
}

func newSettingsView(path string, s config.Settings) settingsView {
	status := "disabled"
	if s.Active() {
		status = "active"
	}
	return settingsView{
		Status:                status,
		Path:                  path,
		Enabled:               s.Enabled,
		ModelPreset:           s.ModelPreset,
		ModelConfigVersion:    s.ModelConfigVersion,
		TargetModelName:       s.TargetModelName,
		TargetModelDesc:       s.TargetModelDesc,
		ModelSwitcherSelector: s.ModelSwitcherSelector,
		Delay:                 s.Delay.Milliseconds(),
	}
}

// settingsEnv is what the config commands work on.
type settingsEnv struct {
	store    *config.SettingsStore
	resolver *config.Resolver
}

func openSettings(cmd *cobra.Command) (*settingsEnv, error) {
	opts, err := loadOptions(cmd)
	if err != nil {
		return nil, err
	}
	store, err := openStore(opts, logging.NewNop())
	if err != nil {
		return nil, err
	}
	catalog, err := loadCatalog(opts)
	if err != nil {
		return nil, err
	}
	return &settingsEnv{store: store, resolver: config.NewResolver(catalog)}, nil
}

func (e *settingsEnv) show(cmd *cobra.Command) error {
	res := e.resolver.Resolve(e.store.Get(config.DefaultItems()))
	return printYAML(cmd, newSettingsView(e.store.Path(), res.Settings))
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openSettings(cmd)
			if err != nil {
				return err
			}
			return env.show(cmd)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set key=value...",
		Short: "Change settings",
		Example: `  modelpin config set modelPreset=fast
  modelpin config set targetModelName="Pro" targetModelDesc="Advanced math and code"
  modelpin config set enabled=false`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openSettings(cmd)
			if err != nil {
				return err
			}

			patch := make(config.Items, len(args))
			for _, arg := range args {
				key, raw, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				key = strings.TrimSpace(key)
				v, err := config.ParseValue(key, raw)
				if err != nil {
					return err
				}
				patch[key] = v
			}

			if err := env.store.Write(env.resolve(patch)); err != nil {
				return fmt.Errorf("failed to save settings: %w", err)
			}
			return env.show(cmd)
		},
	}
}

// resolve completes patch the way the settings panel did: a preset change
// also stores that preset's wording, and hand-entered wording switches to
// the custom preset stamped with the running version.
func (e *settingsEnv) resolve(patch config.Items) config.Items {
	_, hasName := patch[config.KeyTargetModelName]
	_, hasDesc := patch[config.KeyTargetModelDesc]
	if hasName || hasDesc {
		if _, ok := patch[config.KeyModelPreset]; !ok {
			patch[config.KeyModelPreset] = config.PresetCustom
		}
		if _, ok := patch[config.KeyModelConfigVersion]; !ok {
			patch[config.KeyModelConfigVersion] = e.resolver.Version
		}
	}

	stored := e.store.Get(nil)
	changes := make(config.Changes, len(patch))
	for k, v := range patch {
		changes[k] = config.Change{OldValue: stored[k], NewValue: v}
	}

	_, res := e.resolver.Apply(stored, changes)
	out := patch.Clone()
	maps.Copy(out, res.Patch)
	return out
}

func newConfigResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove all stored settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openSettings(cmd)
			if err != nil {
				return err
			}
			if err := env.store.Reset(); err != nil {
				return fmt.Errorf("failed to reset settings: %w", err)
			}
			return env.show(cmd)
		},
	}
}

// catalogView mirrors the preset catalog file format.
type catalogView struct {
	Default string          `yaml:"default"`
	Presets []config.Preset `yaml:"presets"`
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "Print the preset catalog",
		Long: `Print the preset catalog in the format accepted by --presets, so the output
can be saved, edited and passed back when the host's wording changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadOptions(cmd)
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(opts)
			if err != nil {
				return err
			}

			return printYAML(cmd, catalogView{
				Default: catalog.Default().Key,
				Presets: catalog.Presets(),
			})
		},
	}
}
