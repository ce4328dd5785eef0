package config

import (
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"
)

// Storage keys. They match the names the settings were originally
// persisted under so existing settings files keep working.
const (
	KeyEnabled               = "enabled"
	KeyModelPreset           = "modelPreset"
	KeyModelConfigVersion    = "modelConfigVersion"
	KeyTargetModelName       = "targetModelName"
	KeyTargetModelDesc       = "targetModelDesc"
	KeyModelSwitcherSelector = "modelSwitcherSelector"
	KeyDelay                 = "delay"
)

// SectionIDSettings is the FileStore section holding the user settings.
const SectionIDSettings = "settings"

// DefaultSwitcherSelector locates the model switcher button.
const DefaultSwitcherSelector = "button.mdc-button.mat-mdc-button-base.input-area-switch.mat-mdc-button.mat-unthemed.ng-star-inserted"

// DefaultDelay is the debounce and menu-settle interval.
const DefaultDelay = 10 * time.Millisecond

// MaxDelay bounds a stored delay; larger values fall back to the default.
const MaxDelay = time.Minute

// Items is a flat key/value view of stored settings, as read from or
// written to the store. Values are JSON-typed (bool, float64, string).
type Items map[string]any

// Clone returns a shallow copy.
func (it Items) Clone() Items {
	out := make(Items, len(it))
	maps.Copy(out, it)
	return out
}

// Settings is the resolved, typed configuration the engine runs on.
type Settings struct {
	Enabled               bool
	ModelPreset           string
	ModelConfigVersion    string
	TargetModelName       string
	TargetModelDesc       string
	ModelSwitcherSelector string
	Delay                 time.Duration
}

// Items converts the settings back to their stored representation.
func (s Settings) Items() Items {
	return Items{
		KeyEnabled:               s.Enabled,
		KeyModelPreset:           s.ModelPreset,
		KeyModelConfigVersion:    s.ModelConfigVersion,
		KeyTargetModelName:       s.TargetModelName,
		KeyTargetModelDesc:       s.TargetModelDesc,
		KeyModelSwitcherSelector: s.ModelSwitcherSelector,
		KeyDelay:                 s.Delay.Milliseconds(),
	}
}

// Active reports whether switching can do anything at all.
func (s Settings) Active() bool {
	return s.Enabled && strings.TrimSpace(s.TargetModelName) != ""
}

// DefaultItems returns the defaults handed to SettingsStore.Get. Preset,
// version, name and description are left for the resolver to fill in.
func DefaultItems() Items {
	return Items{
		KeyEnabled:               true,
		KeyModelSwitcherSelector: DefaultSwitcherSelector,
		KeyDelay:                 DefaultDelay.Milliseconds(),
	}
}

func itemString(items Items, key string) string {
	switch v := items[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func itemBool(items Items, key string, fallback bool) bool {
	switch v := items[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// itemMillis reads a non-negative millisecond count.
func itemMillis(items Items, key string, fallback time.Duration) time.Duration {
	var ms float64
	switch v := items[key].(type) {
	case float64:
		ms = v
	case int:
		ms = float64(v)
	case int64:
		ms = float64(v)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fallback
		}
		ms = n
	default:
		return fallback
	}
	if ms < 0 || math.IsNaN(ms) || ms > float64(MaxDelay.Milliseconds()) {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// ParseValue converts a command-line value into the type stored for key.
func ParseValue(key, raw string) (any, error) {
	switch key {
	case KeyEnabled:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected bool, got %q", key, raw)
		}
		return b, nil
	case KeyDelay:
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || int64(n) > MaxDelay.Milliseconds() {
			return nil, fmt.Errorf("invalid value for %s: expected 0 to %d milliseconds, got %q", key, MaxDelay.Milliseconds(), raw)
		}
		return n, nil
	case KeyModelPreset, KeyModelConfigVersion, KeyTargetModelName, KeyTargetModelDesc, KeyModelSwitcherSelector:
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown setting %q", key)
	}
}

// Keys lists every known storage key in display order.
func Keys() []string {
	return []string{
		KeyEnabled,
		KeyModelPreset,
		KeyModelConfigVersion,
		KeyTargetModelName,
		KeyTargetModelDesc,
		KeyModelSwitcherSelector,
		KeyDelay,
	}
}
