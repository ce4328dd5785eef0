package config

import (
	"reflect"
	"strings"
)

// Version stamps settings written by this build. Preset wording can change
// between versions, so stored name/description only count as user overrides
// when they carry the running version. Set with -ldflags at release time.
var Version = "1.3.0"

// Change is one key's transition in a store-change notification.
type Change struct {
	OldValue any
	NewValue any
}

// Changes maps storage keys to their transitions.
type Changes map[string]Change

// Has reports whether any of the keys changed.
func (c Changes) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := c[k]; ok {
			return true
		}
	}
	return false
}

// Resolution is the outcome of resolving raw stored items.
type Resolution struct {
	Settings Settings

	// Patch holds the values to write back, or nil when storage is
	// already consistent.
	Patch Items
}

// Resolver turns raw, possibly stale stored items into Settings.
type Resolver struct {
	Catalog *Catalog
	Version string
}

// NewResolver creates a resolver for the running version.
func NewResolver(catalog *Catalog) *Resolver {
	if catalog == nil {
		catalog = BuiltinCatalog()
	}
	return &Resolver{Catalog: catalog, Version: Version}
}

// Resolve normalizes raw items.
//
// The active preset is the stored key if the catalog knows it, otherwise the
// preset whose name matches the stored target name, otherwise the catalog
// default. Stored name and description are kept only when they are stamped
// with the running version and both non-empty; otherwise they are replaced by
// the preset's wording. A patch is returned only when preset, version, name or
// description differ from what was stored.
func (r *Resolver) Resolve(raw Items) Resolution {
	storedPreset := itemString(raw, KeyModelPreset)
	storedVersion := itemString(raw, KeyModelConfigVersion)
	storedName := itemString(raw, KeyTargetModelName)
	storedDesc := itemString(raw, KeyTargetModelDesc)

	preset, ok := r.Catalog.Lookup(storedPreset)
	if !ok {
		preset, ok = r.Catalog.Infer(storedName)
	}
	if !ok {
		preset = r.Catalog.Default()
	}

	name, desc := preset.Name, preset.Description
	switch {
	case preset.IsCustom():
		if strings.TrimSpace(storedName) == "" {
			// Nothing to be custom about
			preset = r.Catalog.Default()
			name, desc = preset.Name, preset.Description
		} else {
			name, desc = storedName, storedDesc
		}
	case storedVersion == r.Version && storedName != "" && storedDesc != "":
		name, desc = storedName, storedDesc
	}

	selector := strings.TrimSpace(itemString(raw, KeyModelSwitcherSelector))
	if selector == "" {
		selector = DefaultSwitcherSelector
	}

	settings := Settings{
		Enabled:               itemBool(raw, KeyEnabled, true),
		ModelPreset:           preset.Key,
		ModelConfigVersion:    r.Version,
		TargetModelName:       name,
		TargetModelDesc:       desc,
		ModelSwitcherSelector: selector,
		Delay:                 itemMillis(raw, KeyDelay, DefaultDelay),
	}

	return Resolution{Settings: settings, Patch: patchFor(raw, settings)}
}

// patchFor returns the target keys to write so that stored matches s, or
// nil when it already does.
func patchFor(stored Items, s Settings) Items {
	if s.ModelPreset == itemString(stored, KeyModelPreset) &&
		s.ModelConfigVersion == itemString(stored, KeyModelConfigVersion) &&
		s.TargetModelName == itemString(stored, KeyTargetModelName) &&
		s.TargetModelDesc == itemString(stored, KeyTargetModelDesc) {
		return nil
	}
	return Items{
		KeyModelPreset:        s.ModelPreset,
		KeyModelConfigVersion: s.ModelConfigVersion,
		KeyTargetModelName:    s.TargetModelName,
		KeyTargetModelDesc:    s.TargetModelDesc,
	}
}

// Apply folds a change notification into stored items and resolves the
// result. It returns the new stored items alongside the resolution. When
// the preset changed on its own to a value other than the stored one, the
// target wording follows the new preset, so selecting a preset is enough to
// retarget; the patch then carries that wording back to storage.
func (r *Resolver) Apply(stored Items, changes Changes) (Items, Resolution) {
	// Echoes of a write-back carry the preset already stored.
	presetPicked := false
	if ch, ok := changes[KeyModelPreset]; ok {
		presetPicked = !reflect.DeepEqual(ch.NewValue, stored[KeyModelPreset])
	}

	next := stored.Clone()
	for key, ch := range changes {
		if ch.NewValue == nil {
			delete(next, key)
			continue
		}
		next[key] = ch.NewValue
	}

	effective := next
	if presetPicked && !changes.Has(KeyTargetModelName, KeyTargetModelDesc) {
		if p, ok := r.Catalog.Lookup(itemString(next, KeyModelPreset)); ok && !p.IsCustom() {
			effective = next.Clone()
			effective[KeyTargetModelName] = p.Name
			effective[KeyTargetModelDesc] = p.Description
		}
	}

	res := r.Resolve(effective)
	res.Patch = patchFor(next, res.Settings)
	return next, res
}
