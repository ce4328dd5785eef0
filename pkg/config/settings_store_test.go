package config

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type changeRecorder struct {
	mu      sync.Mutex
	batches []Changes
}

func (r *changeRecorder) listen(c Changes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, c)
}

func (r *changeRecorder) all() []Changes {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Changes, len(r.batches))
	copy(out, r.batches)
	return out
}

func newTestSettingsStore(t *testing.T) *SettingsStore {
	t.Helper()
	s, err := NewSettingsStore(filepath.Join(t.TempDir(), "settings.json"), nil)
	require.NoError(t, err)
	return s
}

func TestSettingsStoreGet(t *testing.T) {
	s := newTestSettingsStore(t)
	require.NoError(t, s.Write(Items{KeyDelay: 50}))

	got := s.Get(DefaultItems())
	assert.Equal(t, true, got[KeyEnabled])
	assert.Equal(t, DefaultSwitcherSelector, got[KeyModelSwitcherSelector])
	assert.Equal(t, 50.0, got[KeyDelay], "stored values override defaults")
}

func TestSettingsStoreWriteNotifiesChangedKeys(t *testing.T) {
	s := newTestSettingsStore(t)
	rec := &changeRecorder{}
	s.OnChange(rec.listen)

	require.NoError(t, s.Write(Items{KeyTargetModelName: "Pro", KeyEnabled: true}))
	require.NoError(t, s.Write(Items{KeyTargetModelName: "Pro", KeyEnabled: false}))
	require.NoError(t, s.Write(Items{KeyEnabled: false}))

	batches := rec.all()
	require.Len(t, batches, 2, "writes without a difference do not notify")

	assert.Len(t, batches[0], 2)
	assert.Equal(t, "Pro", batches[0][KeyTargetModelName].NewValue)

	assert.Len(t, batches[1], 1)
	assert.Equal(t, Change{OldValue: true, NewValue: false}, batches[1][KeyEnabled])
}

func TestSettingsStoreIntegersCompareAfterReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	first, err := NewSettingsStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Write(Items{KeyDelay: 20}))

	second, err := NewSettingsStore(path, nil)
	require.NoError(t, err)
	rec := &changeRecorder{}
	second.OnChange(rec.listen)

	require.NoError(t, second.Write(Items{KeyDelay: 20}))
	assert.Empty(t, rec.all())
}

func TestSettingsStoreSetIsAsync(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestSettingsStore(t)
	rec := &changeRecorder{}
	s.OnChange(rec.listen)

	s.Set(Items{KeyModelPreset: PresetFast})
	s.Flush()

	batches := rec.all()
	require.Len(t, batches, 1, "own writes reach listeners")
	assert.Equal(t, PresetFast, batches[0][KeyModelPreset].NewValue)

	reopened, err := NewSettingsStore(s.Path(), nil)
	require.NoError(t, err)
	assert.Equal(t, PresetFast, reopened.Get(nil)[KeyModelPreset])
}

func TestSettingsStoreUnsubscribe(t *testing.T) {
	s := newTestSettingsStore(t)
	rec := &changeRecorder{}
	unsubscribe := s.OnChange(rec.listen)

	require.NoError(t, s.Write(Items{KeyEnabled: false}))
	unsubscribe()
	require.NoError(t, s.Write(Items{KeyEnabled: true}))

	assert.Len(t, rec.all(), 1)
}

func TestSettingsStoreReset(t *testing.T) {
	s := newTestSettingsStore(t)
	require.NoError(t, s.Write(Items{KeyEnabled: false, KeyTargetModelName: "Fast"}))

	rec := &changeRecorder{}
	s.OnChange(rec.listen)
	require.NoError(t, s.Reset())

	assert.Empty(t, s.Get(nil))
	batches := rec.all()
	require.Len(t, batches, 1)
	assert.Nil(t, batches[0][KeyEnabled].NewValue)
	assert.Equal(t, "Fast", batches[0][KeyTargetModelName].OldValue)
}

func TestSettingsStoreWatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "settings.json")
	watched, err := NewSettingsStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, watched.Write(Items{KeyEnabled: true}))

	other, err := NewSettingsStore(path, nil)
	require.NoError(t, err)

	rec := &changeRecorder{}
	watched.OnChange(rec.listen)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watched.Watch(ctx) }()

	// The watcher may not be registered yet; keep editing until it sees one.
	delay := 0
	require.Eventually(t, func() bool {
		delay++
		if err := other.Write(Items{KeyDelay: delay}); err != nil {
			return false
		}
		return len(rec.all()) > 0
	}, 5*time.Second, 50*time.Millisecond)

	got := rec.all()[0]
	assert.True(t, got.Has(KeyDelay))
	assert.False(t, got.Has(KeyEnabled))

	cancel()
	require.NoError(t, <-done)
}
