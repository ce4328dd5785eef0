package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/entrhq/modelpin/pkg/logging"
)

// Listener receives the keys that changed in one store update.
type Listener func(Changes)

// SettingsStore is a change-notified key/value view over the settings
// section of a FileStore. Every writer's updates reach every listener,
// including writes made through this store and, while Watch runs, writes
// made by other processes to the same file.
type SettingsStore struct {
	store *FileStore
	log   *logging.Logger

	mu        sync.Mutex
	current   Items
	listeners map[int]Listener
	nextID    int

	writes sync.WaitGroup
}

// NewSettingsStore opens the settings file at path (default location when
// empty).
func NewSettingsStore(path string, log *logging.Logger) (*SettingsStore, error) {
	fs, err := NewFileStore(path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewNop()
	}

	section, err := fs.GetSection(SectionIDSettings)
	if err != nil {
		return nil, err
	}

	return &SettingsStore{
		store:     fs,
		log:       log,
		current:   normalizeItems(section),
		listeners: make(map[int]Listener),
	}, nil
}

// Path returns the settings file path.
func (s *SettingsStore) Path() string {
	return s.store.Path()
}

// Get returns defaults overlaid with the stored items.
func (s *SettingsStore) Get(defaults Items) Items {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := defaults.Clone()
	for k, v := range s.current {
		out[k] = v
	}
	return out
}

// OnChange registers a listener and returns a function that removes it.
func (s *SettingsStore) OnChange(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Set writes patch in the background. Failures are logged; callers never
// wait on the write.
func (s *SettingsStore) Set(patch Items) {
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		if err := s.Write(patch); err != nil {
			s.log.Errorf("settings write failed: %v", err)
		}
	}()
}

// Write merges patch into the stored settings, persists them and notifies
// listeners of the keys whose values actually changed. A nil value deletes
// the key.
func (s *SettingsStore) Write(patch Items) error {
	s.mu.Lock()
	next := s.current.Clone()
	for k, v := range patch {
		if v == nil {
			delete(next, k)
			continue
		}
		next[k] = normalizeValue(v)
	}

	changes := diffItems(s.current, next)
	if len(changes) == 0 {
		s.mu.Unlock()
		return nil
	}

	if err := s.store.SetSection(SectionIDSettings, next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.store.Save(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.current = next
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	notify(listeners, changes)
	return nil
}

// Reset removes every stored setting.
func (s *SettingsStore) Reset() error {
	s.mu.Lock()
	patch := make(Items, len(s.current))
	for k := range s.current {
		patch[k] = nil
	}
	s.mu.Unlock()
	return s.Write(patch)
}

// Flush waits for background writes started by Set.
func (s *SettingsStore) Flush() {
	s.writes.Wait()
}

// Watch follows the settings file for changes made by other processes
// until ctx is done.
func (s *SettingsStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create settings watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic saves replace the file, which drops
	// a watch placed on the file itself.
	dir := filepath.Dir(s.store.Path())
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.log.Debugf("watching settings directory %s", dir)

	target := filepath.Clean(s.store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				s.log.Warnf("settings reload failed: %v", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warnf("settings watcher error: %v", err)
		}
	}
}

// reload re-reads the file and notifies listeners of external edits.
func (s *SettingsStore) reload() error {
	if err := s.store.Load(); err != nil {
		return err
	}
	section, err := s.store.GetSection(SectionIDSettings)
	if err != nil {
		return err
	}

	s.mu.Lock()
	next := normalizeItems(section)
	changes := diffItems(s.current, next)
	if len(changes) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.current = next
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.log.Debugf("settings changed on disk: %d key(s)", len(changes))
	notify(listeners, changes)
	return nil
}

func (s *SettingsStore) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func notify(listeners []Listener, changes Changes) {
	for _, l := range listeners {
		l(changes)
	}
}

func diffItems(prev, next Items) Changes {
	changes := make(Changes)
	for k, nv := range next {
		ov, ok := prev[k]
		if !ok || !reflect.DeepEqual(ov, nv) {
			changes[k] = Change{OldValue: prev[k], NewValue: nv}
		}
	}
	for k, ov := range prev {
		if _, ok := next[k]; !ok {
			changes[k] = Change{OldValue: ov}
		}
	}
	return changes
}

func normalizeItems(items map[string]any) Items {
	out := make(Items, len(items))
	for k, v := range items {
		out[k] = normalizeValue(v)
	}
	return out
}

// normalizeValue maps Go numbers onto float64 so values compare equal
// before and after a JSON round trip.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
