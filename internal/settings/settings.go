// Package settings persists the launcher's flat key-value user settings
// document (spec.md C1/§6 <configDir>/settings.json), atomically, and
// notifies registered listeners synchronously when a key changes —
// whether the change came from this process or was detected on disk via
// an fsnotify watch (the teacher repo has no settings precedent; this is
// the ambient-stack pattern applied to spec's described contract).
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Listener is invoked synchronously from Set on every Set of key, even
// when the value is unchanged, and from the file watcher when an
// external edit changes key's value.
type Listener func(key string, value any)

// Store is a flat JSON key-value document with atomic persistence.
type Store struct {
	path string
	log  *zap.Logger

	mu        sync.Mutex
	data      map[string]any
	listeners map[string][]Listener

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open loads path if present (unknown keys round-trip unchanged) or starts
// with an empty document.
func Open(path string, log *zap.Logger) (*Store, error) {
	s := &Store{
		path:      path,
		log:       log,
		data:      map[string]any{},
		listeners: map[string][]Listener{},
	}

	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

// Get returns the raw value for key and whether it was present.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key, persists atomically, and fires listeners.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	s.data[key] = value
	snapshot := make(map[string]any, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	ls := append([]Listener(nil), s.listeners[key]...)
	s.mu.Unlock()

	if err := writeAtomic(s.path, snapshot); err != nil {
		return err
	}

	for _, l := range ls {
		l(key, value)
	}
	return nil
}

// OnChange registers a listener invoked whenever key is set.
func (s *Store) OnChange(key string, l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[key] = append(s.listeners[key], l)
}

// WatchExternalEdits starts an fsnotify watch on the settings file so
// hand-edits (not made through Set) still trigger listeners. Call Close
// to stop it.
func (s *Store) WatchExternalEdits() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}

	s.watcher = w
	s.done = make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reloadAndNotify()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if s.log != nil {
					s.log.Warn("settings watch error", zap.Error(err))
				}
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

func (s *Store) reloadAndNotify() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var fresh map[string]any
	if err := json.Unmarshal(raw, &fresh); err != nil {
		return
	}

	s.mu.Lock()
	changed := map[string]any{}
	for k, v := range fresh {
		if old, ok := s.data[k]; !ok || !jsonEqual(old, v) {
			changed[k] = v
		}
	}
	s.data = fresh
	toFire := map[string][]Listener{}
	for k := range changed {
		toFire[k] = append([]Listener(nil), s.listeners[k]...)
	}
	s.mu.Unlock()

	for k, v := range changed {
		for _, l := range toFire[k] {
			l(k, v)
		}
	}
}

// Close stops the external-edit watcher, if running.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

func jsonEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// writeAtomic writes doc to a temp file in the same directory as path and
// renames it into place, so concurrent readers never observe a torn write.
func writeAtomic(path string, doc map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
