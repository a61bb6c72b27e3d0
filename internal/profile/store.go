// Copyright (c) MamIRC Authors. All rights reserved. Use of this source
// code is governed by the MIT license that can be found in the LICENSE file.

package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Store owns the profile list on disk, rewriting it atomically on
// set-profiles and watching it for external edits (SPEC_FULL.md's
// hot-reload generalization of spec.md §4.4).
type Store struct {
	path string
	log  *logrus.Entry

	mu       sync.RWMutex
	profiles []Profile

	watcher *fsnotify.Watcher
	onChange func([]Profile)
}

// OpenStore loads path (creating an empty store if it doesn't exist yet)
// and starts watching it for external changes.
func OpenStore(path string, log *logrus.Entry) (*Store, error) {
	s := &Store{path: path, log: log}

	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s.profiles = nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("profile: fsnotify: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("profile: watch dir: %w", err)
	}
	s.watcher = w

	go s.watchLoop()

	return s, nil
}

// OnChange registers a callback invoked (with the new profile list)
// whenever the store's contents change, whether via Set or an external
// edit picked up by the watcher. Only one callback is supported; the
// Processor orchestrator is the only consumer.
func (s *Store) OnChange(fn func([]Profile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.load(); err != nil {
				s.log.WithError(err).Warn("profile: failed to reload after external edit")
				continue
			}
			s.notify()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("profile: watcher error")
		}
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	fn := s.onChange
	snapshot := append([]Profile(nil), s.profiles...)
	s.mu.RUnlock()
	if fn != nil {
		fn(snapshot)
	}
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("profile: parse %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	return nil
}

// All returns the current profile list.
func (s *Store) All() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Profile(nil), s.profiles...)
}

// Set atomically rewrites the store with a new profile list (spec.md §6's
// "re-written atomically on set-profiles") and notifies listeners.
func (s *Store) Set(profiles []Profile) error {
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("profile: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("profile: rename: %w", err)
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()

	s.notify()
	return nil
}

// Close stops the filesystem watcher.
func (s *Store) Close() error {
	return s.watcher.Close()
}
