package character

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"cabm-chat/backend/pkg/logger"
)

// Service owns the set of character profiles and tracks which one is
// active. Profiles live as YAML files under a single directory and can
// be hot reloaded when the directory changes.
type Service struct {
	dir string
	log *logger.Logger

	mu       sync.RWMutex
	profiles map[string]*Profile
	current  string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewService loads every profile under dir. defaultID selects the
// initially active character; if empty the lexically first profile
// becomes active.
func NewService(dir, defaultID string, log *logger.Logger) (*Service, error) {
	s := &Service{
		dir:      dir,
		log:      log,
		profiles: make(map[string]*Profile),
		done:     make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.profiles) == 0 {
		return nil, fmt.Errorf("no character profiles found in %s", dir)
	}
	if defaultID != "" {
		if _, ok := s.profiles[defaultID]; !ok {
			return nil, fmt.Errorf("default character %q not found in %s", defaultID, dir)
		}
		s.current = defaultID
	} else {
		ids := make([]string, 0, len(s.profiles))
		for id := range s.profiles {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		s.current = ids[0]
	}
	return s, nil
}

// Watch starts reloading profiles whenever the characters directory
// changes. Call Close to stop.
func (s *Service) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if !isProfileFile(event.Name) {
					continue
				}
				if err := s.reload(); err != nil {
					s.log.Warn("profile reload failed", "error", err)
					continue
				}
				s.log.Info("character profiles reloaded", "trigger", filepath.Base(event.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("profile watcher error", "error", err)
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the directory watcher if one is running.
func (s *Service) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Service) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read characters dir: %w", err)
	}

	loaded := make(map[string]*Profile)
	for _, entry := range entries {
		if entry.IsDir() || !isProfileFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		profile, err := loadProfile(path)
		if err != nil {
			s.log.Warn("skipping invalid profile", "file", entry.Name(), "error", err)
			continue
		}
		loaded[profile.ID] = profile
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = loaded
	// The active character may have been removed; fall back to any
	// remaining profile so the pipeline keeps working.
	if _, ok := s.profiles[s.current]; !ok && len(s.profiles) > 0 {
		ids := make([]string, 0, len(s.profiles))
		for id := range s.profiles {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		s.current = ids[0]
	}
	return nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if profile.ID == "" {
		base := filepath.Base(path)
		profile.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if profile.Name == "" {
		return nil, fmt.Errorf("profile %q is missing a name", profile.ID)
	}
	return &profile, nil
}

func isProfileFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// CurrentID returns the id of the active character.
func (s *Service) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Current returns the active character's profile.
func (s *Service) Current() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[s.current]
}

// Get returns the profile with the given id.
func (s *Service) Get(id string) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok
}

// List returns all profiles sorted by id.
func (s *Service) List() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetCurrent switches the active character.
func (s *Service) SetCurrent(id string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("character %q not found", id)
	}
	s.current = id
	return p, nil
}

// ListImages returns the sprite image file names for a character,
// sorted in numeric-friendly order. The directory defaults to the
// profile id under the characters dir when image_dir is unset.
func (s *Service) ListImages(id string) ([]string, error) {
	p, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("character %q not found", id)
	}
	dir := p.ImageDir
	if dir == "" {
		dir = filepath.Join(s.dir, p.ID)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read image dir: %w", err)
	}
	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".png" || ext == ".jpg" || ext == ".jpeg" || ext == ".webp" {
			images = append(images, entry.Name())
		}
	}
	sort.Strings(images)
	return images, nil
}
