package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Witriol/clipdl/internal/library"
)

// Profile is one named library view.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SettingsData is the persisted settings document.
type SettingsData struct {
	Tags           []string  `json:"tags"`
	Profiles       []Profile `json:"profiles"`
	CurrentProfile string    `json:"current_profile"`
}

func defaultSettings() SettingsData {
	return SettingsData{
		Tags:           []string{"gameplay", "tutorial", "highlight"},
		Profiles:       []Profile{{ID: library.DefaultProfile, Name: "Main Library"}},
		CurrentProfile: library.DefaultProfile,
	}
}

// Settings represents runtime application settings
type Settings struct {
	mu     sync.RWMutex
	saveMu sync.Mutex
	data   SettingsData
	path   string
}

// NewSettings loads stateDir/settings.json, falling back to defaults.
func NewSettings(stateDir string) (*Settings, error) {
	s := &Settings{
		data: defaultSettings(),
		path: filepath.Join(stateDir, "settings.json"),
	}
	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

func (s *Settings) load() error {
	var data SettingsData
	if err := library.ReadJSON(s.path, &data); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = withDefaults(data)
	return nil
}

func withDefaults(d SettingsData) SettingsData {
	def := defaultSettings()
	if d.Tags == nil {
		d.Tags = def.Tags
	}
	if len(d.Profiles) == 0 {
		d.Profiles = def.Profiles
	}
	if d.CurrentProfile == "" {
		d.CurrentProfile = d.Profiles[0].ID
	}
	return d
}

// Save writes settings to the JSON file
func (s *Settings) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.RLock()
	data := s.data
	s.mu.RUnlock()
	if err := library.WriteJSON(s.path, data); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Get returns a copy of the current settings
func (s *Settings) Get() SettingsData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.data
	out.Tags = append([]string(nil), s.data.Tags...)
	out.Profiles = append([]Profile(nil), s.data.Profiles...)
	return out
}

// Replace validates and stores a full settings document, then saves it.
func (s *Settings) Replace(d SettingsData) error {
	d = withDefaults(d)
	seen := map[string]bool{}
	for _, p := range d.Profiles {
		if strings.TrimSpace(p.ID) == "" {
			return errors.New("profile id must not be empty")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate profile id %q", p.ID)
		}
		seen[p.ID] = true
	}
	if !seen[d.CurrentProfile] {
		return fmt.Errorf("current_profile %q is not a known profile", d.CurrentProfile)
	}
	d.Tags = cleanTags(d.Tags)
	s.mu.Lock()
	s.data = d
	s.mu.Unlock()
	return s.Save()
}

// CurrentProfile returns the profile new clips land in.
func (s *Settings) CurrentProfile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.CurrentProfile
}

// MergeTags adds tags found in the library to the known tag list and saves.
func (s *Settings) MergeTags(tags []string) error {
	s.mu.Lock()
	s.data.Tags = cleanTags(append(s.data.Tags, tags...))
	s.mu.Unlock()
	return s.Save()
}

func cleanTags(tags []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
