package api

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewSettingsFillsMissingKeys(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"tags":["x"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewSettings(dir)
	if err != nil {
		t.Fatalf("new settings: %v", err)
	}
	got := s.Get()
	if len(got.Tags) != 1 || got.Tags[0] != "x" {
		t.Fatalf("tags: %v", got.Tags)
	}
	if len(got.Profiles) != 1 || got.Profiles[0].ID != "default" || got.CurrentProfile != "default" {
		t.Fatalf("profiles: %+v", got)
	}
}

func TestNewSettingsRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSettings(dir); err == nil {
		t.Fatalf("expected error for corrupt settings")
	}
}

func TestSettingsMergeTagsPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSettings(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MergeTags([]string{"speedrun", " gameplay ", ""}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	var stored SettingsData
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(stored.Tags, ","); got != "gameplay,highlight,speedrun,tutorial" {
		t.Fatalf("tags: %s", got)
	}
}

func TestSettingsReplaceRejectsDuplicateProfiles(t *testing.T) {
	s, err := NewSettings(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	err = s.Replace(SettingsData{
		Profiles:       []Profile{{ID: "a"}, {ID: "a"}},
		CurrentProfile: "a",
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if s.CurrentProfile() != "default" {
		t.Fatalf("rejected settings applied")
	}
}

func TestSettingsGetReturnsCopy(t *testing.T) {
	s, err := NewSettings(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got := s.Get()
	got.Tags[0] = "mutated"
	if s.Get().Tags[0] == "mutated" {
		t.Fatalf("Get aliases internal state")
	}
}
