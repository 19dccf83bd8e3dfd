package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("clip_not_found")
	ErrResourceBusy = errors.New("resource_busy")
)

const (
	MetadataExt     = ".json"
	ThumbnailExt    = ".jpg"
	PrimaryMediaExt = ".mp4"

	SourceUnchecked = "unchecked"
	DefaultProfile  = "default"

	defaultDeleteAttempts = 20
	defaultDeleteInterval = 500 * time.Millisecond
)

// sidecarExts are never taken for the media file during discovery.
var sidecarExts = map[string]bool{
	MetadataExt:  true,
	ThumbnailExt: true,
	".jpeg":      true,
	".png":       true,
	".webp":      true,
	".part":      true,
	".ytdl":      true,
	".temp":      true,
}

// Clip is the sidecar metadata record. Its presence marks a finished job.
type Clip struct {
	ID             string `json:"id"`
	GroupID        string `json:"group_id"`
	ProfileID      string `json:"profile_id"`
	OriginalURL    string `json:"original_url"`
	Title          string `json:"title"`
	CustomTitle    string `json:"custom_title"`
	Description    string `json:"description"`
	Filename       string `json:"filename"`
	Range          string `json:"range"`
	Tags           string `json:"tags"`
	QualityProfile string `json:"quality_profile"`
	SourceStatus   string `json:"source_status"`
	LastChecked    string `json:"last_checked"`
	CreatedAt      string `json:"created_at"`
	Thumbnail      string `json:"thumbnail,omitempty"`

	// listing only
	FileSize      int64  `json:"file_size,omitempty"`
	FileSizeHuman string `json:"file_size_human,omitempty"`
}

// DisplayTitle prefers the user supplied title.
func (c Clip) DisplayTitle() string {
	if strings.TrimSpace(c.CustomTitle) != "" {
		return c.CustomTitle
	}
	return c.Title
}

// NewClip carries what a finished job knows about itself.
type NewClip struct {
	ID             string
	GroupID        string
	ProfileID      string
	URL            string
	Title          string
	CustomTitle    string
	Description    string
	Range          string
	Tags           string
	QualityProfile string
}

// Patch lists the user editable metadata fields; nil fields are left alone.
type Patch struct {
	Tags         *string `json:"tags,omitempty"`
	CustomTitle  *string `json:"custom_title,omitempty"`
	Description  *string `json:"description,omitempty"`
	GroupID      *string `json:"group_id,omitempty"`
	SourceStatus *string `json:"source_status,omitempty"`
	LastChecked  *string `json:"last_checked,omitempty"`
	ProfileID    *string `json:"profile_id,omitempty"`
}

// CleanupResult reports what a cleanup pass did.
type CleanupResult struct {
	Removed []string
	Failed  map[string]error
}

// Library owns the download directory: media files, thumbnails and
// metadata records, all named by job id.
type Library struct {
	Dir            string
	DeleteAttempts int
	DeleteInterval time.Duration
	Now            func() time.Time

	mu     sync.Mutex
	remove func(string) error
}

func New(dir string) *Library {
	return &Library{
		Dir:            dir,
		DeleteAttempts: defaultDeleteAttempts,
		DeleteInterval: defaultDeleteInterval,
		Now:            time.Now,
		remove:         os.Remove,
	}
}

// Ensure creates the library directory.
func (l *Library) Ensure() error {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("create library dir %s: %w", l.Dir, err)
	}
	return nil
}

func (l *Library) path(name string) string {
	return filepath.Join(l.Dir, name)
}

// MediaPath returns the absolute path of a clip's media file.
func (l *Library) MediaPath(c Clip) string {
	name := sanitizeFilename(c.Filename)
	if name == "" {
		return ""
	}
	return l.path(name)
}

// Finalize records a successful job: it resolves the produced media file,
// detects the thumbnail and writes the metadata record.
func (l *Library) Finalize(nc NewClip) (*Clip, error) {
	id, err := cleanID(nc.ID)
	if err != nil {
		return nil, err
	}
	profile := nc.ProfileID
	if profile == "" {
		profile = DefaultProfile
	}
	clip := Clip{
		ID:             id,
		GroupID:        nc.GroupID,
		ProfileID:      profile,
		OriginalURL:    nc.URL,
		Title:          nc.Title,
		CustomTitle:    nc.CustomTitle,
		Description:    nc.Description,
		Filename:       l.discoverMedia(id),
		Range:          nc.Range,
		Tags:           nc.Tags,
		QualityProfile: nc.QualityProfile,
		SourceStatus:   SourceUnchecked,
		CreatedAt:      l.now().Format(time.RFC3339),
	}
	if fileExists(l.path(id + ThumbnailExt)) {
		clip.Thumbnail = id + ThumbnailExt
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := WriteJSON(l.path(id+MetadataExt), clip); err != nil {
		return nil, err
	}
	return &clip, nil
}

// discoverMedia looks for <id>.mp4 first and otherwise takes the first
// <id>.<ext> that is not a sidecar. It assumes yt-dlp leaves at most one
// primary media file per job.
func (l *Library) discoverMedia(id string) string {
	primary := id + PrimaryMediaExt
	if fileExists(l.path(primary)) {
		return primary
	}
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return primary
	}
	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, id+".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if sidecarExts[ext] || name != id+filepath.Ext(name) {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return primary
	}
	sort.Strings(candidates)
	return candidates[0]
}

// Cleanup removes every file whose name starts with id after waiting
// delay, giving a killed process time to release its handles. Failures are
// logged and reported, never returned as an error.
func (l *Library) Cleanup(ctx context.Context, id string, delay time.Duration) CleanupResult {
	res := CleanupResult{Failed: map[string]error{}}
	id, err := cleanID(id)
	if err != nil {
		return res
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		slog.Warn("cleanup: read library dir", "id", id, "err", err)
		return res
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), id) {
			continue
		}
		p := l.path(e.Name())
		if err := l.removeWithRetry(p); err != nil {
			res.Failed[p] = err
			slog.Warn("cleanup: remove failed", "id", id, "path", p, "err", err)
			continue
		}
		res.Removed = append(res.Removed, p)
	}
	return res
}

func (l *Library) removeWithRetry(path string) error {
	attempts := l.DeleteAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := l.rm(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(l.DeleteInterval)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrResourceBusy, filepath.Base(path), lastErr)
}

// Get loads one metadata record.
func (l *Library) Get(id string) (*Clip, error) {
	id, err := cleanID(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var c Clip
	if err := ReadJSON(l.path(id+MetadataExt), &c); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// List returns every completed clip whose media file still exists,
// newest first.
func (l *Library) List() ([]Clip, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Clip{}, nil
		}
		return nil, err
	}
	out := []Clip{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != MetadataExt || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		var c Clip
		if err := ReadJSON(l.path(e.Name()), &c); err != nil {
			slog.Warn("library: skip unreadable record", "file", e.Name(), "err", err)
			continue
		}
		media := l.MediaPath(c)
		if media == "" {
			continue
		}
		info, err := os.Stat(media)
		if err != nil {
			continue
		}
		c.FileSize = info.Size()
		c.FileSizeHuman = humanize.IBytes(uint64(info.Size()))
		if c.SourceStatus == "" {
			c.SourceStatus = SourceUnchecked
		}
		if c.ProfileID == "" {
			c.ProfileID = DefaultProfile
		}
		if c.ID != "" && fileExists(l.path(c.ID+ThumbnailExt)) {
			c.Thumbnail = c.ID + ThumbnailExt
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// Update applies p to a finished clip's metadata record.
func (l *Library) Update(id string, p Patch) (*Clip, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&c.Tags, p.Tags)
	apply(&c.CustomTitle, p.CustomTitle)
	apply(&c.Description, p.Description)
	apply(&c.GroupID, p.GroupID)
	apply(&c.SourceStatus, p.SourceStatus)
	apply(&c.LastChecked, p.LastChecked)
	apply(&c.ProfileID, p.ProfileID)
	if err := WriteJSON(l.path(c.ID+MetadataExt), c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a finished clip. A media file that stays locked through
// the retry budget yields ErrResourceBusy and leaves the record in place.
// The library lock is not held while retrying, so other jobs can still
// finalize.
func (l *Library) Delete(id string) error {
	l.mu.Lock()
	c, err := l.Get(id)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	if media := l.MediaPath(*c); media != "" {
		if err := l.removeWithRetry(media); err != nil {
			slog.Error("delete: media file locked", "id", c.ID, "path", media, "err", err)
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.rm(l.path(c.ID + ThumbnailExt)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("delete: thumbnail", "id", c.ID, "err", err)
	}
	if err := l.rm(l.path(c.ID + MetadataExt)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove metadata for %s: %w", c.ID, err)
	}
	return nil
}

// Sync walks every record at startup, collecting the tags in use and
// assigning records without a profile to defaultProfile.
func (l *Library) Sync(defaultProfile string) ([]string, error) {
	if defaultProfile == "" {
		defaultProfile = DefaultProfile
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	seen := map[string]bool{}
	var tags []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != MetadataExt || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := l.path(e.Name())
		var c Clip
		if err := ReadJSON(path, &c); err != nil {
			continue
		}
		for _, tag := range SplitTags(c.Tags) {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
		if c.ProfileID == "" {
			c.ProfileID = defaultProfile
			if err := WriteJSON(path, c); err != nil {
				slog.Warn("sync: backfill profile", "file", e.Name(), "err", err)
			}
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// SplitTags parses the comma separated tag list stored in records.
func SplitTags(raw string) []string {
	var out []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func (l *Library) rm(path string) error {
	if l.remove != nil {
		return l.remove(path)
	}
	return os.Remove(path)
}

func (l *Library) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Orphans returns job ids that left files in the library without a
// metadata record, typically after a crash. Only uuid named files older
// than minAge are considered and ids for which live reports true are
// skipped.
func (l *Library) Orphans(live func(id string) bool, minAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	cutoff := l.now().Add(-minAge)
	newest := map[string]time.Time{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		id, _, _ := strings.Cut(name, ".")
		if len(id) != 36 {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if t, ok := newest[id]; !ok || info.ModTime().After(t) {
			newest[id] = info.ModTime()
		}
	}
	var out []string
	for id, mod := range newest {
		if mod.After(cutoff) || fileExists(l.path(id+MetadataExt)) {
			continue
		}
		if live != nil && live(id) {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
