package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Witriol/clipdl/internal/downloader"
	"github.com/Witriol/clipdl/internal/library"
	"github.com/Witriol/clipdl/internal/ytdlp"
)

var (
	ErrMissingURL      = errors.New("missing_url")
	ErrShuttingDown    = errors.New("shutting_down")
	ErrHistoryDisabled = errors.New("history_disabled")
)

const (
	defaultTitle        = "Unknown"
	defaultGracePeriod  = 5 * time.Second
	defaultCleanupDelay = time.Second
	historyTimeout      = 5 * time.Second
)

// JobSpec is what a caller submits.
type JobSpec struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Quality     string `json:"quality"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	GroupID     string `json:"group_id"`
	ProfileID   string `json:"profile_id"`
	Tags        string `json:"tags"`
	Description string `json:"description"`
	CustomTitle string `json:"custom_title"`
}

// Job is one submitted download. Everything in it is fixed at submission.
type Job struct {
	ID         string
	Spec       JobSpec
	Quality    ytdlp.Quality
	Range      ytdlp.TimeRange
	Invocation downloader.Invocation
	CreatedAt  time.Time
}

// Artifacts turns the files a job left in the library into either a
// finished clip or nothing.
type Artifacts interface {
	Finalize(nc library.NewClip) (*library.Clip, error)
	Cleanup(ctx context.Context, id string, delay time.Duration) library.CleanupResult
}

type Options struct {
	Binary         string
	LibraryDir     string
	FFmpegLocation string
	GracePeriod    time.Duration
	CleanupDelay   time.Duration
}

// Service runs one supervised yt-dlp process per submitted job.
type Service struct {
	registry  *Registry
	spawner   downloader.Spawner
	artifacts Artifacts
	store     *Store
	opts      Options

	newID func() (string, error)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	stop   context.CancelFunc
}

// NewService wires the job core. store may be nil to run without history.
func NewService(reg *Registry, sp downloader.Spawner, art Artifacts, store *Store, opts Options) *Service {
	if reg == nil {
		reg = NewRegistry()
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	if opts.CleanupDelay < 0 {
		opts.CleanupDelay = 0
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		registry:  reg,
		spawner:   sp,
		artifacts: art,
		store:     store,
		opts:      opts,
		newID:     newJobID,
		ctx:       ctx,
		stop:      stop,
	}
}

// DefaultOptions carries the timings the daemon uses unless configured.
func DefaultOptions(libraryDir string) Options {
	return Options{
		Binary:       ytdlp.DefaultBinary,
		LibraryDir:   libraryDir,
		GracePeriod:  defaultGracePeriod,
		CleanupDelay: defaultCleanupDelay,
	}
}

func newJobID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Submit registers a job and starts it in the background. It returns once
// the live record is visible to status readers.
func (s *Service) Submit(ctx context.Context, spec JobSpec) (string, error) {
	spec.URL = strings.TrimSpace(spec.URL)
	if spec.URL == "" {
		return "", ErrMissingURL
	}
	if strings.TrimSpace(spec.Title) == "" {
		spec.Title = defaultTitle
	}
	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("allocate job id: %w", err)
	}
	job := &Job{
		ID:        id,
		Spec:      spec,
		Quality:   ytdlp.NormalizeQuality(spec.Quality),
		Range:     ytdlp.NewTimeRange(spec.StartTime, spec.EndTime),
		CreatedAt: time.Now().UTC(),
	}
	job.Invocation, err = ytdlp.BuildInvocation(ytdlp.DownloadOptions{
		Binary:         s.opts.Binary,
		OutputDir:      s.opts.LibraryDir,
		ID:             id,
		URL:            spec.URL,
		Quality:        job.Quality,
		Range:          job.Range,
		FFmpegLocation: s.opts.FFmpegLocation,
	})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	jobCtx, cancel := context.WithCancel(s.ctx)
	if err := s.registry.Register(id, newJobStatus(id, spec.Title), cancel); err != nil {
		s.mu.Unlock()
		cancel()
		return "", err
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.recordSubmitted(ctx, job)
	slog.Info("job submitted", "id", id, "url", spec.URL, "quality", job.Quality, "range", job.Range.Description())
	go s.run(jobCtx, cancel, job)
	return id, nil
}

// Cancel requests cancellation of a running job. It reports whether the
// request took effect; unknown, finished and finalizing jobs are ignored.
func (s *Service) Cancel(id string) bool {
	if !s.registry.MarkCancelled(id) {
		return false
	}
	slog.Info("job cancel requested", "id", id)
	s.event(id, "info", "cancel requested")
	return true
}

// Active returns a snapshot of every live job, including terminal jobs
// still inside their grace period.
func (s *Service) Active() []JobStatus {
	return s.registry.SnapshotAll()
}

// Status returns one live record.
func (s *Service) Status(id string) (JobStatus, bool) {
	return s.registry.Get(id)
}

// Shutdown stops accepting jobs, cancels the running ones and waits for
// their goroutines to finish cleanup or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.registry.cancelAll()
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListHistory returns persisted job rows, newest first.
func (s *Service) ListHistory(ctx context.Context, status string, limit int) ([]HistoryView, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	rows, err := s.store.ListJobs(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryView, 0, len(rows))
	for _, r := range rows {
		out = append(out, toHistoryView(r))
	}
	return out, nil
}

// GetHistory returns one persisted job row.
func (s *Service) GetHistory(ctx context.Context, id string) (*HistoryView, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	row, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	v := toHistoryView(*row)
	return &v, nil
}

func (s *Service) ListEvents(ctx context.Context, id string, limit int) ([]string, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	return s.store.ListEvents(ctx, id, limit)
}

func (s *Service) ClearHistory(ctx context.Context) error {
	if s.store == nil {
		return ErrHistoryDisabled
	}
	return s.store.ClearFinished(ctx)
}

func (s *Service) recordSubmitted(ctx context.Context, job *Job) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	entry := HistoryEntry{
		ID:      job.ID,
		URL:     job.Spec.URL,
		Title:   job.Spec.Title,
		Quality: string(job.Quality),
		Range:   job.Range.Description(),
	}
	if job.Spec.GroupID != "" {
		entry.GroupID = sql.NullString{String: job.Spec.GroupID, Valid: true}
	}
	if job.Spec.ProfileID != "" {
		entry.ProfileID = sql.NullString{String: job.Spec.ProfileID, Valid: true}
	}
	if err := s.store.CreateJob(ctx, entry); err != nil {
		slog.Warn("history: create job", "id", job.ID, "err", err)
		return
	}
	if err := s.store.AddEvent(ctx, job.ID, "info", "submitted url="+job.Spec.URL+" quality="+string(job.Quality)+" range="+job.Range.Description()); err != nil {
		slog.Warn("history: add event", "id", job.ID, "err", err)
	}
}

func (s *Service) event(id, level, msg string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.store.AddEvent(ctx, id, level, msg); err != nil {
		slog.Warn("history: add event", "id", id, "err", err)
	}
}

func (s *Service) recordFinished(id string, out outcome) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.store.MarkFinished(ctx, id, out.status, out.exitCode, out.errMsg); err != nil {
		slog.Warn("history: mark finished", "id", id, "err", err)
	}
	level := "info"
	msg := out.status
	if out.status == StatusError {
		level = "error"
		msg += ": " + out.errMsg
	}
	if err := s.store.AddEvent(ctx, id, level, msg); err != nil {
		slog.Warn("history: add event", "id", id, "err", err)
	}
}
