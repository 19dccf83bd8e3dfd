package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Witriol/clipdl/internal/downloader"
	"github.com/Witriol/clipdl/internal/library"
	"github.com/Witriol/clipdl/internal/ytdlp"
)

type outcome struct {
	status   string
	exitCode int
	errMsg   string
}

func failed(code int, format string, args ...any) outcome {
	return outcome{status: StatusError, exitCode: code, errMsg: fmt.Sprintf(format, args...)}
}

// run drives one job from spawn to removal from the registry.
func (s *Service) run(ctx context.Context, cancel context.CancelFunc, job *Job) {
	defer s.wg.Done()
	defer cancel()

	start := time.Now()
	out := s.supervise(ctx, job)
	switch out.status {
	case StatusFinished:
		slog.Info("job finished", "id", job.ID, "elapsed", time.Since(start).Round(time.Millisecond))
	case StatusCancelled:
		slog.Info("job cancelled", "id", job.ID)
	default:
		slog.Error("job failed", "id", job.ID, "exit_code", out.exitCode, "err", out.errMsg)
	}
	if out.status != StatusFinished {
		res := s.artifacts.Cleanup(s.ctx, job.ID, s.opts.CleanupDelay)
		if len(res.Failed) > 0 {
			s.event(job.ID, "warn", fmt.Sprintf("cleanup left %d file(s)", len(res.Failed)))
		}
		slog.Debug("job cleanup", "id", job.ID, "removed", len(res.Removed), "failed", len(res.Failed))
	}
	s.recordFinished(job.ID, out)

	if s.opts.GracePeriod > 0 {
		t := time.NewTimer(s.opts.GracePeriod)
		select {
		case <-t.C:
		case <-s.ctx.Done():
		}
		t.Stop()
	}
	s.registry.Remove(job.ID)
}

// supervise owns the process and moves the live record into exactly one
// terminal status. A panic is contained to the job.
func (s *Service) supervise(ctx context.Context, job *Job) (out outcome) {
	var proc downloader.Process
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panic", "id", job.ID, "panic", r)
			if proc != nil {
				_ = proc.Kill()
			}
			out = failed(-1, "internal error: %v", r)
			if !s.registry.Finish(job.ID, StatusError, nil) {
				out = s.terminalOutcome(job.ID, out)
			}
		}
	}()

	proc, err := s.spawner.Spawn(job.Invocation)
	if err != nil {
		var spawnErr *downloader.SpawnError
		if errors.As(err, &spawnErr) {
			slog.Error("yt-dlp not runnable", "id", job.ID, "path", spawnErr.Path, "err", spawnErr.Err)
		}
		return s.fail(job.ID, failed(-1, "%v", err))
	}
	defer proc.Close()
	s.event(job.ID, "info", "spawned "+job.Invocation.Path)

	for {
		if ctx.Err() != nil {
			return s.cancelled(job.ID, proc)
		}
		line, err := proc.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return s.cancelled(job.ID, proc)
			}
			_ = proc.Kill()
			return s.fail(job.ID, failed(-1, "read output: %v", err))
		}
		slog.Debug("yt-dlp", "id", job.ID, "line", line)
		p, ok := ytdlp.ParseProgress(line, job.Range.ExpectedSeconds)
		if !ok {
			continue
		}
		s.registry.Update(job.ID, func(st *JobStatus) {
			applyProgress(st, p)
		})
	}

	code, err := proc.Wait()
	if err != nil {
		return s.fail(job.ID, failed(code, "wait: %v", err))
	}
	if code != 0 {
		return s.fail(job.ID, failed(code, "yt-dlp exited with code %d", code))
	}
	if !s.registry.Seal(job.ID) {
		// cancelled between process exit and finalization
		return s.cancelled(job.ID, proc)
	}
	clip, err := s.artifacts.Finalize(newClip(job))
	if err != nil {
		return s.fail(job.ID, failed(code, "finalize: %v", err))
	}
	s.registry.Finish(job.ID, StatusFinished, func(st *JobStatus) {
		st.Percent = donePercent
		st.ETA = initialETA
	})
	slog.Debug("clip recorded", "id", job.ID, "filename", clip.Filename, "thumbnail", clip.Thumbnail)
	return outcome{status: StatusFinished, exitCode: code}
}

// fail records an error unless the job already reached a terminal status.
func (s *Service) fail(id string, out outcome) outcome {
	if s.registry.Finish(id, StatusError, nil) {
		return out
	}
	return s.terminalOutcome(id, out)
}

func (s *Service) cancelled(id string, proc downloader.Process) outcome {
	if err := proc.Kill(); err != nil {
		slog.Warn("kill failed", "id", id, "err", err)
	}
	// shutdown cancels the context without going through the registry
	s.registry.MarkCancelled(id)
	return outcome{status: StatusCancelled, exitCode: -1}
}

// terminalOutcome reports the status another path already set.
func (s *Service) terminalOutcome(id string, fallback outcome) outcome {
	st, ok := s.registry.Get(id)
	if ok && st.Status == StatusCancelled {
		return outcome{status: StatusCancelled, exitCode: -1}
	}
	return fallback
}

func applyProgress(st *JobStatus, p ytdlp.Progress) {
	st.Percent = p.Percent
	if p.PercentOnly {
		return
	}
	st.Size = p.Size
	st.Speed = p.Speed
	st.ETA = p.ETA
}

func newClip(job *Job) library.NewClip {
	return library.NewClip{
		ID:             job.ID,
		GroupID:        job.Spec.GroupID,
		ProfileID:      job.Spec.ProfileID,
		URL:            job.Spec.URL,
		Title:          job.Spec.Title,
		CustomTitle:    job.Spec.CustomTitle,
		Description:    job.Spec.Description,
		Range:          job.Range.Description(),
		Tags:           job.Spec.Tags,
		QualityProfile: string(job.Quality),
	}
}
