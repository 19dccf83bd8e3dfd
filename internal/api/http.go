package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"github.com/Witriol/clipdl/internal/library"
	"github.com/Witriol/clipdl/internal/probe"
	"github.com/Witriol/clipdl/internal/queue"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequest  = errors.New("bad_request")
	errJobNotFound = errors.New("job_not_found")
)

type Jobs interface {
	Submit(ctx context.Context, spec queue.JobSpec) (string, error)
	Cancel(id string) bool
	Active() []queue.JobStatus
	Status(id string) (queue.JobStatus, bool)
	ListHistory(ctx context.Context, status string, limit int) ([]queue.HistoryView, error)
	GetHistory(ctx context.Context, id string) (*queue.HistoryView, error)
	ListEvents(ctx context.Context, id string, limit int) ([]string, error)
	ClearHistory(ctx context.Context) error
}

type Library interface {
	List() ([]library.Clip, error)
	Get(id string) (*library.Clip, error)
	Update(id string, p library.Patch) (*library.Clip, error)
	Delete(id string) error
	MediaPath(c library.Clip) string
}

type Prober interface {
	Analyze(ctx context.Context, url string) (json.RawMessage, error)
	CheckSource(ctx context.Context, url string) (bool, error)
	Forget(url string)
	Dependencies(ffmpegLocation string) []probe.Tool
}

type Server struct {
	Jobs     Jobs
	Library  Library
	Prober   Prober
	Settings *Settings
	Groups   *Groups

	LibraryDir     string
	StaticDir      string
	FFmpegLocation string
	Version        string
	Now            func() time.Time
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/", s.handleJobStatus)
	mux.HandleFunc("/api/download", s.handleDownload)
	mux.HandleFunc("/api/cancel", s.handleCancel)
	mux.HandleFunc("/api/library", s.handleLibrary)
	mux.HandleFunc("/api/update", s.handleUpdate)
	mux.HandleFunc("/api/delete", s.handleDelete)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/groups", s.handleGroups)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/check_source", s.handleCheckSource)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/jobs/clear", s.handleJobsClear)
	mux.HandleFunc("/api/jobs/", s.handleJob)
	mux.HandleFunc("/api/export/", s.handleExport)
	if s.LibraryDir != "" {
		mux.Handle("/library/", http.StripPrefix("/library/", http.FileServer(http.Dir(s.LibraryDir))))
	}
	if s.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.StaticDir)))
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Jobs.Active())
}

// handleJobStatus returns the live record of one job while it is still
// tracked.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/status/"), "/")
	st, ok := s.Jobs.Status(id)
	if !ok {
		writeErr(w, http.StatusNotFound, errJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var spec queue.JobSpec
	if !decodeBody(w, r, &spec) {
		return
	}
	if spec.ProfileID == "" && s.Settings != nil {
		spec.ProfileID = s.Settings.CurrentProfile()
	}
	id, err := s.Jobs.Submit(r.Context(), spec)
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	slog.Info("api", "action", "download", "id", id, "url", spec.URL)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "id": id})
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req idRequest
	if !decodeBody(w, r, &req) {
		return
	}
	applied := s.Jobs.Cancel(req.ID)
	slog.Info("api", "action", "cancel", "id", req.ID, "applied", applied)
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "applied": applied})
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	clips, err := s.Library.List()
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	if profile := r.URL.Query().Get("profile"); profile != "" {
		filtered := clips[:0]
		for _, c := range clips {
			if c.ProfileID == profile {
				filtered = append(filtered, c)
			}
		}
		clips = filtered
	}
	writeJSON(w, http.StatusOK, clips)
}

type updateRequest struct {
	ID string `json:"id"`
	library.Patch
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	clip, err := s.Library.Update(req.ID, req.Patch)
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	slog.Info("api", "action", "update", "id", req.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "clip": clip})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req idRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Library.Delete(req.ID); err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	slog.Info("api", "action", "delete", "id", req.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Settings.Get())
	case http.MethodPost:
		var data SettingsData
		if !decodeBody(w, r, &data) {
			return
		}
		if err := s.Settings.Replace(data); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		slog.Info("api", "action", "settings", "tags", len(data.Tags), "profiles", len(data.Profiles))
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Groups.Get())
	case http.MethodPost:
		var data map[string]json.RawMessage
		if !decodeBody(w, r, &data) {
			return
		}
		if err := s.Groups.Replace(data); err != nil {
			writeErr(w, statusForErr(err), err)
			return
		}
		slog.Info("api", "action", "groups", "count", len(data))
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type sourceRequest struct {
	URL     string `json:"url"`
	ID      string `json:"id,omitempty"`
	Refresh bool   `json:"refresh,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req sourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	raw, err := s.Prober.Analyze(r.Context(), req.URL)
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// handleCheckSource answers {"available": bool}. With an id it also
// records the answer on that clip; refresh skips the cached answer.
func (s *Server) handleCheckSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req sourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Refresh {
		s.Prober.Forget(req.URL)
	}
	available, err := s.Prober.CheckSource(r.Context(), req.URL)
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	if req.ID != "" {
		status := "unavailable"
		if available {
			status = "available"
		}
		checked := s.now().UTC().Format(time.RFC3339)
		if _, err := s.Library.Update(req.ID, library.Patch{SourceStatus: &status, LastChecked: &checked}); err != nil {
			slog.Warn("api: record source status", "id", req.ID, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var tools []probe.Tool
	if s.Prober != nil {
		tools = s.Prober.Dependencies(s.FFmpegLocation)
	}
	status := "ok"
	for _, t := range tools {
		if !t.Found {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.Version,
		"active":  len(s.Jobs.Active()),
		"tools":   tools,
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	jobs, err := s.Jobs.ListHistory(r.Context(), r.URL.Query().Get("status"), queryLimit(r))
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.Jobs.ClearHistory(r.Context()); err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	slog.Info("api", "action", "clear_history")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/"), "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(parts) == 1 {
		job, err := s.Jobs.GetHistory(r.Context(), id)
		if err != nil {
			writeErr(w, statusForErr(err), err)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}
	if len(parts) != 2 || parts[1] != "events" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	events, err := s.Jobs.ListEvents(r.Context(), id, queryLimit(r))
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	if events == nil {
		events = []string{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleExport serves a clip's media file under a readable name.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/export/"), "/")
	clip, err := s.Library.Get(id)
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}
	path := s.Library.MediaPath(*clip)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeErr(w, http.StatusNotFound, library.ErrNotFound)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(*clip)))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func exportName(c library.Clip) string {
	name := slug.Make(c.DisplayTitle())
	if name == "" {
		name = c.ID
	}
	return name + filepath.Ext(c.Filename)
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

func statusForErr(err error) int {
	switch {
	case errors.Is(err, library.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, library.ErrResourceBusy):
		return http.StatusLocked
	case errors.Is(err, queue.ErrMissingURL), errors.Is(err, probe.ErrMissingURL),
		errors.Is(err, probe.ErrAnalyze), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrShuttingDown), errors.Is(err, queue.ErrHistoryDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
