// Package probe runs short, non-downloading yt-dlp queries against a
// source and checks the external tools the daemon depends on.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Witriol/clipdl/internal/ytdlp"
)

var (
	ErrMissingURL = errors.New("missing_url")
	ErrAnalyze    = errors.New("analyze_failed")
)

const (
	defaultTimeout   = 2 * time.Minute
	defaultCacheTTL  = 10 * time.Minute
	defaultCacheSize = 256
	stderrTail       = 512
)

type commandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := commandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

type Options struct {
	Binary    string
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
}

// Prober answers analyse and availability queries. Availability answers
// are cached per URL.
type Prober struct {
	binary   string
	timeout  time.Duration
	runner   commandRunner
	lookPath func(string) (string, error)
	checks   *expirable.LRU[string, bool]
}

func New(opts Options) *Prober {
	if strings.TrimSpace(opts.Binary) == "" {
		opts.Binary = ytdlp.DefaultBinary
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	return &Prober{
		binary:   opts.Binary,
		timeout:  opts.Timeout,
		runner:   execRunner{},
		lookPath: exec.LookPath,
		checks:   expirable.NewLRU[string, bool](opts.CacheSize, nil, opts.CacheTTL),
	}
}

// Analyze returns yt-dlp's JSON description of a source (a flat listing
// for playlists) without downloading anything.
func (p *Prober) Analyze(ctx context.Context, url string) (json.RawMessage, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrMissingURL
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	res, err := p.runner.Run(ctx, p.binary, ytdlp.AnalyzeArgs(url)...)
	if err != nil {
		return nil, fmt.Errorf("%w: exit %d: %s", ErrAnalyze, res.ExitCode, tail(res.Stderr))
	}
	out := bytes.TrimSpace(res.Stdout)
	if !json.Valid(out) {
		return nil, fmt.Errorf("%w: output is not JSON", ErrAnalyze)
	}
	return json.RawMessage(out), nil
}

// CheckSource reports whether the source can still be resolved. Any
// failure, including a missing executable, counts as unavailable.
func (p *Prober) CheckSource(ctx context.Context, url string) (bool, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return false, ErrMissingURL
	}
	if ok, hit := p.checks.Get(url); hit {
		return ok, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	_, err := p.runner.Run(ctx, p.binary, ytdlp.SimulateArgs(url)...)
	if errors.Is(ctx.Err(), context.Canceled) {
		// caller went away; do not cache a guess
		return false, ctx.Err()
	}
	available := err == nil
	p.checks.Add(url, available)
	return available, nil
}

// Forget drops a cached availability answer.
func (p *Prober) Forget(url string) {
	p.checks.Remove(strings.TrimSpace(url))
}

// Tool is one external executable and where it was found.
type Tool struct {
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Found bool   `json:"found"`
}

// Dependencies looks up yt-dlp and ffmpeg. ffmpegLocation, when set, is
// the directory or binary passed to yt-dlp as --ffmpeg-location.
func (p *Prober) Dependencies(ffmpegLocation string) []Tool {
	tools := []Tool{p.lookup("yt-dlp", p.binary)}
	ffmpeg := "ffmpeg"
	if loc := strings.TrimSpace(ffmpegLocation); loc != "" {
		if strings.HasSuffix(loc, "ffmpeg") || strings.HasSuffix(loc, "ffmpeg.exe") {
			ffmpeg = loc
		} else {
			ffmpeg = strings.TrimRight(loc, `/\`) + "/ffmpeg"
		}
	}
	return append(tools, p.lookup("ffmpeg", ffmpeg))
}

func (p *Prober) lookup(name, bin string) Tool {
	path, err := p.lookPath(bin)
	if err != nil {
		return Tool{Name: name}
	}
	return Tool{Name: name, Path: path, Found: true}
}

func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}
