package probe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeRunner struct {
	calls  [][]string
	result commandResult
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.result, f.err
}

func newTestProber(r *fakeRunner) *Prober {
	p := New(Options{Binary: "yt-dlp", CacheTTL: time.Minute, CacheSize: 8})
	p.runner = r
	return p
}

func TestAnalyzeReturnsJSON(t *testing.T) {
	r := &fakeRunner{result: commandResult{Stdout: []byte(`{"title":"x","entries":[]}` + "\n")}}
	p := newTestProber(r)
	raw, err := p.Analyze(context.Background(), " https://example.com/list ")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if string(raw) != `{"title":"x","entries":[]}` {
		t.Fatalf("raw: %s", raw)
	}
	got := strings.Join(r.calls[0], " ")
	if got != "yt-dlp --no-colors -J --flat-playlist https://example.com/list" {
		t.Fatalf("command: %s", got)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	p := newTestProber(&fakeRunner{})
	if _, err := p.Analyze(context.Background(), ""); !errors.Is(err, ErrMissingURL) {
		t.Fatalf("missing url: %v", err)
	}
	p = newTestProber(&fakeRunner{
		result: commandResult{Stderr: []byte("ERROR: Unsupported URL"), ExitCode: 1},
		err:    errors.New("exit status 1"),
	})
	_, err := p.Analyze(context.Background(), "https://example.com")
	if !errors.Is(err, ErrAnalyze) || !strings.Contains(err.Error(), "Unsupported URL") {
		t.Fatalf("failed run: %v", err)
	}
	p = newTestProber(&fakeRunner{result: commandResult{Stdout: []byte("not json")}})
	if _, err := p.Analyze(context.Background(), "https://example.com"); !errors.Is(err, ErrAnalyze) {
		t.Fatalf("bad output: %v", err)
	}
}

func TestCheckSourceCachesAnswer(t *testing.T) {
	r := &fakeRunner{}
	p := newTestProber(r)
	for i := 0; i < 3; i++ {
		ok, err := p.CheckSource(context.Background(), "https://example.com/v")
		if err != nil || !ok {
			t.Fatalf("check #%d: ok=%v err=%v", i, ok, err)
		}
	}
	if len(r.calls) != 1 {
		t.Fatalf("runner calls: %d", len(r.calls))
	}
	if got := strings.Join(r.calls[0], " "); got != "yt-dlp --no-colors --simulate https://example.com/v" {
		t.Fatalf("command: %s", got)
	}

	r.err = errors.New("exit status 1")
	p.Forget("https://example.com/v")
	ok, err := p.CheckSource(context.Background(), "https://example.com/v")
	if err != nil || ok {
		t.Fatalf("after forget: ok=%v err=%v", ok, err)
	}
	if len(r.calls) != 2 {
		t.Fatalf("runner calls after forget: %d", len(r.calls))
	}
}

func TestCheckSourceDoesNotCacheCancelled(t *testing.T) {
	r := &fakeRunner{err: context.Canceled}
	p := newTestProber(r)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.CheckSource(ctx, "https://example.com/v"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if p.checks.Len() != 0 {
		t.Fatalf("cancelled check was cached")
	}
}

func TestDependencies(t *testing.T) {
	p := newTestProber(&fakeRunner{})
	p.lookPath = func(bin string) (string, error) {
		if bin == "yt-dlp" {
			return "/usr/bin/yt-dlp", nil
		}
		return "", errors.New("not found: " + bin)
	}
	tools := p.Dependencies("/opt/ffmpeg/bin")
	if len(tools) != 2 {
		t.Fatalf("tools: %+v", tools)
	}
	if !tools[0].Found || tools[0].Path != "/usr/bin/yt-dlp" {
		t.Fatalf("yt-dlp: %+v", tools[0])
	}
	if tools[1].Found || tools[1].Name != "ffmpeg" {
		t.Fatalf("ffmpeg: %+v", tools[1])
	}

	var looked string
	p.lookPath = func(bin string) (string, error) {
		looked = bin
		return bin, nil
	}
	p.Dependencies("/opt/ffmpeg/bin/")
	if looked != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("ffmpeg lookup path: %q", looked)
	}
}
