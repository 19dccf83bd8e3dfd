package downloader

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func readAll(t *testing.T, p Process) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []string
	for {
		line, err := p.ReadLine(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("read line: %v", err)
		}
		out = append(out, line)
	}
}

func TestSpawnMergesStdoutAndStderrInOrder(t *testing.T) {
	requireShell(t)
	p, err := NewExecSpawner().Spawn(Invocation{
		Path: "sh",
		Args: []string{"-c", "echo one; echo two 1>&2; printf 'three\\rfour\\n'; exit 3"},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Close()

	lines := readAll(t, p)
	want := []string{"one", "two", "three", "four"}
	if strings.Join(lines, ",") != strings.Join(want, ",") {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	code, err := p.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	_, err := NewExecSpawner().Spawn(Invocation{Path: "clipdl-definitely-not-installed"})
	if err == nil {
		t.Fatalf("expected spawn error")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T", err)
	}
	if spawnErr.Path != "clipdl-definitely-not-installed" {
		t.Fatalf("path = %q", spawnErr.Path)
	}
}

func TestKillIsIdempotentAndEndsStream(t *testing.T) {
	requireShell(t)
	p, err := NewExecSpawner().Spawn(Invocation{Path: "sh", Args: []string{"-c", "echo started; exec sleep 30"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	line, err := p.ReadLine(ctx)
	if err != nil || line != "started" {
		t.Fatalf("first line = %q, %v", line, err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("second kill: %v", err)
	}
	if _, err := p.ReadLine(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after kill, got %v", err)
	}
	code, _ := p.Wait()
	if code == 0 {
		t.Fatalf("expected non-zero exit code after kill")
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill after exit: %v", err)
	}
}

func TestReadLineHonoursContext(t *testing.T) {
	requireShell(t)
	p, err := NewExecSpawner().Spawn(Invocation{Path: "sh", Args: []string{"-c", "exec sleep 30"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer func() {
		_ = p.Kill()
		_ = p.Close()
	}()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.ReadLine(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSplitByNewlineOrCR(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("a\r\nb\rc\n\nd"))
	sc.Split(splitByNewlineOrCR)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	if strings.Join(got, "|") != "a|b|c|d" {
		t.Fatalf("tokens = %q", got)
	}
}

func TestInvocationString(t *testing.T) {
	inv := Invocation{Path: "yt-dlp", Args: []string{"--newline", "https://example.com/v"}}
	if got := inv.String(); got != "yt-dlp --newline https://example.com/v" {
		t.Fatalf("String() = %q", got)
	}
}
