package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	defaultDrainTimeout = 2 * time.Second
	maxLineBytes        = 1024 * 1024
)

// Invocation is one external command line.
type Invocation struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (inv Invocation) String() string {
	return strings.Join(append([]string{inv.Path}, inv.Args...), " ")
}

// SpawnError reports that the executable could not be located or started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Process is a running external command whose stdout and stderr are read
// as one line stream.
type Process interface {
	// ReadLine blocks for the next output line. It returns io.EOF once the
	// process closed its output and every buffered line was consumed, or
	// ctx.Err() when ctx is done first.
	ReadLine(ctx context.Context) (string, error)
	// Kill forces termination. Safe to call repeatedly and after exit.
	Kill() error
	// Wait blocks until exit and returns the exit code.
	Wait() (int, error)
	// Close releases the output pipe.
	Close() error
}

// Spawner starts processes.
type Spawner interface {
	Spawn(inv Invocation) (Process, error)
}

// ExecSpawner runs invocations with os/exec.
type ExecSpawner struct {
	// DrainTimeout bounds how long output is still read after the process
	// exited, for grandchildren that keep the pipe open.
	DrainTimeout time.Duration
}

func NewExecSpawner() *ExecSpawner {
	return &ExecSpawner{DrainTimeout: defaultDrainTimeout}
}

func (s *ExecSpawner) Spawn(inv Invocation) (Process, error) {
	path, err := exec.LookPath(inv.Path)
	if err != nil {
		return nil, &SpawnError{Path: inv.Path, Err: err}
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Path: inv.Path, Err: err}
	}
	cmd := exec.Command(path, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	// Same *os.File for both streams: the child writes straight into one
	// pipe, so lines keep their emission order.
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, &SpawnError{Path: inv.Path, Err: err}
	}
	_ = pw.Close()

	drain := s.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	p := &execProcess{
		cmd:    cmd,
		out:    pr,
		drain:  drain,
		lines:  make(chan string, 64),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go p.scan()
	go p.reap()
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	out   *os.File
	drain time.Duration

	lines  chan string
	done   chan struct{}
	closed chan struct{}

	closeOnce sync.Once
	exitCode  int
	waitErr   error
}

func (p *execProcess) scan() {
	defer close(p.lines)
	sc := bufio.NewScanner(p.out)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	sc.Split(splitByNewlineOrCR)
	for sc.Scan() {
		select {
		case p.lines <- sc.Text():
		case <-p.closed:
			return
		}
	}
}

func (p *execProcess) reap() {
	err := p.cmd.Wait()
	p.exitCode = -1
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	_ = p.out.SetReadDeadline(time.Now().Add(p.drain))
	close(p.done)
}

func (p *execProcess) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

func (p *execProcess) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.out.Close()
	})
	return err
}

// splitByNewlineOrCR treats carriage returns as line ends so in-place
// progress redraws arrive as separate lines.
func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
