package ytdlp

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
)

func TestParseProgressDownloadLine(t *testing.T) {
	p, ok := ParseProgress("[download]  42.3% of ~12.34MiB at  1.20MiB/s ETA 00:07", 0)
	if !ok {
		t.Fatalf("expected download line to match")
	}
	want := Progress{Phase: PhaseDownload, Percent: "42.3%", Size: "12.34MiB", Speed: "1.20MiB/s", ETA: "00:07"}
	if p != want {
		t.Fatalf("progress = %+v, want %+v", p, want)
	}
}

func TestParseProgressDownloadLineIgnoresDuration(t *testing.T) {
	p, ok := ParseProgress("[download] 100% of 3.00MiB at 2.00MiB/s ETA 00:00", 60)
	if !ok || p.Percent != "100%" {
		t.Fatalf("progress = %+v ok=%v", p, ok)
	}
}

func TestParseProgressMergeLineWithKnownDuration(t *testing.T) {
	line := "frame=  900 fps= 30 q=-1.0 size=   20224kB time=00:00:30.00 bitrate=5505.4kbits/s speed=1.73x"
	p, ok := ParseProgress(line, 60)
	if !ok {
		t.Fatalf("expected merge line to match")
	}
	want := Progress{Phase: PhaseMerge, Percent: "50.0%", Size: "20224kB", Speed: "1.73x", ETA: ProcessingETA}
	if p != want {
		t.Fatalf("progress = %+v, want %+v", p, want)
	}
}

func TestParseProgressMergeLineWithUnknownDuration(t *testing.T) {
	line := "frame=  900 fps= 30 q=-1.0 size=   20224kB time=00:00:30.00 bitrate=5505.4kbits/s speed=1.73x"
	p, ok := ParseProgress(line, 0)
	if !ok {
		t.Fatalf("expected merge line to match")
	}
	if p.Percent != Indeterminate {
		t.Fatalf("percent = %q, want indeterminate", p.Percent)
	}
	if p.Size != "20224kB" || p.Speed != "1.73x" || p.ETA != ProcessingETA {
		t.Fatalf("unexpected fields: %+v", p)
	}
}

func TestParseProgressMergeLineWithoutFields(t *testing.T) {
	p, ok := ParseProgress("frame=    0 fps=0.0 q=0.0 Lsize=N/A", 60)
	if !ok {
		t.Fatalf("expected merge marker to be recognised")
	}
	if !p.PercentOnly || p.Percent != Indeterminate {
		t.Fatalf("progress = %+v", p)
	}
	if p.Size != "" || p.Speed != "" || p.ETA != "" {
		t.Fatalf("sub-match failure must not set other fields: %+v", p)
	}
}

func TestParseProgressUnrecognised(t *testing.T) {
	for _, line := range []string{
		"",
		"[youtube] abc: Downloading webpage",
		"[info] Writing video thumbnail to: x.webp",
		"size=1kB time=00:00:01 speed=1x",
	} {
		if _, ok := ParseProgress(line, 60); ok {
			t.Fatalf("line %q should be ignored", line)
		}
	}
}

func TestMergePercentMonotonicAndCapped(t *testing.T) {
	const expected = 75.0
	prev := -1.0
	for elapsed := 0.0; elapsed <= 200; elapsed += 2.5 {
		line := fmt.Sprintf("frame=1 size=1kB time=%s bitrate=1k speed=1.0x", formatClock(elapsed))
		p, ok := ParseProgress(line, expected)
		if !ok {
			t.Fatalf("line %q not recognised", line)
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(p.Percent, "%"), 64)
		if err != nil {
			t.Fatalf("percent %q is not numeric", p.Percent)
		}
		if v < prev {
			t.Fatalf("percent decreased: %v after %v", v, prev)
		}
		if v > 100 || v < 0 {
			t.Fatalf("percent out of range: %v", v)
		}
		prev = v
	}
	if prev != 100 {
		t.Fatalf("expected to end at 100, got %v", prev)
	}
}

func TestMergePercentAlwaysIndeterminateWithoutDuration(t *testing.T) {
	for elapsed := 0.0; elapsed <= 120; elapsed += 10 {
		line := fmt.Sprintf("frame=1 size=1kB time=%s bitrate=1k speed=2x", formatClock(elapsed))
		p, _ := ParseProgress(line, 0)
		if p.Percent != Indeterminate {
			t.Fatalf("elapsed %v: percent = %q", elapsed, p.Percent)
		}
	}
}

func formatClock(seconds float64) string {
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := seconds - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%05.2f", h, m, s)
}
