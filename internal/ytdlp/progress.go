package ytdlp

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// Indeterminate is reported when no percentage can be computed.
	Indeterminate = "indeterminate"
	// ProcessingETA replaces the countdown while ffmpeg cuts or merges.
	ProcessingETA = "Processing"

	mergeMarker = "frame="
)

var (
	// [download]  42.3% of ~12.34MiB at  1.20MiB/s ETA 00:07
	downloadLineRe = regexp.MustCompile(`\[download\]\s+(\d+\.?\d*)%\s+of\s+~?(\S+)\s+at\s+(.+?)\s+ETA\s+(\S+)`)
	// frame=  120 fps= 30 q=-1.0 size=   20224kB time=00:00:30.09 bitrate=5505.4kbits/s speed=1.73x
	mergeLineRe = regexp.MustCompile(`size=\s*(\S+)\s+time=\s*(\S+).*?speed=\s*(\S+)`)
)

// Phase identifies which progress vocabulary a line belonged to.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseMerge    Phase = "merge"
)

// Progress is the normalised result of one recognised output line.
// When PercentOnly is set only Percent carries information.
type Progress struct {
	Phase       Phase
	Percent     string
	Size        string
	Speed       string
	ETA         string
	PercentOnly bool
}

// ParseProgress classifies one yt-dlp output line. expectedSeconds is the
// clip duration known up front (0 when unknown); it only matters for the
// merge phase. ok is false for lines that carry no progress.
func ParseProgress(line string, expectedSeconds float64) (Progress, bool) {
	if m := downloadLineRe.FindStringSubmatch(line); m != nil {
		return Progress{
			Phase:   PhaseDownload,
			Percent: m[1] + "%",
			Size:    m[2],
			Speed:   strings.TrimSpace(m[3]),
			ETA:     m[4],
		}, true
	}
	if !strings.Contains(line, mergeMarker) {
		return Progress{}, false
	}
	m := mergeLineRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{Phase: PhaseMerge, Percent: Indeterminate, PercentOnly: true}, true
	}
	return Progress{
		Phase:   PhaseMerge,
		Percent: mergePercent(ParseTimestamp(m[2]), expectedSeconds),
		Size:    m[1],
		Speed:   strings.TrimSuffix(strings.TrimSpace(m[3]), "x") + "x",
		ETA:     ProcessingETA,
	}, true
}

func mergePercent(elapsed, expected float64) string {
	if expected <= 0 {
		return Indeterminate
	}
	pct := min(max(elapsed/expected*100, 0), 100)
	return fmt.Sprintf("%.1f%%", pct)
}
