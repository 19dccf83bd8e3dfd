package ytdlp

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/Witriol/clipdl/internal/downloader"
)

// DefaultBinary is the executable looked up on PATH when none is configured.
const DefaultBinary = "yt-dlp"

// ExtPlaceholder lets yt-dlp pick the container extension.
const ExtPlaceholder = "%(ext)s"

// DownloadOptions describes one clip download.
type DownloadOptions struct {
	Binary         string
	OutputDir      string
	ID             string
	URL            string
	Quality        Quality
	Range          TimeRange
	FFmpegLocation string
}

// OutputTemplate is the -o value: the job id plus a tool chosen extension.
func OutputTemplate(dir, id string) string {
	return filepath.Join(dir, id+"."+ExtPlaceholder)
}

// BuildInvocation assembles the yt-dlp command line. The source URL is
// always the final argument.
func BuildInvocation(opts DownloadOptions) (downloader.Invocation, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return downloader.Invocation{}, errors.New("source url is required")
	}
	if strings.TrimSpace(opts.ID) == "" {
		return downloader.Invocation{}, errors.New("job id is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return downloader.Invocation{}, errors.New("output directory is required")
	}
	bin := strings.TrimSpace(opts.Binary)
	if bin == "" {
		bin = DefaultBinary
	}
	args := []string{
		"--no-colors",
		"--newline",
		"-f", FormatSelector(opts.Quality),
		"--write-thumbnail",
		"--convert-thumbnails", "jpg",
		"-o", OutputTemplate(opts.OutputDir, opts.ID),
	}
	if loc := strings.TrimSpace(opts.FFmpegLocation); loc != "" {
		args = append(args, "--ffmpeg-location", loc)
	}
	if section := opts.Range.Section(); section != "" {
		args = append(args, "--download-sections", section, "--force-keyframes-at-cuts")
	}
	args = append(args, opts.URL)
	return downloader.Invocation{Path: bin, Args: args}, nil
}

// AnalyzeArgs lists a source without downloading it.
func AnalyzeArgs(url string) []string {
	return []string{"--no-colors", "-J", "--flat-playlist", url}
}

// SimulateArgs checks that a source is still reachable.
func SimulateArgs(url string) []string {
	return []string{"--no-colors", "--simulate", url}
}
