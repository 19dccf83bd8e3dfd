package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/Witriol/clipdl/internal/library"
	"github.com/Witriol/clipdl/internal/queue"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func styleStatus(status string) string {
	switch status {
	case queue.StatusDownloading:
		return activeStyle.Render(status)
	case queue.StatusFinished:
		return okStyle.Render(status)
	case queue.StatusError:
		return errorStyle.Render(status)
	case queue.StatusCancelled:
		return warnStyle.Render(status)
	default:
		return status
	}
}

func printJobs(w io.Writer, jobs []queue.JobStatus) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No active jobs."))
		return
	}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		size := j.Size
		if size == "" {
			size = "-"
		}
		rows = append(rows, []string{shortID(j.ID), styleStatus(j.Status), j.Percent, size, j.Speed, j.ETA, truncate(j.Title, 48)})
	}
	writeTable(w, []string{"ID", "STATUS", "PROGRESS", "SIZE", "SPEED", "ETA", "TITLE"}, rows)
}

func printClips(w io.Writer, clips []library.Clip, now time.Time) {
	if len(clips) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("Library is empty."))
		return
	}
	rows := make([][]string, 0, len(clips))
	var total int64
	for _, c := range clips {
		total += c.FileSize
		rows = append(rows, []string{
			c.ID, truncate(c.DisplayTitle(), 40), c.Range, humanize.IBytes(uint64(c.FileSize)),
			c.SourceStatus, relativeTime(c.CreatedAt, now), c.Tags,
		})
	}
	writeTable(w, []string{"ID", "TITLE", "RANGE", "SIZE", "SOURCE", "ADDED", "TAGS"}, rows)
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d clips, %s", len(clips), humanize.IBytes(uint64(total)))))
}

func printHistory(w io.Writer, jobs []queue.HistoryView, now time.Time) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No jobs."))
		return
	}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		name := j.Title
		if name == "" {
			name = shortURL(j.URL)
		}
		rows = append(rows, []string{j.ID, styleStatus(j.Status), j.Quality, j.Range, relativeTime(j.CreatedAt, now), truncate(name, 48)})
		if j.Error != "" {
			rows = append(rows, []string{"", "", "", "", "", errorStyle.Render("error: " + j.Error)})
		}
	}
	writeTable(w, []string{"ID", "STATUS", "QUALITY", "RANGE", "STARTED", "TITLE/URL"}, rows)
}

// writeTable pads columns by rendered width so styled cells stay aligned.
func writeTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := lipgloss.Width(cell); i < len(widths) && cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	line := func(cells []string) string {
		var b strings.Builder
		for i, cell := range cells {
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		return strings.TrimRight(b.String(), " ")
	}
	fmt.Fprintln(w, headerStyle.Render(line(header)))
	for _, row := range rows {
		fmt.Fprintln(w, line(row))
	}
}

// relativeTime renders an RFC 3339 timestamp as "3 minutes ago".
func relativeTime(ts string, now time.Time) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func hasActiveJobs(jobs []queue.JobStatus) bool {
	for _, j := range jobs {
		if !queue.IsTerminal(j.Status) {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortURL(u string) string {
	if len(u) > 64 {
		return u[:61] + "..."
	}
	return u
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if lipgloss.Width(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) > n-3 {
		r = r[:n-3]
	}
	return string(r) + "..."
}
