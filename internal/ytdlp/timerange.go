package ytdlp

import (
	"math"
	"strconv"
	"strings"
)

const (
	rangeStartDefault = "00:00:00"
	rangeOpenEnd      = "inf"

	// FullVideo describes a job that was not restricted to a section.
	FullVideo = "Full Video"
)

// TimeRange is the section selection derived from optional start/end timestamps.
type TimeRange struct {
	Start           string
	End             string
	Requested       bool
	ExpectedSeconds float64
}

// NewTimeRange normalises start/end. A missing start defaults to zero and a
// missing end leaves the section open-ended, in which case the expected
// duration stays unknown (0).
func NewTimeRange(start, end string) TimeRange {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" && end == "" {
		return TimeRange{}
	}
	if start == "" {
		start = rangeStartDefault
	}
	if end == "" {
		end = rangeOpenEnd
	}
	tr := TimeRange{Start: start, End: end, Requested: true}
	if end != rangeOpenEnd {
		tr.ExpectedSeconds = max(ParseTimestamp(end)-ParseTimestamp(start), 0)
	}
	return tr
}

// Section returns the --download-sections value, or "" when no range was requested.
func (r TimeRange) Section() string {
	if !r.Requested {
		return ""
	}
	return "*" + r.Start + "-" + r.End
}

// Description is the human readable range stored in the metadata record.
func (r TimeRange) Description() string {
	if !r.Requested {
		return FullVideo
	}
	return r.Start + "-" + r.End
}

// ParseTimestamp evaluates colon separated groups left to right
// (acc = acc*60 + group). Malformed input yields 0.
func ParseTimestamp(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	var acc float64
	for _, part := range strings.Split(s, ":") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0
		}
		acc = acc*60 + v
	}
	return acc
}
