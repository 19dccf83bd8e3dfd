package ytdlp

import "strings"

// Quality selects one row of the format selector table.
type Quality string

const (
	QualityBest      Quality = "best"
	Quality1080p     Quality = "1080p"
	Quality720p      Quality = "720p"
	QualityVideoOnly Quality = "video_only"
	QualityAudioBest Quality = "audio_best"
	QualityAudioLow  Quality = "audio_low"
)

var formatSelectors = map[Quality]string{
	QualityBest:      "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
	Quality1080p:     "bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/best[height<=1080][ext=mp4]",
	Quality720p:      "bestvideo[height<=720][ext=mp4]+bestaudio[ext=m4a]/best[height<=720][ext=mp4]",
	QualityVideoOnly: "bestvideo[ext=mp4]",
	QualityAudioBest: "bestaudio[ext=m4a]/bestaudio",
	QualityAudioLow:  "worstaudio[ext=m4a]/worstaudio",
}

// NormalizeQuality maps user input onto a known quality, falling back to best.
func NormalizeQuality(raw string) Quality {
	q := Quality(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := formatSelectors[q]; ok {
		return q
	}
	return QualityBest
}

// FormatSelector returns the -f argument for q.
func FormatSelector(q Quality) string {
	return formatSelectors[NormalizeQuality(string(q))]
}
