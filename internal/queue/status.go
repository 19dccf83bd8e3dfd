package queue

const (
	StatusDownloading = "downloading"
	StatusFinished    = "finished"
	StatusError       = "error"
	StatusCancelled   = "cancelled"
)

const (
	initialPercent = "0%"
	initialSpeed   = "0.00MiB/s"
	initialETA     = "--:--"
	donePercent    = "100%"
)

// IsTerminal reports whether no further transitions may follow status.
func IsTerminal(status string) bool {
	switch status {
	case StatusFinished, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// JobStatus is the live record polled by status readers.
type JobStatus struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Percent string `json:"percent"`
	Size    string `json:"size,omitempty"`
	Speed   string `json:"speed"`
	ETA     string `json:"eta"`
}

func newJobStatus(id, title string) JobStatus {
	return JobStatus{
		ID:      id,
		Title:   title,
		Status:  StatusDownloading,
		Percent: initialPercent,
		Speed:   initialSpeed,
		ETA:     initialETA,
	}
}
