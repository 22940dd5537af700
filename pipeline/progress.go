package pipeline

// Progress statuses emitted while a pipeline is being constructed.
const (
	StatusInitiate = "initiate"
	StatusDownload = "download"
	StatusProgress = "progress"
	StatusDone     = "done"
	StatusReady    = "ready"
)

// Progress is a construction event. File-level events carry File and,
// for StatusProgress, byte counts. Progress is a percentage, nil when the
// total size is unknown or the event is not a progress event.
type Progress struct {
	Status   string   `json:"status"`
	Name     string   `json:"name,omitempty"`
	File     string   `json:"file,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	Loaded   int64    `json:"loaded,omitempty"`
	Total    int64    `json:"total,omitempty"`
}

// Percent returns loaded as a percentage of total, or nil without a total.
func Percent(loaded, total int64) *float64 {
	if total <= 0 {
		return nil
	}
	pct := float64(loaded) / float64(total) * 100
	return &pct
}

type ProgressFunc func(Progress)

// Emit calls fn when it is set.
func (fn ProgressFunc) Emit(p Progress) {
	if fn != nil {
		fn(p)
	}
}
