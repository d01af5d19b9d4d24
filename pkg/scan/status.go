package scan

import "time"

// Status is the scan lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the scan has finished, whatever the way.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Statistics is a point-in-time snapshot of scan progress, safe to
// poll while the scan runs. PluginsExecuted maps each plugin that
// completed to the number of findings it produced.
type Statistics struct {
	ScanID               string         `json:"scan_id"`
	Target               string         `json:"target"`
	Status               Status         `json:"status"`
	Phase                string         `json:"phase"`
	CurrentURL           string         `json:"current_url,omitempty"`
	URLsCrawled          int            `json:"urls_crawled"`
	FormsFound           int            `json:"forms_found"`
	RequestsSent         int64          `json:"requests_sent"`
	VulnerabilitiesFound int            `json:"vulnerabilities_found"`
	PluginsExecuted      map[string]int `json:"plugins_executed,omitempty"`
	StartedAt            time.Time      `json:"started_at"`
	Elapsed              time.Duration  `json:"elapsed"`
}
