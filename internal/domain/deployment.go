package domain

import "time"

// Deployment status values. READY and FAILED are terminal.
const (
	StatusQueued     = "QUEUED"
	StatusInProgress = "IN_PROGRESS"
	StatusReady      = "READY"
	StatusFailed     = "FAILED"
)

// Deployment captures a single build attempt for a project.
type Deployment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TerminalStatus reports whether a status admits no further transitions.
func TerminalStatus(status string) bool {
	return status == StatusReady || status == StatusFailed
}
