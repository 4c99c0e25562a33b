package domain

import "time"

// LogEvent is one build-worker log line for a deployment. ID is assigned by
// the durable store and serves as the ordering cursor for range reads.
type LogEvent struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}
