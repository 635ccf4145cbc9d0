package spec

import "time"

// JobEvent announces a synthesis job reaching a terminal state. The
// notification collaborator consumes these; the pipeline itself never
// sends user-facing notifications.
type JobEvent struct {
	JobID            string    `json:"jobId"`
	UserID           string    `json:"userId"`
	Status           string    `json:"status"`
	AudioFormat      string    `json:"audioFormat"`
	BilledCharacters int64     `json:"billedCharacters"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}
