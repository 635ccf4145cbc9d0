package synthesis

// Status is the custom type to define the lifecycle state of a Job
type Status string

// A Job is created as processing and moves to exactly one terminal state.
// Terminal records are immutable except for the download counters.
const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MaxTextLength is the hard ceiling on input text, in characters
const MaxTextLength = 300000
