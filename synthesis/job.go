package synthesis

import (
	"fmt"
	"time"
)

// Job is the lifecycle record tracking one text-to-audio conversion from
// admission to terminal state. It is persisted before any external call so
// a crash mid-flight leaves an auditable processing record.
type Job struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	UserID           string    `json:"userId" gorm:"index"`
	Filename         string    `json:"filename"`
	OriginalText     string    `json:"-" gorm:"type:text"`
	TextLength       int64     `json:"textLength"`
	VoiceSelector    string    `json:"voice"`
	AudioFormat      string    `json:"audioFormat"`
	Engine           string    `json:"engine"`
	Status           Status    `json:"status" gorm:"index"`
	StorageKey       string    `json:"-"`
	RetrievalURL     string    `json:"retrievalUrl,omitempty" gorm:"-"` // ephemeral, minted per request
	DurationSeconds  int64     `json:"durationSeconds"`
	FileSizeBytes    int64     `json:"fileSizeBytes"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	DownloadCount    int64     `json:"downloadCount"`
	CreatedAt        time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt        time.Time `json:"-"`
	LastDownloadedAt time.Time `json:"lastDownloadedAt,omitempty"`
}

// buildFilename names the artifact after its creation instant
func buildFilename(now time.Time, format string) string {
	return fmt.Sprintf("speech-%s.%s", now.UTC().Format("20060102-150405"), format)
}
