package ingestion

import "time"

// Lifecycle event types published to the event bus.
const (
	EventVideoUploaded = "video.uploaded"
	EventVideoAnalyzed = "video.analyzed"
	EventVideoFailed   = "video.failed"
	EventVideoDeleted  = "video.deleted"
)

// VideoEvent is emitted as a video moves through the ingestion pipeline.
type VideoEvent struct {
	Type       string    `json:"type"`
	VideoID    int64     `json:"video_id"`
	Name       string    `json:"name"`
	Locator    string    `json:"locator"`
	Status     string    `json:"status"`
	Label      string    `json:"label,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
