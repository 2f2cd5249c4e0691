package uploads

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of an upload.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
)

// JobStatus is the state of a processing job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobTypeTranscode is the only job type uploads create.
const JobTypeTranscode = "transcode"

const (
	// MaxFileBytes is the largest accepted upload.
	MaxFileBytes = 100 * 1024 * 1024
	// SignedURLTTL is how long upload and playback URLs stay valid.
	SignedURLTTL = time.Hour
	// UploadBitrate is recorded on sources created from uploads.
	UploadBitrate = 192000
)

// AllowedContentTypes lists accepted audio MIME types.
var AllowedContentTypes = []string{"audio/mpeg", "audio/wav", "audio/flac", "audio/mp3"}

var (
	ErrUploadNotFound   = errors.New("upload not found")
	ErrInvalidState     = errors.New("upload is not in a state that allows this action")
	ErrFileMissing      = errors.New("upload file has not been received")
	ErrFileTooLarge     = errors.New("upload file is too large")
	ErrInvalidSignature = errors.New("invalid or expired signature")
	ErrAdminRequired    = errors.New("admin access required")
	ErrInvalidKey       = errors.New("invalid storage key")
)

// Metadata describes the track being uploaded.
type Metadata struct {
	Title         string   `json:"title"`
	Artists       []string `json:"artists"`
	Album         *string  `json:"album,omitempty"`
	Genre         *string  `json:"genre,omitempty"`
	Language      *string  `json:"language,omitempty"`
	Explicit      bool     `json:"explicit"`
	ISRC          *string  `json:"isrc,omitempty"`
	ReleaseDate   *string  `json:"release_date,omitempty"`
	License       string   `json:"license"`
	LicenseType   string   `json:"license_type,omitempty"`
	Attribution   *string  `json:"attribution,omitempty"`
	CommercialUse bool     `json:"commercial_use"`
}

// FileInfo describes the file a client intends to upload.
type FileInfo struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Upload is one user upload and its processing outcome.
type Upload struct {
	ID               string
	UserID           string
	OriginalFilename string
	FileSize         int64
	ContentType      string
	StorageKey       string
	Status           Status
	Error            *string
	Metadata         Metadata
	DurationMs       int64
	ContentItemID    *string
	SourceID         *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Job is a queued processing step for an upload.
type Job struct {
	ID          string
	UploadID    string
	JobType     string
	Status      JobStatus
	Error       *string
	ClaimedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Progress is the client-facing view of an upload's state.
type Progress struct {
	UploadID string  `json:"upload_id"`
	Status   Status  `json:"status"`
	Progress int     `json:"progress"`
	Error    *string `json:"error,omitempty"`
}

// ProgressFor maps an upload status to a percentage.
func ProgressFor(status Status) int {
	switch status {
	case StatusUploading:
		return 25
	case StatusProcessing:
		return 75
	case StatusCompleted:
		return 100
	}
	return 0
}

// StartResult is returned when an upload is created.
type StartResult struct {
	Upload    *Upload
	UploadURL string
	ExpiresAt time.Time
}

// ValidationError lists every problem found with an upload request.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Errors, "; ")
}
