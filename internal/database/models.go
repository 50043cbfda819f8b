package database

import (
	"encoding/json"
	"time"
)

// Image is one indexed library file.
type Image struct {
	ID            int64      `json:"id"`
	Path          string     `json:"path"`
	LocalPath     string     `json:"local_path,omitempty"`
	Filename      string     `json:"filename"`
	FileSize      int64      `json:"file_size"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	AspectRatio   float64    `json:"aspect_ratio"`
	Format        string     `json:"format"`
	CameraMake    string     `json:"camera_make,omitempty"`
	CameraModel   string     `json:"camera_model,omitempty"`
	LensModel     string     `json:"lens_model,omitempty"`
	FocalLength   float64    `json:"focal_length,omitempty"`
	Aperture      float64    `json:"aperture,omitempty"`
	ShutterSpeed  string     `json:"shutter_speed,omitempty"`
	ISO           int        `json:"iso,omitempty"`
	FlashUsed     bool       `json:"flash_used"`
	DateTaken     *time.Time `json:"date_taken"`
	Favorite      bool       `json:"favorite"`
	Rating        int        `json:"rating"`
	ThumbnailPath string     `json:"thumbnail_path,omitempty"`
	Phash         string     `json:"phash,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ModifiedAt    time.Time  `json:"modified_at"`
	IndexedAt     time.Time  `json:"indexed_at"`
	Tags          []string   `json:"tags"`
	Categories    []string   `json:"categories"`
}

// CameraMetadata is the EXIF-derived subset of an Image.
type CameraMetadata struct {
	CameraMake   string
	CameraModel  string
	LensModel    string
	FocalLength  float64
	Aperture     float64
	ShutterSpeed string
	ISO          int
	FlashUsed    bool
	DateTaken    *time.Time
}

// Fingerprint pairs an image with its perceptual hash.
type Fingerprint struct {
	ImageID int64
	Phash   string
}

// ImageFile is the minimal projection the scanner and cleanup jobs need.
type ImageFile struct {
	ID         int64
	Path       string
	LocalPath  string
	ModifiedAt time.Time
}

// Tag is a free-form label.
type Tag struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ImageCount int       `json:"image_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Category groups images, typically derived from folder names.
type Category struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description"`
	FeaturedImageID       *int64    `json:"featured_image_id"`
	FeaturedImagePosition string    `json:"featured_image_position,omitempty"`
	ImageCount            int       `json:"image_count"`
	CreatedAt             time.Time `json:"created_at"`
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is a persisted background operation.
type Job struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"`
	Status         JobStatus       `json:"status"`
	Progress       int             `json:"progress"`
	TotalItems     int             `json:"total_items"`
	ProcessedItems int             `json:"processed_items"`
	Parameters     json.RawMessage `json:"parameters"`
	Result         json.RawMessage `json:"result"`
	ErrorMessage   *string         `json:"error_message"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Type   string
	Status JobStatus
	Limit  int
}

// JobProgress is a counter snapshot written by the runner.
type JobProgress struct {
	Progress       int
	TotalItems     int
	ProcessedItems int
}

// IgnoredPair is a normalized (A < B) pair excluded from duplicate clusters.
type IgnoredPair struct {
	A         int64     `json:"a"`
	B         int64     `json:"b"`
	CreatedAt time.Time `json:"created_at"`
}

// PurgedImage is a blacklist entry for a file the user removed.
type PurgedImage struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	FileSize     *int64    `json:"file_size"`
	FileHash     string    `json:"file_hash,omitempty"`
	Width        *int      `json:"width"`
	Height       *int      `json:"height"`
	OriginalPath string    `json:"original_path"`
	Reason       string    `json:"reason"`
	PurgedAt     time.Time `json:"purged_at"`
}

// Matches reports whether a discovered file corresponds to this entry.
// Content hashes decide when both sides have one. Otherwise filename and
// size must agree (an entry without a size matches any size), and when the
// caller knows the dimensions the entry's dimensions must equal them.
func (p *PurgedImage) Matches(filename string, size int64, width, height int, fileHash string) bool {
	if p.FileHash != "" && fileHash != "" {
		return p.FileHash == fileHash
	}
	if p.Filename != filename {
		return false
	}
	if p.FileSize != nil && *p.FileSize != size {
		return false
	}
	if width > 0 && height > 0 {
		return p.Width != nil && p.Height != nil && *p.Width == width && *p.Height == height
	}
	return true
}

func nowUnix() int64 {
	return time.Now().Unix()
}
