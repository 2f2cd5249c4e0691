package uploads

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Validate checks the file and metadata of an upload request and returns
// every problem found, or nil.
func Validate(file FileInfo, metadata Metadata, maxBytes int64) []string {
	if maxBytes <= 0 {
		maxBytes = MaxFileBytes
	}
	var problems []string
	if file.Size > maxBytes {
		problems = append(problems, "File size must be less than "+formatSize(maxBytes))
	}
	if !slices.Contains(AllowedContentTypes, file.ContentType) {
		problems = append(problems, "File must be MP3, WAV, or FLAC")
	}
	if strings.TrimSpace(metadata.Title) == "" {
		problems = append(problems, "Title is required")
	}
	if len(metadata.Artists) == 0 || strings.TrimSpace(metadata.Artists[0]) == "" {
		problems = append(problems, "At least one artist is required")
	}
	if metadata.License == "" {
		problems = append(problems, "License is required")
	}
	return problems
}

// ExtractMetadata derives default metadata from a file name.
func ExtractMetadata(filename string) Metadata {
	base := filepath.Base(filename)
	return Metadata{
		Title:         strings.TrimSuffix(base, filepath.Ext(base)),
		Artists:       []string{"Unknown Artist"},
		Explicit:      false,
		License:       "commercial",
		LicenseType:   "commercial",
		CommercialUse: true,
	}
}

// ReadWAVDuration returns the duration of a WAV stream. Other formats
// report zero.
func ReadWAVDuration(r io.ReadSeeker) (time.Duration, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return 0, nil
	}
	duration, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("read wav duration: %w", err)
	}
	return duration, nil
}

func formatSize(bytes int64) string {
	const mb = 1024 * 1024
	if bytes%mb == 0 {
		return fmt.Sprintf("%dMB", bytes/mb)
	}
	return fmt.Sprintf("%d bytes", bytes)
}
