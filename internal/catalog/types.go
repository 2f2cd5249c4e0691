package catalog

import "time"

// SourceKind describes where an audio asset came from.
type SourceKind string

const (
	SourceKindArtistUploaded SourceKind = "artist_uploaded"
	SourceKindOpenCC         SourceKind = "open_cc"
	SourceKindPublicDomain   SourceKind = "public_domain"
	SourceKindLicensed       SourceKind = "licensed"
)

// IsValid reports whether k is a known source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceKindArtistUploaded, SourceKindOpenCC, SourceKindPublicDomain, SourceKindLicensed:
		return true
	}
	return false
}

// SourceStatus is the moderation state of a source. Only active sources play.
type SourceStatus string

const (
	SourceStatusActive        SourceStatus = "active"
	SourceStatusBlocked       SourceStatus = "blocked"
	SourceStatusPendingReview SourceStatus = "pending_review"
	SourceStatusProcessing    SourceStatus = "processing"
)

// IsValid reports whether s is a known source status.
func (s SourceStatus) IsValid() bool {
	switch s {
	case SourceStatusActive, SourceStatusBlocked, SourceStatusPendingReview, SourceStatusProcessing:
		return true
	}
	return false
}

// MatchMethod records how a content match was established.
type MatchMethod string

const (
	MatchMethodManual       MatchMethod = "manual_match"
	MatchMethodMetadataOnly MatchMethod = "metadata_only"
)

// Thumbnails holds artwork URLs at three sizes.
type Thumbnails struct {
	Small  string `json:"small,omitempty"`
	Medium string `json:"medium,omitempty"`
	Large  string `json:"large,omitempty"`
}

// ContentItem is one logical song in the local catalog.
type ContentItem struct {
	ID          string
	Title       string
	Artists     []string
	Album       *string
	DurationMs  int64
	ISRC        *string
	ReleaseDate *string
	Genre       *string
	Language    *string
	Explicit    bool
	Thumbnails  Thumbnails
	External    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AudioSource is a playable asset for a content item.
type AudioSource struct {
	ID             string
	ContentItemID  string
	Kind           SourceKind
	URL            *string
	StorageKey     *string
	License        string
	Bitrate        int
	Format         string
	HLSManifestURL *string
	Status         SourceStatus
	UploadedBy     *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// External platforms a content match can name. They match the track
// platforms the resolver looks up.
const (
	ExternalPlatformSpotify = "spotify"
	ExternalPlatformYouTube = "youtube"
)

// ContentMatch maps an external platform track to a catalog item.
type ContentMatch struct {
	ID               string
	ExternalID       string
	ExternalPlatform string
	ContentItemID    string
	SourceID         *string
	MatchConfidence  float64
	MatchMethod      MatchMethod
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ItemWithSource pairs an item with its first active source.
type ItemWithSource struct {
	Item   ContentItem
	Source AudioSource
}

// CreateContentItemInput is the payload for creating a content item.
type CreateContentItemInput struct {
	Title       string            `json:"title"`
	Artists     []string          `json:"artists"`
	Album       *string           `json:"album,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
	ISRC        *string           `json:"isrc,omitempty"`
	ReleaseDate *string           `json:"release_date,omitempty"`
	Genre       *string           `json:"genre,omitempty"`
	Language    *string           `json:"language,omitempty"`
	Explicit    bool              `json:"explicit"`
	Thumbnails  Thumbnails        `json:"thumbnails"`
	External    map[string]string `json:"external,omitempty"`
}

// CreateSourceInput is the payload for attaching a source to an item.
type CreateSourceInput struct {
	Kind           SourceKind   `json:"kind"`
	URL            *string      `json:"url,omitempty"`
	StorageKey     *string      `json:"storage_key,omitempty"`
	License        string       `json:"license"`
	Bitrate        int          `json:"bitrate"`
	Format         string       `json:"format"`
	HLSManifestURL *string      `json:"hls_manifest_url,omitempty"`
	Status         SourceStatus `json:"status"`
	UploadedBy     *string      `json:"uploaded_by,omitempty"`
}

// CreateMatchInput is the payload for recording a content match.
type CreateMatchInput struct {
	ExternalID       string  `json:"external_id"`
	ExternalPlatform string  `json:"external_platform"`
	ContentItemID    string  `json:"content_item_id"`
	SourceID         *string `json:"source_id,omitempty"`
}
