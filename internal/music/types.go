package music

import (
	"errors"
	"time"

	"github.com/strefethen/music-central-go/internal/catalog"
)

// Platforms reported on playable tracks.
const (
	PlatformOwn     = "own"
	PlatformSpotify = "spotify"
	PlatformYouTube = "youtube"
)

// ErrTrackNotFound is returned for unknown or malformed track ids.
var ErrTrackNotFound = errors.New("track not found")

// ResolveMethod records which step found a playable source.
type ResolveMethod string

const (
	ResolveContentMatch ResolveMethod = "content_match"
	ResolveISRC         ResolveMethod = "isrc"
	ResolveFuzzy        ResolveMethod = "fuzzy"
	ResolveOwn          ResolveMethod = "own"
)

// PlayableTrack is a track from any platform plus the local source that
// can play it, if one was found.
type PlayableTrack struct {
	ID                 string
	Title              string
	Artists            []string
	Album              string
	Duration           int
	Artwork            string
	PlayableSource     *catalog.AudioSource
	ContentItemID      string
	ResolvedBy         ResolveMethod
	MatchScore         float64
	SpotifyID          string
	YouTubeVideoID     string
	SpotifyURL         string
	YouTubeURL         string
	Genre              string
	ISRC               string
	Explicit           bool
	AvailablePlatforms []string
	PrimaryPlatform    string
}

// Resolution is the outcome of ResolvePlayableSource.
type Resolution struct {
	Source        *catalog.AudioSource
	ContentItemID string
	Method        ResolveMethod
	Score         float64
}

// Play is one listening event.
type Play struct {
	ID            string
	UserID        string
	ContentItemID *string
	SourceID      *string
	Platform      string
	MsListened    int64
	Completed     bool
	StartedAt     time.Time
}

// RecordPlayInput is the payload for recording a play.
type RecordPlayInput struct {
	SourceID      *string `json:"source_id,omitempty"`
	ContentItemID *string `json:"content_item_id,omitempty"`
	MsListened    int64   `json:"ms_listened"`
}

// HistoryEntry is a play with the track it refers to.
type HistoryEntry struct {
	Play  Play
	Track PlayableTrack
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	return e.Message
}
