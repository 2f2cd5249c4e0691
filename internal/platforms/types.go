package platforms

import (
	"context"
	"errors"
	"strings"

	"github.com/strefethen/music-central-go/internal/subscriptions"
)

// Track platforms as they appear on tracks and content matches.
const (
	TrackPlatformSpotify = "spotify"
	TrackPlatformYouTube = "youtube"
)

var (
	// ErrNotConnected is returned when the user has no active tokens for a platform.
	ErrNotConnected = errors.New("platform not connected")
	// ErrUnsupportedPlatform is returned for platforms without an integration.
	ErrUnsupportedPlatform = errors.New("platform not supported")
	// ErrNotConfigured is returned when OAuth credentials are missing.
	ErrNotConfigured = errors.New("platform not configured")
	// ErrPlatformLimit is returned when the user's tier allows no more connections.
	ErrPlatformLimit = errors.New("platform limit reached")
	// ErrInvalidState is returned when an OAuth state is unknown or expired.
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrTrackNotFound is returned when a platform has no such track.
	ErrTrackNotFound = errors.New("track not found")
)

// Track is a platform track in a shape shared by every integration.
type Track struct {
	Platform     string
	ExternalID   string
	Title        string
	Artists      []string
	Album        string
	DurationSec  int
	ArtworkURL   string
	ISRC         string
	Explicit     bool
	ExternalURL  string
	ChannelTitle string
	PublishedAt  string
	ViewCount    int64
}

// Playlist is a user playlist on a platform.
type Playlist struct {
	Platform    string
	ID          string
	Name        string
	Description string
	Owner       string
	ArtworkURL  string
	TrackCount  int
	Public      bool
}

// Profile identifies the account that granted access.
type Profile struct {
	ID          string
	DisplayName string
}

// TrackPage is a page of tracks plus the cursor for the next one.
type TrackPage struct {
	Tracks []Track
	Next   string
}

// Client is the read API every connected platform offers.
type Client interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]Track, error)
	LikedTracks(ctx context.Context, limit int, cursor string) (TrackPage, error)
	Playlists(ctx context.Context, limit int) ([]Playlist, error)
	PlaylistTracks(ctx context.Context, playlistID string, limit int) ([]Track, error)
	GetTrack(ctx context.Context, id string) (*Track, error)
	Profile(ctx context.Context) (Profile, error)
}

// ConnectionStatus is a user's link state for one platform.
type ConnectionStatus struct {
	Platform        string
	Connected       bool
	ServiceUserID   *string
	ServiceUsername *string
}

// CanonicalPlatform maps route and track names to connection ids.
func CanonicalPlatform(name string) (string, error) {
	switch strings.ToLower(name) {
	case subscriptions.PlatformSpotify:
		return subscriptions.PlatformSpotify, nil
	case subscriptions.PlatformYouTubeMusic, TrackPlatformYouTube:
		return subscriptions.PlatformYouTubeMusic, nil
	}
	return "", ErrUnsupportedPlatform
}

// shortName is the name used in redirect error codes.
func shortName(platformID string) string {
	if platformID == subscriptions.PlatformYouTubeMusic {
		return TrackPlatformYouTube
	}
	return platformID
}
