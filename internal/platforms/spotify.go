package platforms

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
)

// spotifyScopes are requested when a user connects Spotify.
var spotifyScopes = []string{
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopeUserReadEmail,
	spotifyauth.ScopeUserLibraryRead,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistReadCollaborative,
	spotifyauth.ScopeUserTopRead,
	spotifyauth.ScopeUserReadRecentlyPlayed,
}

const spotifyRecentLimit = 20

// SpotifyClient reads a user's Spotify data through the Web API.
type SpotifyClient struct {
	client *spotify.Client
}

// NewSpotifyClient wraps an authorized HTTP client. baseURL overrides the
// API root when set.
func NewSpotifyClient(httpClient *http.Client, baseURL string) *SpotifyClient {
	var opts []spotify.ClientOption
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, spotify.WithBaseURL(baseURL))
	}
	return &SpotifyClient{client: spotify.New(httpClient, opts...)}
}

// SearchTracks searches the Spotify catalog.
func (c *SpotifyClient) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	result, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, err
	}
	if result.Tracks == nil {
		return []Track{}, nil
	}
	return convertFullTracks(result.Tracks.Tracks), nil
}

// LikedTracks returns saved tracks. The cursor is a numeric offset.
func (c *SpotifyClient) LikedTracks(ctx context.Context, limit int, cursor string) (TrackPage, error) {
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 0 {
			return TrackPage{}, errors.New("invalid spotify cursor")
		}
		offset = parsed
	}

	page, err := c.client.CurrentUsersTracks(ctx, spotify.Limit(limit), spotify.Offset(offset))
	if err != nil {
		return TrackPage{}, err
	}

	tracks := make([]Track, 0, len(page.Tracks))
	for _, saved := range page.Tracks {
		tracks = append(tracks, convertFullTrack(saved.FullTrack))
	}
	result := TrackPage{Tracks: tracks}
	if page.Next != "" {
		result.Next = strconv.Itoa(offset + len(page.Tracks))
	}
	return result, nil
}

// Playlists returns the user's playlists.
func (c *SpotifyClient) Playlists(ctx context.Context, limit int) ([]Playlist, error) {
	page, err := c.client.CurrentUsersPlaylists(ctx, spotify.Limit(limit))
	if err != nil {
		return nil, err
	}
	playlists := make([]Playlist, 0, len(page.Playlists))
	for _, playlist := range page.Playlists {
		artwork := ""
		if len(playlist.Images) > 0 {
			artwork = playlist.Images[0].URL
		}
		playlists = append(playlists, Playlist{
			Platform:    TrackPlatformSpotify,
			ID:          string(playlist.ID),
			Name:        playlist.Name,
			Description: playlist.Description,
			Owner:       playlist.Owner.DisplayName,
			ArtworkURL:  artwork,
			TrackCount:  int(playlist.Tracks.Total),
			Public:      playlist.IsPublic,
		})
	}
	return playlists, nil
}

// PlaylistTracks returns the first tracks of a playlist.
func (c *SpotifyClient) PlaylistTracks(ctx context.Context, playlistID string, limit int) ([]Track, error) {
	page, err := c.client.GetPlaylistTracks(ctx, spotify.ID(playlistID), spotify.Limit(limit))
	if err != nil {
		return nil, err
	}
	tracks := make([]Track, 0, len(page.Tracks))
	for _, item := range page.Tracks {
		if item.Track.ID == "" {
			continue
		}
		tracks = append(tracks, convertFullTrack(item.Track))
	}
	return tracks, nil
}

// GetTrack fetches one track.
func (c *SpotifyClient) GetTrack(ctx context.Context, id string) (*Track, error) {
	track, err := c.client.GetTrack(ctx, spotify.ID(id))
	if err != nil {
		var apiErr spotify.Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrTrackNotFound
		}
		return nil, err
	}
	converted := convertFullTrack(*track)
	return &converted, nil
}

// Profile returns the authorizing Spotify account.
func (c *SpotifyClient) Profile(ctx context.Context) (Profile, error) {
	user, err := c.client.CurrentUser(ctx)
	if err != nil {
		return Profile{}, err
	}
	name := user.DisplayName
	if name == "" {
		name = user.ID
	}
	return Profile{ID: user.ID, DisplayName: name}, nil
}

// TopTracks returns the user's most played tracks.
func (c *SpotifyClient) TopTracks(ctx context.Context, limit int) ([]Track, error) {
	page, err := c.client.CurrentUsersTopTracks(ctx, spotify.Limit(limit))
	if err != nil {
		return nil, err
	}
	return convertFullTracks(page.Tracks), nil
}

// RecentlyPlayed returns the latest plays.
func (c *SpotifyClient) RecentlyPlayed(ctx context.Context) ([]Track, error) {
	items, err := c.client.PlayerRecentlyPlayedOpt(ctx, &spotify.RecentlyPlayedOptions{Limit: spotifyRecentLimit})
	if err != nil {
		return nil, err
	}
	tracks := make([]Track, 0, len(items))
	for _, item := range items {
		tracks = append(tracks, convertSimpleTrack(item.Track))
	}
	return tracks, nil
}

// Recommendations returns tracks seeded from seedTrackIDs (at most five).
func (c *SpotifyClient) Recommendations(ctx context.Context, seedTrackIDs []string, limit int) ([]Track, error) {
	if len(seedTrackIDs) == 0 {
		return []Track{}, nil
	}
	if len(seedTrackIDs) > 5 {
		seedTrackIDs = seedTrackIDs[:5]
	}
	seeds := spotify.Seeds{}
	for _, id := range seedTrackIDs {
		seeds.Tracks = append(seeds.Tracks, spotify.ID(id))
	}
	recs, err := c.client.GetRecommendations(ctx, seeds, nil, spotify.Limit(limit))
	if err != nil {
		return nil, err
	}
	tracks := make([]Track, 0, len(recs.Tracks))
	for _, track := range recs.Tracks {
		tracks = append(tracks, convertSimpleTrack(track))
	}
	return tracks, nil
}

func convertFullTracks(tracks []spotify.FullTrack) []Track {
	result := make([]Track, 0, len(tracks))
	for _, track := range tracks {
		result = append(result, convertFullTrack(track))
	}
	return result
}

func convertFullTrack(track spotify.FullTrack) Track {
	converted := convertSimpleTrack(track.SimpleTrack)
	converted.Album = track.Album.Name
	if len(track.Album.Images) > 0 {
		converted.ArtworkURL = track.Album.Images[0].URL
	}
	converted.ISRC = track.ExternalIDs["isrc"]
	return converted
}

func convertSimpleTrack(track spotify.SimpleTrack) Track {
	artists := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
	}
	id := string(track.ID)
	return Track{
		Platform:    TrackPlatformSpotify,
		ExternalID:  id,
		Title:       track.Name,
		Artists:     artists,
		DurationSec: int(track.Duration) / 1000,
		Explicit:    track.Explicit,
		ExternalURL: SpotifyTrackURL(id),
	}
}

// SpotifyTrackURL is the public web link for a Spotify track.
func SpotifyTrackURL(id string) string {
	return "https://open.spotify.com/track/" + id
}
