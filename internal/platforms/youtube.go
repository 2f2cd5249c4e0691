package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// youtubeScopes are requested when a user connects YouTube Music.
var youtubeScopes = []string{
	"https://www.googleapis.com/auth/youtube.readonly",
}

const youtubeMusicCategory = "10"

// YouTubeClient reads YouTube Data API v3 resources. Requests share a
// process-wide rate limiter.
type YouTubeClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

// NewYouTubeClient creates a client. httpClient carries the user's OAuth
// token; apiKey is used instead for public reads.
func NewYouTubeClient(httpClient *http.Client, baseURL, apiKey string, limiter *rate.Limiter) *YouTubeClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &YouTubeClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    limiter,
	}
}

type youtubeThumbnail struct {
	URL string `json:"url"`
}

type youtubeSnippet struct {
	Title        string                      `json:"title"`
	Description  string                      `json:"description"`
	ChannelID    string                      `json:"channelId"`
	ChannelTitle string                      `json:"channelTitle"`
	PublishedAt  string                      `json:"publishedAt"`
	Thumbnails   map[string]youtubeThumbnail `json:"thumbnails"`
	ResourceID   struct {
		VideoID string `json:"videoId"`
	} `json:"resourceId"`
}

type youtubeVideo struct {
	ID             string         `json:"id"`
	Snippet        youtubeSnippet `json:"snippet"`
	ContentDetails struct {
		Duration      string `json:"duration"`
		ContentRating struct {
			YTRating string `json:"ytRating"`
		} `json:"contentRating"`
	} `json:"contentDetails"`
	Statistics struct {
		ViewCount string `json:"viewCount"`
	} `json:"statistics"`
}

type youtubeVideoList struct {
	Items         []youtubeVideo `json:"items"`
	NextPageToken string         `json:"nextPageToken"`
}

type youtubeSearchList struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type youtubePlaylistList struct {
	Items []struct {
		ID             string         `json:"id"`
		Snippet        youtubeSnippet `json:"snippet"`
		ContentDetails struct {
			ItemCount int `json:"itemCount"`
		} `json:"contentDetails"`
		Status struct {
			PrivacyStatus string `json:"privacyStatus"`
		} `json:"status"`
	} `json:"items"`
}

type youtubePlaylistItemList struct {
	Items []struct {
		Snippet youtubeSnippet `json:"snippet"`
	} `json:"items"`
}

type youtubeChannelList struct {
	Items []struct {
		ID      string         `json:"id"`
		Snippet youtubeSnippet `json:"snippet"`
	} `json:"items"`
}

// APIError is a non-2xx YouTube Data API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("youtube api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("youtube api error (status %d): %s", e.StatusCode, e.Message)
}

func (c *YouTubeClient) get(ctx context.Context, resource string, params url.Values, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+resource+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error.Message}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func videoParts() string {
	return "snippet,contentDetails,statistics"
}

// SearchTracks searches music videos for query.
func (c *YouTubeClient) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("q", query+" music")
	params.Set("type", "video")
	params.Set("videoCategoryId", youtubeMusicCategory)
	params.Set("maxResults", strconv.Itoa(clampYouTubeLimit(limit)))
	params.Set("order", "relevance")

	var search youtubeSearchList
	if err := c.get(ctx, "search", params, &search); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(search.Items))
	for _, item := range search.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	return c.videos(ctx, ids)
}

// videos fetches details for ids and keeps their order.
func (c *YouTubeClient) videos(ctx context.Context, ids []string) ([]Track, error) {
	if len(ids) == 0 {
		return []Track{}, nil
	}
	params := url.Values{}
	params.Set("part", videoParts())
	params.Set("id", strings.Join(ids, ","))

	var list youtubeVideoList
	if err := c.get(ctx, "videos", params, &list); err != nil {
		return nil, err
	}
	byID := make(map[string]youtubeVideo, len(list.Items))
	for _, video := range list.Items {
		byID[video.ID] = video
	}
	tracks := make([]Track, 0, len(ids))
	for _, id := range ids {
		if video, ok := byID[id]; ok {
			tracks = append(tracks, convertVideo(video))
		}
	}
	return tracks, nil
}

// LikedTracks returns videos the user rated "like". The cursor is a page token.
func (c *YouTubeClient) LikedTracks(ctx context.Context, limit int, cursor string) (TrackPage, error) {
	params := url.Values{}
	params.Set("part", videoParts())
	params.Set("myRating", "like")
	params.Set("maxResults", strconv.Itoa(clampYouTubeLimit(limit)))
	if cursor != "" {
		params.Set("pageToken", cursor)
	}

	var list youtubeVideoList
	if err := c.get(ctx, "videos", params, &list); err != nil {
		return TrackPage{}, err
	}
	tracks := make([]Track, 0, len(list.Items))
	for _, video := range list.Items {
		tracks = append(tracks, convertVideo(video))
	}
	return TrackPage{Tracks: tracks, Next: list.NextPageToken}, nil
}

// Playlists returns the user's playlists.
func (c *YouTubeClient) Playlists(ctx context.Context, limit int) ([]Playlist, error) {
	params := url.Values{}
	params.Set("part", "snippet,contentDetails,status")
	params.Set("mine", "true")
	params.Set("maxResults", strconv.Itoa(clampYouTubeLimit(limit)))

	var list youtubePlaylistList
	if err := c.get(ctx, "playlists", params, &list); err != nil {
		return nil, err
	}
	playlists := make([]Playlist, 0, len(list.Items))
	for _, item := range list.Items {
		playlists = append(playlists, Playlist{
			Platform:    TrackPlatformYouTube,
			ID:          item.ID,
			Name:        item.Snippet.Title,
			Description: item.Snippet.Description,
			Owner:       item.Snippet.ChannelTitle,
			ArtworkURL:  bestThumbnail(item.Snippet.Thumbnails),
			TrackCount:  item.ContentDetails.ItemCount,
			Public:      item.Status.PrivacyStatus == "public",
		})
	}
	return playlists, nil
}

// PlaylistTracks returns the videos of a playlist.
func (c *YouTubeClient) PlaylistTracks(ctx context.Context, playlistID string, limit int) ([]Track, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("playlistId", playlistID)
	params.Set("maxResults", strconv.Itoa(clampYouTubeLimit(limit)))

	var list youtubePlaylistItemList
	if err := c.get(ctx, "playlistItems", params, &list); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		if item.Snippet.ResourceID.VideoID != "" {
			ids = append(ids, item.Snippet.ResourceID.VideoID)
		}
	}
	return c.videos(ctx, ids)
}

// GetTrack fetches one video.
func (c *YouTubeClient) GetTrack(ctx context.Context, id string) (*Track, error) {
	tracks, err := c.videos(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, ErrTrackNotFound
	}
	return &tracks[0], nil
}

// Profile returns the user's channel.
func (c *YouTubeClient) Profile(ctx context.Context) (Profile, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("mine", "true")

	var list youtubeChannelList
	if err := c.get(ctx, "channels", params, &list); err != nil {
		return Profile{}, err
	}
	if len(list.Items) == 0 {
		return Profile{ID: "unknown", DisplayName: "YouTube User"}, nil
	}
	return Profile{ID: list.Items[0].ID, DisplayName: list.Items[0].Snippet.Title}, nil
}

// MostPopular returns the music chart for regionCode (empty for global).
func (c *YouTubeClient) MostPopular(ctx context.Context, regionCode string, limit int) ([]Track, error) {
	params := url.Values{}
	params.Set("part", videoParts())
	params.Set("chart", "mostPopular")
	params.Set("videoCategoryId", youtubeMusicCategory)
	params.Set("maxResults", strconv.Itoa(clampYouTubeLimit(limit)))
	if regionCode != "" {
		params.Set("regionCode", regionCode)
	}

	var list youtubeVideoList
	if err := c.get(ctx, "videos", params, &list); err != nil {
		return nil, err
	}
	tracks := make([]Track, 0, len(list.Items))
	for _, video := range list.Items {
		tracks = append(tracks, convertVideo(video))
	}
	return tracks, nil
}

func clampYouTubeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 50:
		return 50
	}
	return limit
}

func convertVideo(video youtubeVideo) Track {
	artist, title := ParseVideoTitle(video.Snippet.Title)
	if artist == "" {
		artist = strings.TrimSuffix(video.Snippet.ChannelTitle, " - Topic")
	}
	artists := []string{}
	if artist != "" {
		artists = append(artists, artist)
	}
	views, _ := strconv.ParseInt(video.Statistics.ViewCount, 10, 64)
	return Track{
		Platform:     TrackPlatformYouTube,
		ExternalID:   video.ID,
		Title:        title,
		Artists:      artists,
		DurationSec:  ParseISODuration(video.ContentDetails.Duration),
		ArtworkURL:   bestThumbnail(video.Snippet.Thumbnails),
		Explicit:     video.ContentDetails.ContentRating.YTRating == "ytAgeRestricted",
		ExternalURL:  YouTubeVideoURL(video.ID),
		ChannelTitle: video.Snippet.ChannelTitle,
		PublishedAt:  video.Snippet.PublishedAt,
		ViewCount:    views,
	}
}

func bestThumbnail(thumbnails map[string]youtubeThumbnail) string {
	for _, size := range []string{"high", "medium", "default"} {
		if thumb, ok := thumbnails[size]; ok && thumb.URL != "" {
			return thumb.URL
		}
	}
	return ""
}

// YouTubeVideoURL is the public watch link for a video.
func YouTubeVideoURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration converts an ISO-8601 duration such as PT4M13S to
// seconds. Unparseable input yields 0.
func ParseISODuration(value string) int {
	match := isoDurationPattern.FindStringSubmatch(value)
	if match == nil {
		return 0
	}
	total := 0
	for i, unit := range []int{86400, 3600, 60, 1} {
		if match[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(match[i+1])
		if err != nil {
			return 0
		}
		total += n * unit
	}
	return total
}

var titleSeparators = []*regexp.Regexp{
	regexp.MustCompile(`^(.+?)\s*[-–—]\s*(.+)$`),
	regexp.MustCompile(`^(.+?)\s*:\s*(.+)$`),
	regexp.MustCompile(`^(.+?)\s*\|\s*(.+)$`),
	regexp.MustCompile(`^(.+?)\s*•\s*(.+)$`),
}

// ParseVideoTitle splits "Artist - Title" style video titles. The artist
// is empty when no separator is found.
func ParseVideoTitle(title string) (artist, song string) {
	for _, pattern := range titleSeparators {
		if match := pattern.FindStringSubmatch(title); match != nil {
			return strings.TrimSpace(match[1]), strings.TrimSpace(match[2])
		}
	}
	return "", strings.TrimSpace(title)
}
