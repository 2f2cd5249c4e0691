package home

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/strefethen/music-central-go/internal/platforms"
)

// DefaultCacheTTL applies when the configured TTL is not positive.
const DefaultCacheTTL = time.Hour

const (
	maxRecommendationSeeds = 5
	popularRegion          = "US"
)

// SpotifyFeed is the part of the Spotify client the home feed reads.
type SpotifyFeed interface {
	TopTracks(ctx context.Context, limit int) ([]platforms.Track, error)
	RecentlyPlayed(ctx context.Context) ([]platforms.Track, error)
	Recommendations(ctx context.Context, seedTrackIDs []string, limit int) ([]platforms.Track, error)
}

// YouTubeFeed is the part of the YouTube client the home feed reads.
type YouTubeFeed interface {
	MostPopular(ctx context.Context, regionCode string, limit int) ([]platforms.Track, error)
}

// Clients hands out a user's platform clients.
type Clients interface {
	Spotify(ctx context.Context, userID string) (SpotifyFeed, error)
	YouTube(ctx context.Context, userID string) (YouTubeFeed, error)
}

type platformClients struct {
	service *platforms.Service
}

// PlatformClients adapts the platforms service to Clients.
func PlatformClients(service *platforms.Service) Clients {
	return platformClients{service: service}
}

func (p platformClients) Spotify(ctx context.Context, userID string) (SpotifyFeed, error) {
	client, err := p.service.Spotify(ctx, userID)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (p platformClients) YouTube(ctx context.Context, userID string) (YouTubeFeed, error) {
	client, err := p.service.YouTube(ctx, userID)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Service assembles the personalised home feed.
type Service struct {
	clients Clients
	spotify *Cache[SpotifyData]
	youtube *Cache[YouTubeData]
	logger  *log.Logger
}

// NewService creates a home service caching each platform section for ttl.
func NewService(clients Clients, ttl time.Duration, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		clients: clients,
		spotify: NewCache[SpotifyData](ttl),
		youtube: NewCache[YouTubeData](ttl),
		logger:  logger,
	}
}

func spotifyKey(userID string) string { return "spotify-" + userID }
func youtubeKey(userID string) string { return "youtube-" + userID }

// HomeData returns the user's feed. Platform errors never fail the call.
func (s *Service) HomeData(ctx context.Context, userID string) (Data, error) {
	var (
		spotifyData SpotifyData
		youtubeData YouTubeData
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := s.spotify.GetOrFetch(spotifyKey(userID), emptySpotify(), func() (SpotifyData, error) {
			return s.fetchSpotify(gctx, userID)
		})
		s.logFetchError("spotify", userID, err)
		spotifyData = data
		return nil
	})
	g.Go(func() error {
		data, err := s.youtube.GetOrFetch(youtubeKey(userID), emptyYouTube(), func() (YouTubeData, error) {
			return s.fetchYouTube(gctx, userID)
		})
		s.logFetchError("youtube", userID, err)
		youtubeData = data
		return nil
	})
	if err := g.Wait(); err != nil {
		return Data{}, err
	}
	if err := ctx.Err(); err != nil {
		return Data{}, err
	}

	return Data{
		Spotify:           spotifyData,
		YouTube:           youtubeData,
		ContinueListening: mix(spotifyData.RecentlyPlayed, youtubeData.TrendingVideos),
		MadeForYou:        mix(spotifyData.FeaturedPlaylists, youtubeData.PopularMusic),
	}, nil
}

func (s *Service) logFetchError(platform, userID string, err error) {
	if err == nil || isNotConnected(err) {
		return
	}
	s.logger.Warn("home feed fetch failed", "platform", platform, "user_id", userID, "error", err)
}

func isNotConnected(err error) bool {
	return errors.Is(err, platforms.ErrNotConnected) || errors.Is(err, platforms.ErrNotConfigured)
}

// fetchSpotify loads the Spotify sections. A section that fails is left
// empty; the call fails only when every section failed.
func (s *Service) fetchSpotify(ctx context.Context, userID string) (SpotifyData, error) {
	client, err := s.clients.Spotify(ctx, userID)
	if err != nil {
		return SpotifyData{}, err
	}

	data := emptySpotify()
	var topErr, recentErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tracks, err := client.TopTracks(gctx, SectionLimit)
		topErr = err
		data.TopTracks = orEmpty(tracks)
		return nil
	})
	g.Go(func() error {
		tracks, err := client.RecentlyPlayed(gctx)
		recentErr = err
		data.RecentlyPlayed = orEmpty(tracks)
		return nil
	})
	_ = g.Wait()

	var recErr error
	if seeds := seedIDs(data.TopTracks); len(seeds) > 0 {
		tracks, err := client.Recommendations(ctx, seeds, SectionLimit)
		recErr = err
		data.FeaturedPlaylists = orEmpty(tracks)
	}

	if topErr != nil && recentErr != nil {
		return SpotifyData{}, errors.Join(topErr, recentErr)
	}
	for _, err := range []error{topErr, recentErr, recErr} {
		if err != nil {
			s.logger.Warn("spotify home section failed", "user_id", userID, "error", err)
		}
	}
	return data, nil
}

func (s *Service) fetchYouTube(ctx context.Context, userID string) (YouTubeData, error) {
	client, err := s.clients.YouTube(ctx, userID)
	if err != nil {
		return YouTubeData{}, err
	}

	data := emptyYouTube()
	var trendingErr, popularErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tracks, err := client.MostPopular(gctx, "", SectionLimit)
		trendingErr = err
		data.TrendingVideos = orEmpty(tracks)
		return nil
	})
	g.Go(func() error {
		tracks, err := client.MostPopular(gctx, popularRegion, SectionLimit)
		popularErr = err
		data.PopularMusic = orEmpty(tracks)
		return nil
	})
	_ = g.Wait()

	if trendingErr != nil && popularErr != nil {
		return YouTubeData{}, errors.Join(trendingErr, popularErr)
	}
	for _, err := range []error{trendingErr, popularErr} {
		if err != nil {
			s.logger.Warn("youtube home section failed", "user_id", userID, "error", err)
		}
	}
	return data, nil
}

func seedIDs(tracks []platforms.Track) []string {
	seeds := make([]string, 0, maxRecommendationSeeds)
	for _, track := range tracks {
		if track.ExternalID == "" {
			continue
		}
		seeds = append(seeds, track.ExternalID)
		if len(seeds) == maxRecommendationSeeds {
			break
		}
	}
	return seeds
}

// ClearUserCache drops the cached sections for userID.
func (s *Service) ClearUserCache(userID string) {
	s.spotify.Delete(spotifyKey(userID))
	s.youtube.Delete(youtubeKey(userID))
}

// ClearAll drops every cached section.
func (s *Service) ClearAll() {
	s.spotify.Clear()
	s.youtube.Clear()
}
