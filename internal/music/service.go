package music

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/strefethen/music-central-go/internal/catalog"
	"github.com/strefethen/music-central-go/internal/platforms"
)

const (
	DefaultSearchLimit  = 20
	MaxSearchLimit      = 50
	DefaultHistoryLimit = 50
)

// PlatformClients hands out platform API clients for a user.
type PlatformClients interface {
	SearchClient(ctx context.Context, userID, platform string) (platforms.Client, error)
}

// Service searches every platform and resolves tracks to local sources.
type Service struct {
	catalog *catalog.Repository
	clients PlatformClients
	plays   *PlayRepository
	logger  *log.Logger
}

// NewService creates a music service.
func NewService(dbPair DBPair, catalogRepo *catalog.Repository, clients PlatformClients, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		catalog: catalogRepo,
		clients: clients,
		plays:   NewPlayRepository(dbPair),
		logger:  logger,
	}
}

// SearchTracks queries Spotify, YouTube and the local catalog in parallel
// and returns up to limit resolved tracks. Spotify results come first,
// then YouTube, then local items. A platform that fails contributes no
// results.
func (s *Service) SearchTracks(ctx context.Context, userID, query string, limit int) ([]PlayableTrack, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ValidationError{Message: "query is required", Field: "q"}
	}
	limit = clampLimit(limit, DefaultSearchLimit, MaxSearchLimit)

	var (
		spotifyTracks []platforms.Track
		youtubeTracks []platforms.Track
		ownItems      []catalog.ItemWithSource
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		spotifyTracks = s.searchPlatform(gctx, userID, PlatformSpotify, query, limit)
		return nil
	})
	g.Go(func() error {
		youtubeTracks = s.searchPlatform(gctx, userID, PlatformYouTube, query, limit)
		return nil
	})
	g.Go(func() error {
		items, err := s.catalog.SearchPlayable(query, true, limit)
		if err != nil {
			s.logger.Warn("own catalog search failed", "error", err)
			return nil
		}
		ownItems = items
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]PlayableTrack, 0, len(spotifyTracks)+len(youtubeTracks)+len(ownItems))
	for _, track := range append(spotifyTracks, youtubeTracks...) {
		results = append(results, s.resolve(track))
	}
	for i := range ownItems {
		results = append(results, fromItem(ownItems[i].Item, &ownItems[i].Source))
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Service) searchPlatform(ctx context.Context, userID, platform, query string, limit int) []platforms.Track {
	if s.clients == nil {
		return nil
	}
	client, err := s.clients.SearchClient(ctx, userID, platform)
	if err != nil {
		s.logger.Debug("platform search unavailable", "platform", platform, "error", err)
		return nil
	}
	tracks, err := client.SearchTracks(ctx, query, limit)
	if err != nil {
		s.logger.Warn("platform search failed", "platform", platform, "error", err)
		return nil
	}
	return tracks
}

// resolve never fails: a lookup error leaves the track without a source.
func (s *Service) resolve(track platforms.Track) PlayableTrack {
	res, err := s.ResolvePlayableSource(track)
	if err != nil {
		s.logger.Warn("resolve playable source failed", "platform", track.Platform, "external_id", track.ExternalID, "error", err)
		res = nil
	}
	return fromPlatformTrack(track, res)
}

// GetTrackDetails loads a track by its prefixed id (own_, spotify_ or
// youtube_) and resolves its playable source.
func (s *Service) GetTrackDetails(ctx context.Context, userID, trackID string) (*PlayableTrack, error) {
	prefix, id, ok := strings.Cut(trackID, "_")
	if !ok || id == "" {
		return nil, ErrTrackNotFound
	}

	switch prefix {
	case PlatformOwn:
		item, err := s.catalog.GetItem(id)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, ErrTrackNotFound
		}
		source, err := s.catalog.FirstActiveSource(id)
		if err != nil {
			return nil, err
		}
		track := fromItem(*item, source)
		return &track, nil

	case PlatformSpotify, PlatformYouTube:
		if s.clients == nil {
			return nil, platforms.ErrNotConfigured
		}
		client, err := s.clients.SearchClient(ctx, userID, prefix)
		if err != nil {
			return nil, err
		}
		external, err := client.GetTrack(ctx, id)
		if errors.Is(err, platforms.ErrTrackNotFound) {
			return nil, ErrTrackNotFound
		}
		if err != nil {
			return nil, err
		}
		track := s.resolve(*external)
		return &track, nil
	}
	return nil, ErrTrackNotFound
}

// RecordPlay stores a listening event. The content item is taken from the
// source when only a source is given.
func (s *Service) RecordPlay(ctx context.Context, userID string, input RecordPlayInput) (*Play, error) {
	if input.MsListened < 0 {
		return nil, &ValidationError{Message: "ms_listened must not be negative", Field: "ms_listened"}
	}
	if empty(input.SourceID) && empty(input.ContentItemID) {
		return nil, &ValidationError{Message: "source_id or content_item_id is required", Field: "source_id"}
	}

	if !empty(input.SourceID) {
		source, err := s.catalog.GetSource(*input.SourceID)
		if err != nil {
			return nil, err
		}
		if source == nil {
			return nil, ErrTrackNotFound
		}
		if empty(input.ContentItemID) {
			input.ContentItemID = &source.ContentItemID
		} else if *input.ContentItemID != source.ContentItemID {
			return nil, &ValidationError{Message: "source does not belong to content item", Field: "source_id"}
		}
	} else {
		input.SourceID = nil
	}

	item, err := s.catalog.GetItem(*input.ContentItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrTrackNotFound
	}

	play, err := s.plays.Record(userID, input.ContentItemID, input.SourceID, input.MsListened)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("play recorded", "user_id", userID, "content_item_id", item.ID, "ms_listened", input.MsListened)
	return play, nil
}

// ListeningHistory returns the user's most recent plays of catalog items.
// Plays whose item has been deleted are skipped.
func (s *Service) ListeningHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	limit = clampLimit(limit, DefaultHistoryLimit, 100)
	plays, err := s.plays.ListByUser(userID, limit)
	if err != nil {
		return nil, err
	}

	items := map[string]*catalog.ContentItem{}
	entries := make([]HistoryEntry, 0, len(plays))
	for _, play := range plays {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if play.ContentItemID == nil {
			continue
		}
		item, seen := items[*play.ContentItemID]
		if !seen {
			item, err = s.catalog.GetItem(*play.ContentItemID)
			if err != nil {
				return nil, err
			}
			items[*play.ContentItemID] = item
		}
		if item == nil {
			continue
		}

		var source *catalog.AudioSource
		if play.SourceID != nil {
			source, err = s.catalog.GetSource(*play.SourceID)
			if err != nil {
				return nil, err
			}
		}
		track := fromItem(*item, source)
		track.ResolvedBy = ""
		track.MatchScore = 0
		entries = append(entries, HistoryEntry{Play: play, Track: track})
	}
	return entries, nil
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func empty(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
