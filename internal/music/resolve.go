package music

import (
	"github.com/strefethen/music-central-go/internal/catalog"
	"github.com/strefethen/music-central-go/internal/matching"
	"github.com/strefethen/music-central-go/internal/platforms"
)

// fuzzyCandidateLimit bounds the catalog rows scored per fuzzy lookup.
const fuzzyCandidateLimit = 50

// ResolvePlayableSource finds an active local source for an external
// track. An explicit content match wins; when it names a source that is no
// longer active nothing is returned. Otherwise the ISRC is tried, then a
// fuzzy title, artist and duration match. A nil Resolution means no source.
func (s *Service) ResolvePlayableSource(track platforms.Track) (*Resolution, error) {
	if track.ExternalID != "" && (track.Platform == platforms.TrackPlatformSpotify || track.Platform == platforms.TrackPlatformYouTube) {
		match, err := s.catalog.GetMatch(track.ExternalID, track.Platform)
		if err != nil {
			return nil, err
		}
		if match != nil && match.SourceID != nil {
			source, err := s.catalog.GetActiveSource(*match.SourceID)
			if err != nil || source == nil {
				return nil, err
			}
			return &Resolution{
				Source:        source,
				ContentItemID: source.ContentItemID,
				Method:        ResolveContentMatch,
				Score:         match.MatchConfidence,
			}, nil
		}
	}

	if track.ISRC != "" {
		found, err := s.catalog.FindPlayableByISRC(track.ISRC)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return &Resolution{Source: &found.Source, ContentItemID: found.Item.ID, Method: ResolveISRC, Score: 1}, nil
		}
	}

	return s.fuzzyResolve(track)
}

func (s *Service) fuzzyResolve(track platforms.Track) (*Resolution, error) {
	candidates, err := s.catalog.SearchPlayable(track.Title, false, fuzzyCandidateLimit)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}

	scored := make([]matching.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		scored = append(scored, matching.Candidate{
			ID:         candidate.Item.ID,
			Title:      candidate.Item.Title,
			Artists:    candidate.Item.Artists,
			DurationMs: candidate.Item.DurationMs,
		})
	}
	best, ok := matching.BestMatch(matching.Query{
		Title:       track.Title,
		Artists:     track.Artists,
		DurationSec: track.DurationSec,
	}, scored)
	if !ok {
		return nil, nil
	}
	winner := candidates[best.Index]
	return &Resolution{Source: &winner.Source, ContentItemID: winner.Item.ID, Method: ResolveFuzzy, Score: best.Score}, nil
}

// fromPlatformTrack builds a playable track from an external track and
// its resolution.
func fromPlatformTrack(track platforms.Track, res *Resolution) PlayableTrack {
	playable := PlayableTrack{
		ID:              track.Platform + "_" + track.ExternalID,
		Title:           track.Title,
		Artists:         nonNil(track.Artists),
		Album:           track.Album,
		Duration:        track.DurationSec,
		Artwork:         track.ArtworkURL,
		ISRC:            track.ISRC,
		Explicit:        track.Explicit,
		PrimaryPlatform: track.Platform,
	}
	switch track.Platform {
	case platforms.TrackPlatformSpotify:
		playable.SpotifyID = track.ExternalID
		playable.SpotifyURL = platforms.SpotifyTrackURL(track.ExternalID)
	case platforms.TrackPlatformYouTube:
		playable.YouTubeVideoID = track.ExternalID
		playable.YouTubeURL = platforms.YouTubeVideoURL(track.ExternalID)
	}
	if res != nil {
		playable.PlayableSource = res.Source
		playable.ContentItemID = res.ContentItemID
		playable.ResolvedBy = res.Method
		playable.MatchScore = res.Score
		playable.PrimaryPlatform = PlatformOwn
	}
	playable.AvailablePlatforms = availablePlatforms(playable)
	return playable
}

// fromItem builds a playable track for a catalog item. source may be nil.
func fromItem(item catalog.ContentItem, source *catalog.AudioSource) PlayableTrack {
	playable := PlayableTrack{
		ID:              PlatformOwn + "_" + item.ID,
		Title:           item.Title,
		Artists:         nonNil(item.Artists),
		Album:           deref(item.Album),
		Duration:        int(item.DurationMs / 1000),
		Artwork:         item.Thumbnails.Medium,
		PlayableSource:  source,
		ContentItemID:   item.ID,
		Genre:           deref(item.Genre),
		ISRC:            deref(item.ISRC),
		Explicit:        item.Explicit,
		PrimaryPlatform: PlatformOwn,
	}
	if source != nil {
		playable.ResolvedBy = ResolveOwn
		playable.MatchScore = 1
	}
	playable.AvailablePlatforms = availablePlatforms(playable)
	return playable
}

// availablePlatforms lists own, spotify and youtube in that order.
func availablePlatforms(track PlayableTrack) []string {
	result := []string{}
	if track.PlayableSource != nil {
		result = append(result, PlatformOwn)
	}
	if track.SpotifyID != "" {
		result = append(result, PlatformSpotify)
	}
	if track.YouTubeVideoID != "" {
		result = append(result, PlatformYouTube)
	}
	return result
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
