package home

import "github.com/strefethen/music-central-go/internal/platforms"

const (
	// SectionLimit is the number of tracks fetched per home section.
	SectionLimit = 20
	// mixPerPlatform is how many tracks each platform contributes to a mix.
	mixPerPlatform = 6
	mixLimit       = 12
)

// SpotifyData is the Spotify part of the home feed.
type SpotifyData struct {
	TopTracks         []platforms.Track
	NewReleases       []platforms.Track
	FeaturedPlaylists []platforms.Track
	Trending          []platforms.Track
	RecentlyPlayed    []platforms.Track
}

// YouTubeData is the YouTube part of the home feed.
type YouTubeData struct {
	TrendingVideos []platforms.Track
	PopularMusic   []platforms.Track
	NewReleases    []platforms.Track
	TopCharts      []platforms.Track
}

// Data is the assembled home feed for one user.
type Data struct {
	Spotify           SpotifyData
	YouTube           YouTubeData
	ContinueListening []platforms.Track
	MadeForYou        []platforms.Track
}

func emptySpotify() SpotifyData {
	return SpotifyData{
		TopTracks:         []platforms.Track{},
		NewReleases:       []platforms.Track{},
		FeaturedPlaylists: []platforms.Track{},
		Trending:          []platforms.Track{},
		RecentlyPlayed:    []platforms.Track{},
	}
}

func emptyYouTube() YouTubeData {
	return YouTubeData{
		TrendingVideos: []platforms.Track{},
		PopularMusic:   []platforms.Track{},
		NewReleases:    []platforms.Track{},
		TopCharts:      []platforms.Track{},
	}
}

// mix takes up to mixPerPlatform tracks from each list, capped at mixLimit.
func mix(first, second []platforms.Track) []platforms.Track {
	out := make([]platforms.Track, 0, mixLimit)
	out = append(out, head(first, mixPerPlatform)...)
	out = append(out, head(second, mixPerPlatform)...)
	if len(out) > mixLimit {
		out = out[:mixLimit]
	}
	return out
}

func head(tracks []platforms.Track, n int) []platforms.Track {
	if len(tracks) > n {
		return tracks[:n]
	}
	return tracks
}

func orEmpty(tracks []platforms.Track) []platforms.Track {
	if tracks == nil {
		return []platforms.Track{}
	}
	return tracks
}
