package matching

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  Don't   Stop\tMe Now  ", "dont stop me now"},
		{"AC/DC", "acdc"},
		{"snake_case", "snake_case"},
		{"Beyoncé", "beyoncé"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("Love, love me do!")
	if diff := cmp.Diff([]string{"love", "me", "do"}, got); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, Tokens("   "))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("yesterday", "yesterday"))
	assert.Equal(t, 0.0, Similarity("abc", ""))
	assert.InDelta(t, 0.75, Similarity("song", "sing"), 1e-9)
	assert.InDelta(t, Similarity("kitten", "sitting"), Similarity("sitting", "kitten"), 1e-9)
	// Lengths are counted in runes, not bytes.
	assert.InDelta(t, 0.8, Similarity("café!", "cafe!"), 1e-9)
}

func TestArtistOverlap(t *testing.T) {
	assert.Equal(t, 0.0, ArtistOverlap(nil, nil))
	assert.Equal(t, 1.0, ArtistOverlap([]string{"a", "b"}, []string{"b", "a"}))
	assert.InDelta(t, 1.0/3.0, ArtistOverlap([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	assert.Equal(t, 0.0, ArtistOverlap([]string{"a"}, []string{"b"}))
	assert.Equal(t, 1.0, ArtistOverlap([]string{"a", "a"}, []string{"a"}))
}

func TestDurationMatches(t *testing.T) {
	assert.True(t, DurationMatches(200, 200_000))
	assert.True(t, DurationMatches(200, 203_999))
	assert.True(t, DurationMatches(200, 197_000))
	assert.False(t, DurationMatches(200, 204_000))
	assert.False(t, DurationMatches(0, 200_000))
	assert.False(t, DurationMatches(200, 0))
}

func TestScore(t *testing.T) {
	query := Query{Title: "Bohemian Rhapsody", Artists: []string{"Queen"}, DurationSec: 354}

	exact := Candidate{Title: "Bohemian Rhapsody", Artists: []string{"queen"}, DurationMs: 355_000}
	assert.InDelta(t, 1.0, Score(query, exact), 1e-9)

	// Stored artists are not normalized, so a capitalized name does not overlap.
	capitalized := Candidate{Title: "Bohemian Rhapsody", Artists: []string{"Queen"}, DurationMs: 355_000}
	assert.InDelta(t, 0.7, Score(query, capitalized), 1e-9)
}

func TestBestMatch(t *testing.T) {
	query := Query{Title: "Yellow", Artists: []string{"Coldplay"}, DurationSec: 266}
	candidates := []Candidate{
		{ID: "c1", Title: "Yellow Submarine", Artists: []string{"the beatles"}, DurationMs: 160_000},
		{ID: "c2", Title: "Yellow", Artists: []string{"coldplay"}, DurationMs: 269_000},
		{ID: "c3", Title: "Yellow", Artists: []string{"coldplay"}, DurationMs: 266_000},
	}

	match, ok := BestMatch(query, candidates)
	require.True(t, ok)
	want := Match{Candidate: candidates[1], Index: 1, Score: 1.0}
	if diff := cmp.Diff(want, match, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("best match mismatch (-want +got):\n%s", diff)
	}
}

func TestBestMatchThreshold(t *testing.T) {
	query := Query{Title: "Yellow", Artists: []string{"Coldplay"}}

	// Title alone scores 0.6, below the threshold.
	_, ok := BestMatch(query, []Candidate{{ID: "c1", Title: "yellow", Artists: []string{"someone"}}})
	assert.False(t, ok)

	// Exactly 0.7 is not enough either.
	_, ok = BestMatch(Query{Title: "Yellow", Artists: []string{"Coldplay"}, DurationSec: 100},
		[]Candidate{{ID: "c1", Title: "yellow", Artists: []string{"other"}, DurationMs: 100_000}})
	assert.False(t, ok)

	_, ok = BestMatch(query, nil)
	assert.False(t, ok)
}
