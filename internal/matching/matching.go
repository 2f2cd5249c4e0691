// Package matching scores how likely an external track and a catalog item
// are the same recording.
package matching

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	TitleWeight          = 0.6
	ArtistWeight         = 0.3
	DurationWeight       = 0.1
	MinScore             = 0.7
	DurationToleranceSec = 3
)

// Query describes an external track being resolved.
type Query struct {
	Title       string
	Artists     []string
	DurationSec int
}

// Candidate is a catalog item considered for a match.
type Candidate struct {
	ID         string
	Title      string
	Artists    []string
	DurationMs int64
}

// Match is the winning candidate of BestMatch.
type Match struct {
	Candidate Candidate
	Index     int
	Score     float64
}

// NormalizeText lowercases s, drops punctuation and collapses whitespace.
// Letters outside ASCII are kept, so "Beyoncé" stays "beyoncé".
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens returns the distinct normalized words of s in order of appearance.
func Tokens(s string) []string {
	fields := strings.Fields(NormalizeText(s))
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		tokens = append(tokens, field)
	}
	return tokens
}

// Similarity is 1 minus the edit distance over the longer string's length.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	longer, shorter := b, a
	if utf8.RuneCountInString(a) > utf8.RuneCountInString(b) {
		longer, shorter = a, b
	}
	longerLen := utf8.RuneCountInString(longer)
	if longerLen == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(longer, shorter)
	return float64(longerLen-distance) / float64(longerLen)
}

// ArtistOverlap is the Jaccard index of the two artist sets.
func ArtistOverlap(a, b []string) float64 {
	left := make(map[string]struct{}, len(a))
	for _, artist := range a {
		left[artist] = struct{}{}
	}
	union := make(map[string]struct{}, len(a)+len(b))
	for artist := range left {
		union[artist] = struct{}{}
	}
	intersection := 0
	counted := make(map[string]struct{}, len(b))
	for _, artist := range b {
		if _, dup := counted[artist]; dup {
			continue
		}
		counted[artist] = struct{}{}
		if _, ok := left[artist]; ok {
			intersection++
		}
		union[artist] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

// DurationMatches reports whether a track length in seconds is within
// DurationToleranceSec of an item length in milliseconds.
func DurationMatches(trackSec int, itemMs int64) bool {
	if trackSec == 0 || itemMs == 0 {
		return false
	}
	diff := int64(trackSec) - itemMs/1000
	if diff < 0 {
		diff = -diff
	}
	return diff <= DurationToleranceSec
}

// Score weighs title similarity, artist overlap and duration agreement.
// Query fields are normalized; candidate artists are compared as stored.
func Score(query Query, candidate Candidate) float64 {
	title := Similarity(NormalizeText(query.Title), NormalizeText(candidate.Title))

	artists := make([]string, 0, len(query.Artists))
	for _, artist := range query.Artists {
		artists = append(artists, NormalizeText(artist))
	}
	overlap := ArtistOverlap(artists, candidate.Artists)

	score := title*TitleWeight + overlap*ArtistWeight
	if DurationMatches(query.DurationSec, candidate.DurationMs) {
		score += DurationWeight
	}
	return score
}

// BestMatch returns the highest scoring candidate above MinScore. Ties keep
// the earlier candidate.
func BestMatch(query Query, candidates []Candidate) (Match, bool) {
	best := Match{Index: -1}
	for i, candidate := range candidates {
		score := Score(query, candidate)
		if score > best.Score && score > MinScore {
			best = Match{Candidate: candidate, Index: i, Score: score}
		}
	}
	return best, best.Index >= 0
}
