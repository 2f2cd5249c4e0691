package catalog

import (
	"errors"
	"strings"

	"github.com/charmbracelet/log"
)

var (
	// ErrItemNotFound is returned when a content item does not exist.
	ErrItemNotFound = errors.New("content item not found")
	// ErrSourceNotFound is returned when a source does not exist.
	ErrSourceNotFound = errors.New("source not found")
	// ErrSourceMismatch is returned when a source belongs to another item.
	ErrSourceMismatch = errors.New("source does not belong to content item")
)

// ValidationError describes invalid catalog input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Service manages the local catalog.
type Service struct {
	repo   *Repository
	logger *log.Logger
}

// NewService creates a catalog service.
func NewService(dbPair DBPair, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{repo: NewRepository(dbPair), logger: logger}
}

// Repository exposes the underlying repository to sibling services.
func (s *Service) Repository() *Repository {
	return s.repo
}

// CreateItem validates and stores a content item.
func (s *Service) CreateItem(input CreateContentItemInput) (*ContentItem, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return nil, &ValidationError{Field: "title", Message: "is required"}
	}
	artists := make([]string, 0, len(input.Artists))
	for _, artist := range input.Artists {
		if trimmed := strings.TrimSpace(artist); trimmed != "" {
			artists = append(artists, trimmed)
		}
	}
	input.Artists = artists
	if input.DurationMs < 0 {
		return nil, &ValidationError{Field: "duration_ms", Message: "must not be negative"}
	}
	return s.repo.CreateItem(input)
}

// DeleteItem removes an item along with its sources.
func (s *Service) DeleteItem(id string) error {
	return s.repo.DeleteItem(id)
}

// GetItem returns an item with its sources.
func (s *Service) GetItem(id string) (*ContentItem, []AudioSource, error) {
	item, err := s.repo.GetItem(id)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, ErrItemNotFound
	}
	sources, err := s.repo.ListSources(id)
	if err != nil {
		return nil, nil, err
	}
	return item, sources, nil
}

// ListItems returns a page of items.
func (s *Service) ListItems(limit, offset int) ([]ContentItem, int, error) {
	return s.repo.ListItems(limit, offset)
}

// AddSource attaches a source to an existing item.
func (s *Service) AddSource(contentItemID string, input CreateSourceInput) (*AudioSource, error) {
	item, err := s.repo.GetItem(contentItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}

	if !input.Kind.IsValid() {
		return nil, &ValidationError{Field: "kind", Message: "must be one of artist_uploaded, open_cc, public_domain, licensed"}
	}
	if input.Status == "" {
		input.Status = SourceStatusPendingReview
	}
	if !input.Status.IsValid() {
		return nil, &ValidationError{Field: "status", Message: "is not a valid source status"}
	}
	if input.License == "" {
		input.License = "commercial"
	}
	if input.Format == "" {
		input.Format = "mp3"
	}

	source, err := s.repo.CreateSource(contentItemID, input)
	if err != nil {
		return nil, err
	}
	s.logger.Info("source added", "content_item_id", contentItemID, "source_id", source.ID, "kind", source.Kind)
	return source, nil
}

// SetSourceStatus moves a source to a new moderation status.
func (s *Service) SetSourceStatus(id string, status SourceStatus) (*AudioSource, error) {
	if !status.IsValid() {
		return nil, &ValidationError{Field: "status", Message: "is not a valid source status"}
	}
	source, err := s.repo.UpdateSourceStatus(id, status)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ErrSourceNotFound
	}
	return source, nil
}

// CreateContentMatch records that an external track is a catalog item. A
// match naming a source is a confirmed manual match; one without is only
// metadata.
func (s *Service) CreateContentMatch(input CreateMatchInput) (*ContentMatch, error) {
	if input.ExternalID == "" {
		return nil, &ValidationError{Field: "external_id", Message: "is required"}
	}
	switch input.ExternalPlatform {
	case ExternalPlatformSpotify, ExternalPlatformYouTube:
	case "":
		return nil, &ValidationError{Field: "external_platform", Message: "is required"}
	default:
		return nil, &ValidationError{Field: "external_platform", Message: "must be spotify or youtube"}
	}

	item, err := s.repo.GetItem(input.ContentItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}

	confidence, method := 0.0, MatchMethodMetadataOnly
	if input.SourceID != nil && *input.SourceID != "" {
		source, err := s.repo.GetSource(*input.SourceID)
		if err != nil {
			return nil, err
		}
		if source == nil {
			return nil, ErrSourceNotFound
		}
		if source.ContentItemID != input.ContentItemID {
			return nil, ErrSourceMismatch
		}
		confidence, method = 1.0, MatchMethodManual
	} else {
		input.SourceID = nil
	}

	return s.repo.UpsertMatch(input, confidence, method)
}

// GetContentMatch returns the match for an external track, or nil.
func (s *Service) GetContentMatch(externalID, platform string) (*ContentMatch, error) {
	return s.repo.GetMatch(externalID, platform)
}
