package uploads

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/strefethen/music-central-go/internal/audit"
	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/catalog"
	"github.com/strefethen/music-central-go/internal/config"
)

// Notifier receives upload progress changes.
type Notifier interface {
	Notify(userID string, progress Progress)
}

// UploadDetails is an upload with the catalog rows it produced.
type UploadDetails struct {
	Upload Upload
	Item   *catalog.ContentItem
	Source *catalog.AudioSource
}

// Service accepts artist uploads and moderates the sources they create.
type Service struct {
	uploads    *UploadsRepository
	jobs       *JobsRepository
	moderation *ModerationRepository
	catalog    *catalog.Service
	storage    *LocalStorage
	signer     *Signer
	notifier   Notifier
	audit      *audit.Service
	logger     *log.Logger
	baseURL    string
	maxBytes   int64
	now        func() time.Time
}

// NewService creates an upload service storing files under
// cfg.UploadStorageDir.
func NewService(cfg config.Config, dbPair DBPair, catalogService *catalog.Service, auditService *audit.Service, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	maxBytes := cfg.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = MaxFileBytes
	}
	return &Service{
		uploads:    NewUploadsRepository(dbPair),
		jobs:       NewJobsRepository(dbPair),
		moderation: NewModerationRepository(dbPair),
		catalog:    catalogService,
		storage:    NewLocalStorage(cfg.UploadStorageDir),
		signer:     NewSigner(cfg.UploadSigningSecret),
		audit:      auditService,
		logger:     logger,
		baseURL:    strings.TrimRight(cfg.AppURL, "/"),
		maxBytes:   maxBytes,
		now:        time.Now,
	}
}

// SetNotifier registers where progress changes are pushed.
func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// Validate returns a ValidationError listing every problem, or nil.
func (s *Service) Validate(file FileInfo, metadata Metadata) error {
	if problems := Validate(file, metadata, s.maxBytes); len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

// StartUpload records a new upload and returns a signed URL the client
// PUTs the file to.
func (s *Service) StartUpload(ctx context.Context, userID string, file FileInfo, metadata Metadata) (*StartResult, error) {
	if err := s.Validate(file, metadata); err != nil {
		return nil, err
	}
	upload, err := s.uploads.Create(userID, file, metadata)
	if err != nil {
		return nil, err
	}
	query, expiresAt := s.signer.Sign(uploadResource(upload.ID), SignedURLTTL)

	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       audit.EventUploadStarted,
		UserID:     audit.Ptr(userID),
		ResourceID: audit.Ptr(upload.ID),
		Message:    "upload started: " + file.Filename,
		Payload:    map[string]any{"file_size": file.Size, "content_type": file.ContentType},
	})
	s.notify(upload)

	return &StartResult{
		Upload:    upload,
		UploadURL: s.baseURL + "/v1/uploads/" + upload.ID + "/file?" + query,
		ExpiresAt: expiresAt,
	}, nil
}

// StoreFile saves the body sent to a signed upload URL.
func (s *Service) StoreFile(uploadID, expires, sig string, body io.Reader) (*Upload, error) {
	if err := s.signer.Verify(uploadResource(uploadID), expires, sig); err != nil {
		return nil, err
	}
	upload, err := s.uploads.Get(uploadID)
	if err != nil {
		return nil, err
	}
	if upload == nil {
		return nil, ErrUploadNotFound
	}
	if upload.Status != StatusUploading {
		return nil, ErrInvalidState
	}

	written, err := s.storage.Save(upload.StorageKey, body, s.maxBytes)
	if err != nil {
		return nil, err
	}
	if err := s.uploads.SetFileSize(uploadID, written); err != nil {
		return nil, err
	}
	s.logger.Debug("upload file stored", "upload_id", uploadID, "bytes", written)
	return s.uploads.Get(uploadID)
}

// CompleteUpload queues a received upload for processing.
func (s *Service) CompleteUpload(ctx context.Context, userID, uploadID string) (*Upload, error) {
	upload, err := s.owned(userID, uploadID)
	if err != nil {
		return nil, err
	}
	if upload.Status != StatusUploading {
		return nil, ErrInvalidState
	}
	exists, err := s.storage.Exists(upload.StorageKey)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrFileMissing
	}

	if err := s.uploads.SetStatus(uploadID, StatusProcessing, nil); err != nil {
		return nil, err
	}
	job, err := s.jobs.Create(uploadID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("upload queued for processing", "upload_id", uploadID, "job_id", job.ID)

	upload, err = s.uploads.Get(uploadID)
	if err != nil {
		return nil, err
	}
	s.notify(upload)
	return upload, nil
}

// Progress reports how far along the user's upload is.
func (s *Service) Progress(userID, uploadID string) (Progress, error) {
	upload, err := s.owned(userID, uploadID)
	if err != nil {
		return Progress{}, err
	}
	return progressOf(upload), nil
}

// ListUserUploads returns the user's uploads newest first, with the
// content item and source each produced.
func (s *Service) ListUserUploads(userID string) ([]UploadDetails, error) {
	uploads, err := s.uploads.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	repo := s.catalog.Repository()
	details := make([]UploadDetails, 0, len(uploads))
	for _, upload := range uploads {
		detail := UploadDetails{Upload: upload}
		if upload.ContentItemID != nil {
			if detail.Item, err = repo.GetItem(*upload.ContentItemID); err != nil {
				return nil, err
			}
		}
		if upload.SourceID != nil {
			if detail.Source, err = repo.GetSource(*upload.SourceID); err != nil {
				return nil, err
			}
		}
		details = append(details, detail)
	}
	return details, nil
}

// Approve makes an uploaded source playable.
func (s *Service) Approve(ctx context.Context, sourceID string, admin auth.User) (*catalog.AudioSource, error) {
	if !admin.IsAdmin() {
		return nil, ErrAdminRequired
	}
	source, err := s.catalog.SetSourceStatus(sourceID, catalog.SourceStatusActive)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       audit.EventSourceApproved,
		UserID:     audit.Ptr(admin.ID),
		ResourceID: audit.Ptr(sourceID),
		Message:    "source approved",
	})
	return source, nil
}

// Reject blocks an uploaded source and files a resolved report. The
// upload that produced it is marked rejected.
func (s *Service) Reject(ctx context.Context, sourceID string, admin auth.User, reason string) (*catalog.AudioSource, error) {
	if !admin.IsAdmin() {
		return nil, ErrAdminRequired
	}
	source, err := s.catalog.SetSourceStatus(sourceID, catalog.SourceStatusBlocked)
	if err != nil {
		return nil, err
	}
	if _, err := s.moderation.CreateResolvedReport(sourceID, admin.ID, reason); err != nil {
		return nil, err
	}

	upload, err := s.uploads.GetBySourceID(sourceID)
	if err != nil {
		return nil, err
	}
	if upload != nil {
		if err := s.uploads.SetStatus(upload.ID, StatusRejected, &reason); err != nil {
			return nil, err
		}
		upload.Status = StatusRejected
		upload.Error = &reason
		s.notify(upload)
	}

	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       audit.EventSourceRejected,
		Level:      audit.EventLevelWarn,
		UserID:     audit.Ptr(admin.ID),
		ResourceID: audit.Ptr(sourceID),
		Message:    "source rejected",
		Payload:    map[string]any{"reason": reason},
	})
	return source, nil
}

// AudioURL returns a playback URL for a stored file, valid for an hour.
func (s *Service) AudioURL(storageKey string) (string, time.Time) {
	query, expiresAt := s.signer.Sign(mediaResource(storageKey), SignedURLTTL)
	segments := strings.Split(storageKey, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return s.baseURL + "/v1/media/" + strings.Join(segments, "/") + "?" + query, expiresAt
}

// SourceAudioURL signs a playback URL for a source. Sources still under
// review are visible only to their uploader and admins.
func (s *Service) SourceAudioURL(sourceID string, user auth.User) (string, time.Time, error) {
	source, err := s.catalog.Repository().GetSource(sourceID)
	if err != nil {
		return "", time.Time{}, err
	}
	if source == nil || source.StorageKey == nil {
		return "", time.Time{}, catalog.ErrSourceNotFound
	}
	if source.Status != catalog.SourceStatusActive && !user.IsAdmin() &&
		(source.UploadedBy == nil || *source.UploadedBy != user.ID) {
		return "", time.Time{}, catalog.ErrSourceNotFound
	}
	url, expiresAt := s.AudioURL(*source.StorageKey)
	return url, expiresAt, nil
}

// OpenMedia opens a stored file after checking its playback signature.
func (s *Service) OpenMedia(storageKey, expires, sig string) (*os.File, error) {
	if err := s.signer.Verify(mediaResource(storageKey), expires, sig); err != nil {
		return nil, err
	}
	file, err := s.storage.Open(storageKey)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrUploadNotFound
	}
	return file, err
}

// FailAbandoned fails uploads that never received their file.
func (s *Service) FailAbandoned(ctx context.Context, olderThan time.Duration) error {
	count, err := s.uploads.FailStale(olderThan, s.now())
	if err != nil {
		return err
	}
	if count > 0 {
		s.logger.Info("abandoned uploads failed", "count", count)
	}
	return nil
}

func (s *Service) owned(userID, uploadID string) (*Upload, error) {
	upload, err := s.uploads.Get(uploadID)
	if err != nil {
		return nil, err
	}
	if upload == nil || upload.UserID != userID {
		return nil, ErrUploadNotFound
	}
	return upload, nil
}

func (s *Service) notify(upload *Upload) {
	if s.notifier == nil || upload == nil {
		return
	}
	s.notifier.Notify(upload.UserID, progressOf(upload))
}

func progressOf(upload *Upload) Progress {
	return Progress{
		UploadID: upload.ID,
		Status:   upload.Status,
		Progress: ProgressFor(upload.Status),
		Error:    upload.Error,
	}
}

func uploadResource(uploadID string) string {
	return "upload:" + uploadID
}

func mediaResource(storageKey string) string {
	return "media:" + storageKey
}
