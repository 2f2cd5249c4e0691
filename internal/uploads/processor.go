package uploads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/strefethen/music-central-go/internal/audit"
	"github.com/strefethen/music-central-go/internal/catalog"
)

const (
	// DefaultPollInterval is the default interval between job polls.
	DefaultPollInterval = 2 * time.Second

	// StaleJobTimeout is how long a claimed job may run before it is
	// handed back to the queue.
	StaleJobTimeout = 5 * time.Minute

	// MaxPendingJobs is the maximum number of pending jobs fetched per poll.
	MaxPendingJobs = 20
)

// Processor polls for pending processing jobs and turns finished uploads
// into catalog items and sources.
type Processor struct {
	service      *Service
	logger       *log.Logger
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	stopOnce     sync.Once
}

// NewProcessor creates a processor for service's jobs.
func NewProcessor(service *Service, pollInterval time.Duration, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Processor{
		service:      service,
		logger:       logger,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start recovers stale jobs and begins polling in a goroutine.
func (p *Processor) Start() {
	p.logger.Info("upload processor starting", "poll_interval", p.pollInterval)

	if count, err := p.service.jobs.ResetStale(StaleJobTimeout); err != nil {
		p.logger.Error("recover stale jobs", "error", err)
	} else if count > 0 {
		p.logger.Warn("stale processing jobs requeued", "count", count)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runPollLoop()
	}()
}

// Stop signals the polling loop and waits for the current job to finish.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("upload processor stopped")
}

func (p *Processor) runPollLoop() {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	p.RunOnce(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce processes the jobs pending right now and returns how many it
// handled.
func (p *Processor) RunOnce(ctx context.Context) int {
	jobs, err := p.service.jobs.GetPending(MaxPendingJobs)
	if err != nil {
		p.logger.Error("fetch pending jobs", "error", err)
		return 0
	}

	handled := 0
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		job := &jobs[i]
		if err := p.service.jobs.Claim(job.ID); err != nil {
			if !errors.Is(err, ErrJobAlreadyClaimed) {
				p.logger.Error("claim job", "job_id", job.ID, "error", err)
			}
			continue
		}
		handled++
		p.execute(ctx, job)
	}
	return handled
}

func (p *Processor) execute(ctx context.Context, job *Job) {
	s := p.service
	upload, err := s.uploads.Get(job.UploadID)
	if err == nil && upload == nil {
		err = ErrUploadNotFound
	}
	if err == nil {
		err = p.createContent(upload)
	}

	if err != nil {
		p.fail(ctx, job, upload, err)
		return
	}

	if err := s.jobs.Complete(job.ID); err != nil {
		p.logger.Warn("mark job completed", "job_id", job.ID, "error", err)
	}
	if err := s.uploads.SetStatus(upload.ID, StatusCompleted, nil); err != nil {
		p.logger.Error("mark upload completed", "upload_id", upload.ID, "error", err)
		return
	}
	upload.Status = StatusCompleted
	s.notify(upload)

	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       audit.EventUploadCompleted,
		UserID:     audit.Ptr(upload.UserID),
		ResourceID: audit.Ptr(upload.ID),
		Message:    "upload processed",
		Payload:    map[string]any{"job_id": job.ID},
	})
	p.logger.Info("upload processed", "upload_id", upload.ID, "job_id", job.ID)
}

// createContent reads the stored file and creates the content item, the
// pending-review source and its license. An upload that already has a
// content item is left alone. A failure after the item is created removes
// the item again.
func (p *Processor) createContent(upload *Upload) error {
	s := p.service
	if upload.ContentItemID != nil {
		return nil
	}
	durationMs, err := p.readDurationMs(upload)
	if err != nil {
		return err
	}

	metadata := upload.Metadata
	title := strings.TrimSpace(metadata.Title)
	if title == "" {
		title = "Untitled"
	}
	artists := metadata.Artists
	if len(artists) == 0 {
		artists = []string{"Unknown Artist"}
	}

	item, err := s.catalog.CreateItem(catalog.CreateContentItemInput{
		Title:       title,
		Artists:     artists,
		Album:       metadata.Album,
		DurationMs:  durationMs,
		ISRC:        metadata.ISRC,
		ReleaseDate: metadata.ReleaseDate,
		Genre:       metadata.Genre,
		Language:    metadata.Language,
		Explicit:    metadata.Explicit,
	})
	if err != nil {
		return fmt.Errorf("create content item: %w", err)
	}
	if err := p.attachSource(upload, item.ID, durationMs); err != nil {
		if delErr := s.catalog.DeleteItem(item.ID); delErr != nil {
			p.logger.Error("remove partial content item", "content_item_id", item.ID, "error", delErr)
		}
		return err
	}
	return nil
}

func (p *Processor) attachSource(upload *Upload, itemID string, durationMs int64) error {
	s := p.service
	metadata := upload.Metadata
	license := metadata.License
	if license == "" {
		license = "commercial"
	}
	storageKey := upload.StorageKey
	uploadedBy := upload.UserID
	source, err := s.catalog.AddSource(itemID, catalog.CreateSourceInput{
		Kind:       catalog.SourceKindArtistUploaded,
		StorageKey: &storageKey,
		License:    license,
		Bitrate:    UploadBitrate,
		Format:     "mp3",
		Status:     catalog.SourceStatusPendingReview,
		UploadedBy: &uploadedBy,
	})
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	if metadata.LicenseType != "" {
		if _, err := s.moderation.CreateLicense(source.ID, metadata.LicenseType, metadata.Attribution, metadata.CommercialUse); err != nil {
			return fmt.Errorf("create license: %w", err)
		}
	}
	return s.uploads.SetResult(upload.ID, itemID, source.ID, durationMs)
}

func (p *Processor) readDurationMs(upload *Upload) (int64, error) {
	file, err := p.service.storage.Open(upload.StorageKey)
	if err != nil {
		return 0, fmt.Errorf("open upload file: %w", err)
	}
	defer file.Close()

	if upload.ContentType != "audio/wav" {
		return 0, nil
	}
	duration, err := ReadWAVDuration(file)
	if err != nil {
		return 0, err
	}
	return duration.Milliseconds(), nil
}

func (p *Processor) fail(ctx context.Context, job *Job, upload *Upload, cause error) {
	s := p.service
	message := cause.Error()
	p.logger.Error("upload processing failed", "job_id", job.ID, "upload_id", job.UploadID, "error", cause)

	if err := s.jobs.Fail(job.ID, message); err != nil {
		p.logger.Error("mark job failed", "job_id", job.ID, "error", err)
	}
	if upload == nil {
		return
	}
	if err := s.uploads.SetStatus(upload.ID, StatusFailed, &message); err != nil {
		p.logger.Error("mark upload failed", "upload_id", upload.ID, "error", err)
	}
	upload.Status = StatusFailed
	upload.Error = &message
	s.notify(upload)

	s.audit.Record(ctx, audit.WriteEventInput{
		Type:       audit.EventUploadFailed,
		Level:      audit.EventLevelError,
		UserID:     audit.Ptr(upload.UserID),
		ResourceID: audit.Ptr(upload.ID),
		Message:    message,
	})
}
