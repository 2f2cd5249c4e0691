package uploads

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/strefethen/music-central-go/internal/db"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// ErrJobAlreadyClaimed is returned when another worker claimed the job first.
var ErrJobAlreadyClaimed = errors.New("job already claimed")

type scanner interface {
	Scan(dest ...any) error
}

// ==========================================================================
// UploadsRepository
// ==========================================================================

const uploadColumns = `id, user_id, original_filename, file_size, content_type, storage_key, status, error,
	metadata_json, duration_ms, content_item_id, source_id, created_at, updated_at`

// UploadsRepository stores upload records.
type UploadsRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewUploadsRepository creates a new UploadsRepository.
func NewUploadsRepository(dbPair DBPair) *UploadsRepository {
	return &UploadsRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Create inserts an upload in the uploading state. The storage key is
// derived from the new id.
func (r *UploadsRepository) Create(userID string, file FileInfo, metadata Metadata) (*Upload, error) {
	id := uuid.New().String()
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	now := db.NowISO()
	_, err = r.writer.Exec(`
		INSERT INTO uploads (id, user_id, original_filename, file_size, content_type, storage_key, status,
			metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, userID, file.Filename, file.Size, file.ContentType, StorageKey(userID, id, file.Filename),
		string(StatusUploading), string(metadataJSON), now, now)
	if err != nil {
		return nil, err
	}
	return r.Get(id)
}

// Get returns an upload by id, or nil.
func (r *UploadsRepository) Get(id string) (*Upload, error) {
	row := r.reader.QueryRow(`SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	return nilIfNoRows(scanUpload(row))
}

// GetBySourceID returns the upload that produced a source, or nil.
func (r *UploadsRepository) GetBySourceID(sourceID string) (*Upload, error) {
	row := r.reader.QueryRow(`SELECT `+uploadColumns+` FROM uploads WHERE source_id = ?`, sourceID)
	return nilIfNoRows(scanUpload(row))
}

// ListByUser returns the user's uploads, newest first.
func (r *UploadsRepository) ListByUser(userID string) ([]Upload, error) {
	rows, err := r.reader.Query(`
		SELECT `+uploadColumns+`
		FROM uploads
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	uploads := []Upload{}
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, *upload)
	}
	return uploads, rows.Err()
}

// SetStatus moves an upload to status, recording errMsg when given.
func (r *UploadsRepository) SetStatus(id string, status Status, errMsg *string) error {
	_, err := r.writer.Exec(`UPDATE uploads SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), db.NullString(errMsg), db.NowISO(), id)
	return err
}

// SetFileSize records the number of bytes actually received.
func (r *UploadsRepository) SetFileSize(id string, size int64) error {
	_, err := r.writer.Exec(`UPDATE uploads SET file_size = ?, updated_at = ? WHERE id = ?`, size, db.NowISO(), id)
	return err
}

// SetResult links an upload to the catalog rows it produced.
func (r *UploadsRepository) SetResult(id, contentItemID, sourceID string, durationMs int64) error {
	result, err := r.writer.Exec(`
		UPDATE uploads SET content_item_id = ?, source_id = ?, duration_ms = ?, updated_at = ?
		WHERE id = ?
	`, contentItemID, sourceID, durationMs, db.NowISO(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUploadNotFound
	}
	return nil
}

// FailStale marks uploads still receiving data after olderThan as failed
// and returns how many were changed.
func (r *UploadsRepository) FailStale(olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := db.FormatTime(now.Add(-olderThan))
	result, err := r.writer.Exec(`
		UPDATE uploads SET status = ?, error = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?
	`, string(StatusFailed), "upload was never completed", db.FormatTime(now), string(StatusUploading), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanUpload(row scanner) (*Upload, error) {
	var (
		upload                  Upload
		status                  string
		errMsg                  sql.NullString
		metadataJSON            string
		contentItemID, sourceID sql.NullString
		createdAt, updatedAt    string
	)
	if err := row.Scan(&upload.ID, &upload.UserID, &upload.OriginalFilename, &upload.FileSize, &upload.ContentType,
		&upload.StorageKey, &status, &errMsg, &metadataJSON, &upload.DurationMs, &contentItemID, &sourceID,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadataJSON), &upload.Metadata); err != nil {
		return nil, err
	}
	upload.Status = Status(status)
	upload.Error = db.StringPtr(errMsg)
	upload.ContentItemID = db.StringPtr(contentItemID)
	upload.SourceID = db.StringPtr(sourceID)
	upload.CreatedAt = db.ParseTime(createdAt)
	upload.UpdatedAt = db.ParseTime(updatedAt)
	return &upload, nil
}

// ==========================================================================
// JobsRepository
// ==========================================================================

const jobColumns = `id, upload_id, job_type, status, error, claimed_at, started_at, completed_at, created_at, updated_at`

// JobsRepository stores processing jobs.
type JobsRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewJobsRepository creates a new JobsRepository.
func NewJobsRepository(dbPair DBPair) *JobsRepository {
	return &JobsRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Create queues a pending transcode job for an upload.
func (r *JobsRepository) Create(uploadID string) (*Job, error) {
	id := uuid.New().String()
	now := db.NowISO()
	_, err := r.writer.Exec(`
		INSERT INTO processing_jobs (id, upload_id, job_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, uploadID, JobTypeTranscode, string(JobStatusPending), now, now)
	if err != nil {
		return nil, err
	}
	return r.Get(id)
}

// Get returns a job by id, or nil.
func (r *JobsRepository) Get(id string) (*Job, error) {
	row := r.reader.QueryRow(`SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// GetByUpload returns the newest job for an upload, or nil.
func (r *JobsRepository) GetByUpload(uploadID string) (*Job, error) {
	row := r.reader.QueryRow(`SELECT `+jobColumns+` FROM processing_jobs WHERE upload_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, uploadID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// GetPending returns up to limit pending jobs, oldest first.
func (r *JobsRepository) GetPending(limit int) ([]Job, error) {
	return r.query(`SELECT `+jobColumns+` FROM processing_jobs WHERE status = ?
		ORDER BY created_at, rowid LIMIT ?`, string(JobStatusPending), limit)
}

// Claim atomically moves a pending job to processing.
func (r *JobsRepository) Claim(id string) error {
	now := db.NowISO()
	result, err := r.writer.Exec(`
		UPDATE processing_jobs SET status = ?, claimed_at = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(JobStatusProcessing), now, now, now, id, string(JobStatusPending))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrJobAlreadyClaimed
	}
	return nil
}

// Complete marks a job completed.
func (r *JobsRepository) Complete(id string) error {
	now := db.NowISO()
	_, err := r.writer.Exec(`UPDATE processing_jobs SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(JobStatusCompleted), now, now, id)
	return err
}

// Fail marks a job failed with errMsg.
func (r *JobsRepository) Fail(id, errMsg string) error {
	now := db.NowISO()
	_, err := r.writer.Exec(`UPDATE processing_jobs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(JobStatusFailed), errMsg, now, now, id)
	return err
}

// ResetStale returns jobs claimed longer than olderThan ago to pending.
func (r *JobsRepository) ResetStale(olderThan time.Duration) (int64, error) {
	cutoff := db.FormatTime(time.Now().Add(-olderThan))
	result, err := r.writer.Exec(`
		UPDATE processing_jobs SET status = ?, claimed_at = NULL, started_at = NULL, updated_at = ?
		WHERE status = ? AND claimed_at < ?
	`, string(JobStatusPending), db.NowISO(), string(JobStatusProcessing), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *JobsRepository) query(query string, args ...any) ([]Job, error) {
	rows, err := r.reader.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                               Job
		status                            string
		errMsg                            sql.NullString
		claimedAt, startedAt, completedAt sql.NullString
		createdAt, updatedAt              string
	)
	if err := row.Scan(&job.ID, &job.UploadID, &job.JobType, &status, &errMsg, &claimedAt, &startedAt,
		&completedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.Error = db.StringPtr(errMsg)
	job.ClaimedAt = db.ParseNullTime(claimedAt)
	job.StartedAt = db.ParseNullTime(startedAt)
	job.CompletedAt = db.ParseNullTime(completedAt)
	job.CreatedAt = db.ParseTime(createdAt)
	job.UpdatedAt = db.ParseTime(updatedAt)
	return &job, nil
}

// ==========================================================================
// Licenses and reports
// ==========================================================================

// ModerationRepository stores licenses and moderation reports for sources.
type ModerationRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewModerationRepository creates a new ModerationRepository.
func NewModerationRepository(dbPair DBPair) *ModerationRepository {
	return &ModerationRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// CreateLicense records the license a source was uploaded under.
func (r *ModerationRepository) CreateLicense(sourceID, licenseType string, attribution *string, commercialUse bool) (string, error) {
	id := uuid.New().String()
	_, err := r.writer.Exec(`
		INSERT INTO licenses (id, source_id, license_type, attribution, commercial_use, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, sourceID, licenseType, db.NullString(attribution), db.BoolInt(commercialUse), db.NowISO())
	return id, err
}

// CreateResolvedReport records an admin rejection as a resolved report.
func (r *ModerationRepository) CreateResolvedReport(sourceID, adminID, resolution string) (string, error) {
	id := uuid.New().String()
	now := db.NowISO()
	_, err := r.writer.Exec(`
		INSERT INTO reports (id, source_id, reporter_id, reason, status, resolution, resolved_by, resolved_at, created_at)
		VALUES (?, ?, ?, ?, 'resolved', ?, ?, ?, ?)
	`, id, sourceID, adminID, "Admin rejection", resolution, adminID, now, now)
	return id, err
}

func nilIfNoRows(upload *Upload, err error) (*Upload, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return upload, err
}
