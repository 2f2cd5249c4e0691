package music

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/strefethen/music-central-go/internal/db"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// PlayRepository stores listening events.
type PlayRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewPlayRepository creates a new PlayRepository.
func NewPlayRepository(dbPair DBPair) *PlayRepository {
	return &PlayRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Record inserts a play from the web player. Any listening time counts as
// a completed play.
func (r *PlayRepository) Record(userID string, contentItemID, sourceID *string, msListened int64) (*Play, error) {
	play := &Play{
		ID:            uuid.New().String(),
		UserID:        userID,
		ContentItemID: contentItemID,
		SourceID:      sourceID,
		Platform:      "web",
		MsListened:    msListened,
		Completed:     msListened > 0,
	}
	startedAt := db.NowISO()
	_, err := r.writer.Exec(`
		INSERT INTO plays (id, user_id, content_item_id, source_id, platform, ms_listened, completed, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, play.ID, userID, db.NullString(contentItemID), db.NullString(sourceID), play.Platform,
		msListened, db.BoolInt(play.Completed), startedAt)
	if err != nil {
		return nil, err
	}
	play.StartedAt = db.ParseTime(startedAt)
	return play, nil
}

// ListByUser returns the user's plays, newest first.
func (r *PlayRepository) ListByUser(userID string, limit int) ([]Play, error) {
	rows, err := r.reader.Query(`
		SELECT id, user_id, content_item_id, source_id, platform, ms_listened, completed, started_at
		FROM plays
		WHERE user_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plays := []Play{}
	for rows.Next() {
		var (
			play                    Play
			contentItemID, sourceID sql.NullString
			completed               int
			startedAt               string
		)
		if err := rows.Scan(&play.ID, &play.UserID, &contentItemID, &sourceID, &play.Platform,
			&play.MsListened, &completed, &startedAt); err != nil {
			return nil, err
		}
		play.ContentItemID = db.StringPtr(contentItemID)
		play.SourceID = db.StringPtr(sourceID)
		play.Completed = completed != 0
		play.StartedAt = db.ParseTime(startedAt)
		plays = append(plays, play)
	}
	return plays, rows.Err()
}
