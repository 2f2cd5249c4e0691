package system

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
)

// Version is the server version, overridden at build time.
var Version = "0.1.0"

const ServiceName = "music-central"

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DBPair is the database handle the service reads stats from.
type DBPair interface {
	Pinger
	Reader() *sql.DB
}

// SchedulerStatus reports whether background jobs are running.
type SchedulerStatus interface {
	Running() bool
}

// PlatformLister lists platforms with configured credentials.
type PlatformLister interface {
	ConfiguredPlatforms() []string
}

// Service reports health, build info and admin statistics.
type Service struct {
	db        DBPair
	scheduler SchedulerStatus
	platforms PlatformLister
	logger    *log.Logger
	startTime time.Time
	now       func() time.Time
}

// NewService creates a system service. scheduler and platformList may be nil.
func NewService(dbPair DBPair, scheduler SchedulerStatus, platformList PlatformLister, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		db:        dbPair,
		scheduler: scheduler,
		platforms: platformList,
		logger:    logger,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Info is returned by GET /v1/system/info.
type Info struct {
	Version             string
	UptimeSeconds       int64
	MemoryMB            float64
	DatabaseConnected   bool
	SchedulerRunning    bool
	ConfiguredPlatforms []string
}

// Stats summarises catalog, user and billing activity.
type Stats struct {
	Users                int
	ContentItems         int
	SourcesPendingReview int
	ActiveSubscriptions  map[string]int
	UploadsByStatus      map[string]int
}

// Ready pings the database.
func (s *Service) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.Ping(ctx)
}

// Info returns the current server info.
func (s *Service) Info(ctx context.Context) Info {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	connected := true
	if err := s.Ready(ctx); err != nil {
		s.logger.Warn("database ping failed", "error", err)
		connected = false
	}

	info := Info{
		Version:             Version,
		UptimeSeconds:       int64(s.now().Sub(s.startTime).Seconds()),
		MemoryMB:            float64(mem.Alloc) / 1024 / 1024,
		DatabaseConnected:   connected,
		ConfiguredPlatforms: []string{},
	}
	if s.scheduler != nil {
		info.SchedulerRunning = s.scheduler.Running()
	}
	if s.platforms != nil {
		info.ConfiguredPlatforms = s.platforms.ConfiguredPlatforms()
	}
	return info
}

// Stats counts users, catalog content, subscriptions and uploads.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	reader := s.db.Reader()
	stats := &Stats{
		ActiveSubscriptions: map[string]int{},
		UploadsByStatus:     map[string]int{},
	}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM users`, &stats.Users},
		{`SELECT COUNT(*) FROM content_items`, &stats.ContentItems},
		{`SELECT COUNT(*) FROM sources WHERE status = 'pending_review'`, &stats.SourcesPendingReview},
	}
	for _, c := range counts {
		if err := reader.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
	}

	if err := groupCounts(ctx, reader, `SELECT tier_id, COUNT(*) FROM user_subscriptions WHERE status = 'active' GROUP BY tier_id`, stats.ActiveSubscriptions); err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	if err := groupCounts(ctx, reader, `SELECT status, COUNT(*) FROM uploads GROUP BY status`, stats.UploadsByStatus); err != nil {
		return nil, fmt.Errorf("count uploads: %w", err)
	}
	return stats, nil
}

func groupCounts(ctx context.Context, reader *sql.DB, query string, dst map[string]int) error {
	rows, err := reader.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dst[key] = count
	}
	return rows.Err()
}
