package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/mattn/go-sqlite3"

	"github.com/strefethen/music-central-go/internal/api"
	"github.com/strefethen/music-central-go/internal/audit"
	"github.com/strefethen/music-central-go/internal/auth"
	"github.com/strefethen/music-central-go/internal/billing"
	"github.com/strefethen/music-central-go/internal/catalog"
	"github.com/strefethen/music-central-go/internal/config"
	"github.com/strefethen/music-central-go/internal/db"
	"github.com/strefethen/music-central-go/internal/home"
	"github.com/strefethen/music-central-go/internal/logging"
	"github.com/strefethen/music-central-go/internal/music"
	"github.com/strefethen/music-central-go/internal/openapi"
	"github.com/strefethen/music-central-go/internal/platforms"
	"github.com/strefethen/music-central-go/internal/scheduler"
	"github.com/strefethen/music-central-go/internal/subscriptions"
	"github.com/strefethen/music-central-go/internal/system"
	"github.com/strefethen/music-central-go/internal/uploads"
)

// UploadAbandonAfter is how long an upload may sit in "uploading" before
// the janitor fails it.
const UploadAbandonAfter = 24 * time.Hour

// Options controls server wiring.
type Options struct {
	// Logger defaults to a logger built from cfg.LogLevel.
	Logger *log.Logger
	// DisableBackgroundJobs keeps the scheduler and upload processor
	// stopped. Tests drive them directly.
	DisableBackgroundJobs bool
	// HTTPClient replaces the client used for platform API calls.
	HTTPClient *http.Client
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	logger := options.Logger
	if logger == nil {
		logger = logging.New(nil, cfg.LogLevel)
	}

	logger.Info("using database", "path", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	router := chi.NewRouter()
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RequestLoggerMiddleware(logging.Component(logger, "http")))
	router.Use(api.RecovererMiddleware(logger))
	router.Use(middleware.StripSlashes)
	router.Use(auth.Middleware(cfg))

	openapi.RegisterRoutes(router)

	auditService := audit.NewService(dbPair, logging.Component(logger, "audit"))

	authService := auth.NewService(cfg, dbPair, logging.Component(logger, "auth"), auditService)
	auth.RegisterRoutes(router, authService)

	accounts := auth.NewAccountsRepository(dbPair)
	subsService, err := subscriptions.NewService(dbPair, accounts, auditService, logging.Component(logger, "subscriptions"))
	if err != nil {
		_ = dbPair.Close()
		return nil, nil, err
	}
	subscriptions.RegisterRoutes(router, subsService)

	platformService := platforms.NewService(cfg, dbPair, subsService, auditService, logging.Component(logger, "platforms"))
	if options.HTTPClient != nil {
		platformService.SetHTTPClient(options.HTTPClient)
	}
	platforms.RegisterRoutes(router, platformService)

	catalogService := catalog.NewService(dbPair, logging.Component(logger, "catalog"))
	catalog.RegisterRoutes(router, catalogService)

	musicService := music.NewService(dbPair, catalogService.Repository(), platformService, logging.Component(logger, "music"))
	music.RegisterRoutes(router, musicService)

	homeService := home.NewService(home.PlatformClients(platformService), time.Duration(cfg.HomeCacheTTLSeconds)*time.Second, logging.Component(logger, "home"))
	platformService.OnDisconnect(homeService.ClearUserCache)
	home.RegisterRoutes(router, homeService)

	var gateway billing.Gateway
	if cfg.StripeEnabled() {
		gateway = billing.NewStripeGateway(cfg.StripeSecretKey, nil)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, billing endpoints are disabled")
	}
	billingService := billing.NewService(cfg, dbPair, gateway, subsService, accounts, auditService, logging.Component(logger, "billing"))
	billing.RegisterRoutes(router, billingService)

	uploadLogger := logging.Component(logger, "uploads")
	uploadService := uploads.NewService(cfg, dbPair, catalogService, auditService, uploadLogger)
	hub := uploads.NewHub(uploadLogger)
	uploadService.SetNotifier(hub)
	processor := uploads.NewProcessor(uploadService, time.Duration(cfg.UploadPollIntervalMs)*time.Millisecond, uploadLogger)
	uploads.RegisterRoutes(router, uploadService, hub)

	jobs := scheduler.New(logging.Component(logger, "scheduler"))
	err = scheduler.RegisterMaintenance(jobs, scheduler.Maintenance{
		RefreshPlatformTokens: platformService.RefreshExpiring,
		PruneAuditEvents:      auditService.Prune,
		ExpireSubscriptions:   subsService.ExpireEnded,
		PurgeOAuthStates:      platformService.States().PurgeExpired,
		FailAbandonedUploads: func(ctx context.Context) error {
			return uploadService.FailAbandoned(ctx, UploadAbandonAfter)
		},
	})
	if err != nil {
		_ = dbPair.Close()
		return nil, nil, err
	}

	systemService := system.NewService(dbPair, jobs, platformService, logging.Component(logger, "system"))
	system.RegisterRoutes(router, systemService)

	router.Group(func(admin chi.Router) {
		admin.Use(auth.RequireAdmin)
		catalog.RegisterAdminRoutes(admin, catalogService)
		uploads.RegisterAdminRoutes(admin, uploadService)
		audit.RegisterRoutes(admin, auditService)
		scheduler.RegisterRoutes(admin, jobs)
		system.RegisterAdminRoutes(admin, systemService)
	})

	if !options.DisableBackgroundJobs {
		processor.Start()
		jobs.Start()
	}

	shutdown := func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		var errs []error
		if err := jobs.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		processor.Stop()
		hub.Close()
		if err := dbPair.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return router, shutdown, nil
}
