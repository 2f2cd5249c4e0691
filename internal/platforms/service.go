package platforms

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/strefethen/music-central-go/internal/audit"
	"github.com/strefethen/music-central-go/internal/config"
	"github.com/strefethen/music-central-go/internal/subscriptions"
)

// refreshWindow is how far ahead of expiry the scheduler refreshes tokens.
const refreshWindow = 10 * time.Minute

// Service connects users to external platforms and builds API clients
// from their stored grants.
type Service struct {
	cfg        config.Config
	tokens     *TokenRepository
	states     *StateStore
	subs       *subscriptions.Service
	audit      *audit.Service
	logger     *log.Logger
	oauth      map[string]*oauth2.Config
	limiter    *rate.Limiter
	httpClient *http.Client
	now        func() time.Time

	appSpotifyOnce sync.Once
	appSpotify     *SpotifyClient

	mu              sync.Mutex
	disconnectHooks []func(userID string)
}

// NewService creates a platforms service.
func NewService(cfg config.Config, dbPair DBPair, subs *subscriptions.Service, auditService *audit.Service, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	rps := cfg.YouTubeRequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	stateTTL := time.Duration(cfg.OAuthStateTTLSeconds) * time.Second
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}

	s := &Service{
		cfg:     cfg,
		tokens:  NewTokenRepository(dbPair),
		states:  NewStateStore(dbPair, stateTTL),
		subs:    subs,
		audit:   auditService,
		logger:  logger,
		oauth:   map[string]*oauth2.Config{},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		now:     time.Now,
	}

	if cfg.SpotifyEnabled() {
		s.oauth[subscriptions.PlatformSpotify] = &oauth2.Config{
			ClientID:     cfg.SpotifyClientID,
			ClientSecret: cfg.SpotifyClientSecret,
			RedirectURL:  callbackURL(cfg.AppURL, subscriptions.PlatformSpotify),
			Scopes:       spotifyScopes,
			Endpoint:     oauth2.Endpoint{AuthURL: cfg.SpotifyAuthURL, TokenURL: cfg.SpotifyTokenURL},
		}
	}
	if cfg.YouTubeEnabled() {
		s.oauth[subscriptions.PlatformYouTubeMusic] = &oauth2.Config{
			ClientID:     cfg.YouTubeClientID,
			ClientSecret: cfg.YouTubeClientSecret,
			RedirectURL:  callbackURL(cfg.AppURL, subscriptions.PlatformYouTubeMusic),
			Scopes:       youtubeScopes,
			Endpoint:     oauth2.Endpoint{AuthURL: cfg.YouTubeAuthURL, TokenURL: cfg.YouTubeTokenURL},
		}
	}
	return s
}

// SetHTTPClient routes token exchanges and API calls through client.
func (s *Service) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// States exposes the OAuth state store for the scheduler.
func (s *Service) States() *StateStore {
	return s.states
}

// OnDisconnect registers fn to run after a user disconnects a platform.
func (s *Service) OnDisconnect(fn func(userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectHooks = append(s.disconnectHooks, fn)
}

// ConfiguredPlatforms lists platforms with OAuth credentials.
func (s *Service) ConfiguredPlatforms() []string {
	result := []string{}
	for _, id := range []string{subscriptions.PlatformSpotify, subscriptions.PlatformYouTubeMusic} {
		if _, ok := s.oauth[id]; ok {
			result = append(result, id)
		}
	}
	return result
}

func callbackURL(appURL, platformID string) string {
	return appURL + "/v1/platforms/" + platformID + "/callback"
}

func (s *Service) withHTTPClient(ctx context.Context) context.Context {
	if s.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

func (s *Service) oauthConfig(platformID string) (*oauth2.Config, error) {
	platform, ok := s.subs.Catalog().PlatformByID(platformID)
	if !ok || !platform.Available {
		return nil, ErrUnsupportedPlatform
	}
	cfg, ok := s.oauth[platformID]
	if !ok {
		return nil, ErrNotConfigured
	}
	return cfg, nil
}

// AuthorizationURL starts an OAuth flow for the user. Users must have room
// under their tier's platform limit unless the platform is already
// connected.
func (s *Service) AuthorizationURL(ctx context.Context, userID, platformName string) (string, error) {
	platformID, err := CanonicalPlatform(platformName)
	if err != nil {
		return "", err
	}
	oauthCfg, err := s.oauthConfig(platformID)
	if err != nil {
		return "", err
	}

	connected, err := s.subs.IsConnected(userID, platformID)
	if err != nil {
		return "", err
	}
	if !connected {
		check, err := s.subs.CanConnectPlatform(userID)
		if err != nil {
			return "", err
		}
		if !check.CanConnect {
			return "", ErrPlatformLimit
		}
	}

	state, err := s.states.Issue(userID, platformID)
	if err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if platformID == subscriptions.PlatformYouTubeMusic {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return oauthCfg.AuthCodeURL(state, opts...), nil
}

// HandleCallback completes an OAuth flow and returns where to send the
// browser. It never fails; problems are reported in the redirect.
func (s *Service) HandleCallback(ctx context.Context, platformName, code, state, providerError string) string {
	platformID, err := CanonicalPlatform(platformName)
	if err != nil {
		return s.errorRedirect("unsupported_platform")
	}
	short := shortName(platformID)

	if providerError != "" {
		s.logger.Warn("oauth provider returned error", "platform", platformID, "error", providerError)
		return s.errorRedirect(short + "_auth_failed")
	}
	if code == "" || state == "" {
		return s.errorRedirect("missing_params")
	}

	userID, err := s.states.Consume(state, platformID)
	if err != nil {
		if !errors.Is(err, ErrInvalidState) {
			s.logger.Error("oauth state lookup failed", "platform", platformID, "error", err)
		}
		return s.errorRedirect("invalid_state")
	}

	if err := s.completeConnection(ctx, userID, platformID, code); err != nil {
		s.logger.Error("oauth callback failed", "platform", platformID, "user_id", userID, "error", err)
		return s.errorRedirect("callback_failed")
	}

	q := url.Values{}
	q.Set("platforms", platformID)
	q.Set("success", short+"_connected")
	return s.cfg.AppURL + "/platforms/connect?" + q.Encode()
}

func (s *Service) errorRedirect(code string) string {
	return s.cfg.AppURL + "/auth?error=" + url.QueryEscape(code)
}

func (s *Service) completeConnection(ctx context.Context, userID, platformID, code string) error {
	oauthCfg, err := s.oauthConfig(platformID)
	if err != nil {
		return err
	}
	ctx = s.withHTTPClient(ctx)
	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return err
	}

	client := s.newClient(platformID, oauth2.NewClient(ctx, oauthCfg.TokenSource(ctx, token)))
	profile, err := client.Profile(ctx)
	if err != nil {
		return err
	}

	if err := s.tokens.Save(userID, platformID, token, profile); err != nil {
		return err
	}
	_, err = s.subs.ConnectPlatform(ctx, userID, platformID, map[string]any{
		"service_user_id":  profile.ID,
		"service_username": profile.DisplayName,
	})
	return err
}

func (s *Service) newClient(platformID string, httpClient *http.Client) Client {
	if platformID == subscriptions.PlatformSpotify {
		return NewSpotifyClient(httpClient, s.cfg.SpotifyAPIURL)
	}
	return NewYouTubeClient(httpClient, s.cfg.YouTubeAPIURL, "", s.limiter)
}

// userHTTPClient builds an HTTP client authorized with the user's grant.
// Refreshed tokens are written back.
func (s *Service) userHTTPClient(ctx context.Context, userID, platformID string) (*http.Client, error) {
	oauthCfg, err := s.oauthConfig(platformID)
	if err != nil {
		return nil, err
	}
	stored, err := s.tokens.GetActive(userID, platformID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrNotConnected
	}

	ctx = s.withHTTPClient(ctx)
	source := newPersistingTokenSource(oauthCfg.TokenSource(ctx, stored.OAuth2()), s.tokens, stored, nil)
	return oauth2.NewClient(ctx, source), nil
}

// Client returns an API client for the user's connected platform.
func (s *Service) Client(ctx context.Context, userID, platformName string) (Client, error) {
	platformID, err := CanonicalPlatform(platformName)
	if err != nil {
		return nil, err
	}
	httpClient, err := s.userHTTPClient(ctx, userID, platformID)
	if err != nil {
		return nil, err
	}
	return s.newClient(platformID, httpClient), nil
}

// Spotify returns the user's Spotify client.
func (s *Service) Spotify(ctx context.Context, userID string) (*SpotifyClient, error) {
	httpClient, err := s.userHTTPClient(ctx, userID, subscriptions.PlatformSpotify)
	if err != nil {
		return nil, err
	}
	return NewSpotifyClient(httpClient, s.cfg.SpotifyAPIURL), nil
}

// YouTube returns the user's YouTube client.
func (s *Service) YouTube(ctx context.Context, userID string) (*YouTubeClient, error) {
	httpClient, err := s.userHTTPClient(ctx, userID, subscriptions.PlatformYouTubeMusic)
	if err != nil {
		return nil, err
	}
	return NewYouTubeClient(httpClient, s.cfg.YouTubeAPIURL, "", s.limiter), nil
}

// SearchClient returns a client able to search platformName for the user.
// Users who have not connected the platform search with app credentials:
// Spotify's client-credentials grant or the YouTube API key.
func (s *Service) SearchClient(ctx context.Context, userID, platformName string) (Client, error) {
	client, err := s.Client(ctx, userID, platformName)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, ErrNotConnected) && !errors.Is(err, ErrNotConfigured) {
		return nil, err
	}

	platformID, _ := CanonicalPlatform(platformName)
	switch platformID {
	case subscriptions.PlatformSpotify:
		if app := s.appSpotifyClient(); app != nil {
			return app, nil
		}
	case subscriptions.PlatformYouTubeMusic:
		if s.cfg.YouTubeAPIKey != "" {
			return NewYouTubeClient(s.httpClient, s.cfg.YouTubeAPIURL, s.cfg.YouTubeAPIKey, s.limiter), nil
		}
	}
	return nil, err
}

func (s *Service) appSpotifyClient() *SpotifyClient {
	if !s.cfg.SpotifyEnabled() {
		return nil
	}
	s.appSpotifyOnce.Do(func() {
		cc := &clientcredentials.Config{
			ClientID:     s.cfg.SpotifyClientID,
			ClientSecret: s.cfg.SpotifyClientSecret,
			TokenURL:     s.cfg.SpotifyTokenURL,
		}
		s.appSpotify = NewSpotifyClient(cc.Client(s.withHTTPClient(context.Background())), s.cfg.SpotifyAPIURL)
	})
	return s.appSpotify
}

// Status reports whether the user has an active grant for the platform.
func (s *Service) Status(userID, platformName string) (ConnectionStatus, error) {
	platformID, err := CanonicalPlatform(platformName)
	if err != nil {
		return ConnectionStatus{}, err
	}
	token, err := s.tokens.GetActive(userID, platformID)
	if err != nil {
		return ConnectionStatus{}, err
	}
	status := ConnectionStatus{Platform: platformID, Connected: token != nil}
	if token != nil {
		status.ServiceUserID = token.ServiceUserID
		status.ServiceUsername = token.ServiceUsername
	}
	return status, nil
}

// Disconnect deactivates the user's grant and marks the connection
// disconnected.
func (s *Service) Disconnect(ctx context.Context, userID, platformName string) error {
	platformID, err := CanonicalPlatform(platformName)
	if err != nil {
		return err
	}
	if _, err := s.tokens.Deactivate(userID, platformID); err != nil {
		return err
	}
	if err := s.subs.DisconnectPlatform(ctx, userID, platformID); err != nil {
		return err
	}

	s.mu.Lock()
	hooks := append([]func(string){}, s.disconnectHooks...)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(userID)
	}
	return nil
}

// RefreshExpiring refreshes grants that expire within the refresh window.
// Failures are logged and audited; the run continues with the next grant.
func (s *Service) RefreshExpiring(ctx context.Context) error {
	expiring, err := s.tokens.ListExpiring(s.now().Add(refreshWindow))
	if err != nil {
		return err
	}

	refreshed := 0
	for i := range expiring {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stored := &expiring[i]
		if err := s.refreshOne(ctx, stored); err != nil {
			s.logger.Warn("token refresh failed", "user_id", stored.UserID, "platform", stored.ServiceID, "error", err)
			s.audit.Record(ctx, audit.WriteEventInput{
				Type:     audit.EventPlatformTokenFailed,
				Level:    audit.EventLevelWarn,
				UserID:   audit.Ptr(stored.UserID),
				Platform: audit.Ptr(stored.ServiceID),
				Message:  "token refresh failed",
				Payload:  map[string]any{"error": err.Error()},
			})
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		s.logger.Info("platform tokens refreshed", "count", refreshed)
	}
	return nil
}

func (s *Service) refreshOne(ctx context.Context, stored *ServiceToken) error {
	oauthCfg, err := s.oauthConfig(stored.ServiceID)
	if err != nil {
		return err
	}
	// Force the oauth2 package to use the refresh token.
	token := stored.OAuth2()
	token.Expiry = time.Now().Add(-time.Minute)

	ctx = s.withHTTPClient(ctx)
	source := newPersistingTokenSource(oauthCfg.TokenSource(ctx, token), s.tokens, stored, func(*oauth2.Token) {
		s.audit.Record(ctx, audit.WriteEventInput{
			Type:     audit.EventPlatformTokenRefreshed,
			Level:    audit.EventLevelDebug,
			UserID:   audit.Ptr(stored.UserID),
			Platform: audit.Ptr(stored.ServiceID),
			Message:  "token refreshed",
		})
	})
	_, err = source.Token()
	return err
}
