package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds the server configuration.
type Config struct {
	Host          string
	Port          string
	SQLiteDBPath  string
	Env           string
	AllowTestMode bool
	LogLevel      string
	// AdminEmails are granted the admin role on signup.
	AdminEmails []string
	// AppURL is the public base URL used for OAuth redirects.
	AppURL string

	JWTSecret                string
	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int

	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyAPIURL       string
	SpotifyAuthURL      string
	SpotifyTokenURL     string

	YouTubeClientID     string
	YouTubeClientSecret string
	YouTubeAPIKey       string
	YouTubeAPIURL       string
	YouTubeAuthURL      string
	YouTubeTokenURL     string
	// YouTubeRequestsPerSecond caps outbound Data API calls per process.
	YouTubeRequestsPerSecond int

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceIDs      map[string]map[string]string

	UploadStorageDir     string
	UploadMaxBytes       int64
	UploadSigningSecret  string
	UploadPollIntervalMs int

	HomeCacheTTLSeconds  int
	OAuthStateTTLSeconds int
}

// fileConfig mirrors the optional TOML config file.
type fileConfig struct {
	Server struct {
		Host     string `toml:"host"`
		Port     string `toml:"port"`
		AppURL   string `toml:"app_url"`
		LogLevel string `toml:"log_level"`
	} `toml:"server"`
	Database struct {
		Path string `toml:"path"`
	} `toml:"database"`
	Auth struct {
		JWTSecret string `toml:"jwt_secret"`
	} `toml:"auth"`
	Spotify struct {
		ClientID     string `toml:"client_id"`
		ClientSecret string `toml:"client_secret"`
	} `toml:"spotify"`
	YouTube struct {
		ClientID     string `toml:"client_id"`
		ClientSecret string `toml:"client_secret"`
		APIKey       string `toml:"api_key"`
	} `toml:"youtube"`
	Stripe struct {
		SecretKey     string                       `toml:"secret_key"`
		WebhookSecret string                       `toml:"webhook_secret"`
		Prices        map[string]map[string]string `toml:"prices"`
	} `toml:"stripe"`
	Uploads struct {
		StorageDir string `toml:"storage_dir"`
	} `toml:"uploads"`
}

// Load reads configuration from a .env file, an optional TOML file named by
// CONFIG_FILE and environment variables. Environment variables win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var file fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	port := envString("PORT", or(file.Server.Port, "9000"))
	jwtSecret := envString("JWT_SECRET", file.Auth.JWTSecret)
	if len(strings.TrimSpace(jwtSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	cfg := Config{
		Host:          envString("HOST", or(file.Server.Host, "0.0.0.0")),
		Port:          port,
		SQLiteDBPath:  envString("SQLITE_DB_PATH", or(file.Database.Path, "./data/music-central.db")),
		Env:           envString("APP_ENV", "development"),
		AllowTestMode: envBool("ALLOW_TEST_MODE", false),
		LogLevel:      envString("LOG_LEVEL", or(file.Server.LogLevel, "info")),
		AdminEmails:   envCSV("ADMIN_EMAILS"),
		AppURL:        strings.TrimRight(envString("APP_URL", or(file.Server.AppURL, "http://localhost:"+port)), "/"),

		JWTSecret:                jwtSecret,
		JWTAccessTokenExpirySec:  envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600),
		JWTRefreshTokenExpirySec: envInt("JWT_REFRESH_TOKEN_EXPIRY", 2592000),

		SpotifyClientID:     envString("SPOTIFY_CLIENT_ID", file.Spotify.ClientID),
		SpotifyClientSecret: envString("SPOTIFY_CLIENT_SECRET", file.Spotify.ClientSecret),
		SpotifyAPIURL:       envString("SPOTIFY_API_URL", "https://api.spotify.com/v1/"),
		SpotifyAuthURL:      envString("SPOTIFY_AUTH_URL", "https://accounts.spotify.com/authorize"),
		SpotifyTokenURL:     envString("SPOTIFY_TOKEN_URL", "https://accounts.spotify.com/api/token"),

		YouTubeClientID:          envString("YOUTUBE_CLIENT_ID", file.YouTube.ClientID),
		YouTubeClientSecret:      envString("YOUTUBE_CLIENT_SECRET", file.YouTube.ClientSecret),
		YouTubeAPIKey:            envString("YOUTUBE_API_KEY", file.YouTube.APIKey),
		YouTubeAPIURL:            envString("YOUTUBE_API_URL", "https://www.googleapis.com/youtube/v3"),
		YouTubeAuthURL:           envString("YOUTUBE_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"),
		YouTubeTokenURL:          envString("YOUTUBE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		YouTubeRequestsPerSecond: envInt("YOUTUBE_REQUESTS_PER_SECOND", 5),

		StripeSecretKey:     envString("STRIPE_SECRET_KEY", file.Stripe.SecretKey),
		StripeWebhookSecret: envString("STRIPE_WEBHOOK_SECRET", file.Stripe.WebhookSecret),
		StripePriceIDs:      stripePrices(file.Stripe.Prices),

		UploadStorageDir:     envString("UPLOAD_STORAGE_DIR", or(file.Uploads.StorageDir, "./data/uploads")),
		UploadMaxBytes:       int64(envInt("UPLOAD_MAX_BYTES", 100*1024*1024)),
		UploadSigningSecret:  envString("UPLOAD_SIGNING_SECRET", jwtSecret),
		UploadPollIntervalMs: envInt("UPLOAD_POLL_INTERVAL_MS", 2000),

		HomeCacheTTLSeconds:  envInt("HOME_CACHE_TTL_SECONDS", 3600),
		OAuthStateTTLSeconds: envInt("OAUTH_STATE_TTL_SECONDS", 600),
	}

	return cfg, nil
}

// SpotifyEnabled reports whether Spotify OAuth credentials are configured.
func (c Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

// YouTubeEnabled reports whether YouTube OAuth credentials are configured.
func (c Config) YouTubeEnabled() bool {
	return c.YouTubeClientID != "" && c.YouTubeClientSecret != ""
}

// StripeEnabled reports whether billing calls can reach Stripe.
func (c Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

// IsDevelopment reports whether the server runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func stripePrices(fromFile map[string]map[string]string) map[string]map[string]string {
	prices := map[string]map[string]string{
		"premium": {"monthly": "", "yearly": ""},
		"pro":     {"monthly": "", "yearly": ""},
	}
	for tier, cycles := range fromFile {
		if _, ok := prices[tier]; !ok {
			continue
		}
		for cycle, id := range cycles {
			prices[tier][cycle] = id
		}
	}
	for tier, cycles := range prices {
		for cycle := range cycles {
			key := "STRIPE_" + strings.ToUpper(tier) + "_" + strings.ToUpper(cycle) + "_PRICE_ID"
			cycles[cycle] = envString(key, cycles[cycle])
		}
	}
	return prices
}

func or(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

func envCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return []string{}
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
