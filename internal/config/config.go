package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "TIMELINE"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "requests-timeline.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultRemoteRate        = 10.0
	defaultRemoteTimeout     = 15 * time.Second
	defaultPageSize          = 15
	defaultCommentMaxLength  = 25000
	defaultRefreshInterval   = 10 * time.Second
	defaultStatusDebounce    = 500 * time.Millisecond
	defaultSessionIssuer     = "requests-timeline"
	defaultSessionCookieName = "timeline_session"
)

// AppConfig captures runtime configuration for the server and the CLI.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	LogFormat    string

	RemoteBaseURL       string
	RemoteToken         string
	RemoteRatePerSecond float64
	RemoteTimeout       time.Duration

	PageSize         int
	CommentMaxLength int
	RefreshInterval  time.Duration
	StatusDebounce   time.Duration

	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string
	CORSAllowedOrigins   []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("remote.rate_per_second", defaultRemoteRate)
	configViper.SetDefault("remote.timeout", defaultRemoteTimeout)
	configViper.SetDefault("timeline.page_size", defaultPageSize)
	configViper.SetDefault("timeline.comment_max_length", defaultCommentMaxLength)
	configViper.SetDefault("timeline.refresh_interval", defaultRefreshInterval)
	configViper.SetDefault("drafts.status_debounce", defaultStatusDebounce)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultSessionCookieName)
	configViper.SetDefault("cors.allowed_origins", []string{})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		RemoteBaseURL:        strings.TrimRight(configViper.GetString("remote.base_url"), "/"),
		RemoteToken:          configViper.GetString("remote.token"),
		RemoteRatePerSecond:  configViper.GetFloat64("remote.rate_per_second"),
		RemoteTimeout:        configViper.GetDuration("remote.timeout"),
		PageSize:             configViper.GetInt("timeline.page_size"),
		CommentMaxLength:     configViper.GetInt("timeline.comment_max_length"),
		RefreshInterval:      configViper.GetDuration("timeline.refresh_interval"),
		StatusDebounce:       configViper.GetDuration("drafts.status_debounce"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		CORSAllowedOrigins:   splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// ValidateServer checks the settings only the HTTP server needs.
func (c AppConfig) ValidateServer() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	parsed, err := url.Parse(c.RemoteBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote.base_url must be an absolute URL: %q", c.RemoteBaseURL)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("timeline.page_size must be positive, got %d", c.PageSize)
	}
	if c.CommentMaxLength < 0 {
		return fmt.Errorf("timeline.comment_max_length must not be negative, got %d", c.CommentMaxLength)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "console", "":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// splitOrigins accepts both list values and a comma separated env variable.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
