package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/auth"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/config"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/database"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/drafts"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/logging"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/metrics"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/remote"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/sanitize"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/server"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/terminal"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/timeline"
)

const (
	idleTimelineTTL     = 30 * time.Minute
	sweepInterval       = time.Minute
	draftRetention      = 30 * 24 * time.Hour
	draftPurgeInterval  = time.Hour
	shutdownGracePeriod = 10 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "requests-timeline",
		Short:        "Request timeline service and CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newShowCommand(), newSessionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path for drafts")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("remote-base-url", "", "Base URL of the request API")
	cmd.PersistentFlags().String("remote-token", "", "Bearer token for the request API (overrides env)")
	cmd.PersistentFlags().Int("page-size", defaults.GetInt("timeline.page_size"), "Events per timeline page")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.token", "remote-token")
	bindFlag(cmd, "timeline.page_size", "page-size")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newRemoteClient(appConfig config.AppConfig, logger *zap.Logger) *remote.HTTPClient {
	return remote.NewHTTPClient(remote.Options{
		BaseURL:       appConfig.RemoteBaseURL,
		Token:         appConfig.RemoteToken,
		Timeout:       appConfig.RemoteTimeout,
		RatePerSecond: appConfig.RemoteRatePerSecond,
		Logger:        logger.Named("remote"),
	})
}

func sessionConfig(appConfig config.AppConfig) auth.SessionConfig {
	return auth.SessionConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the timeline HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := appConfig.ValidateServer(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	draftStore, err := drafts.NewStore(drafts.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger.Named("drafts"),
	})
	if err != nil {
		return err
	}

	validator, err := auth.NewSessionValidator(sessionConfig(appConfig))
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promRegistry)

	client := newRemoteClient(appConfig, logger)
	registry, err := server.NewRegistry(server.RegistryConfig{
		Events: func(requestID string, parentID timeline.EventID) timeline.EventsAPI {
			return client.Timeline(requestID, parentID)
		},
		Reviewers: client,
		Drafts:    draftStore,
		Sanitizer: sanitize.NewContentSanitizer(),
		Metrics:   collector,
		Gauge:     collector,
		Stream:    server.NewStreamDispatcher(collector.SetStreamClients),
		Settings: server.TimelineSettings{
			PageSize:         appConfig.PageSize,
			CommentMaxLength: appConfig.CommentMaxLength,
			RefreshInterval:  appConfig.RefreshInterval,
			StatusDebounce:   appConfig.StatusDebounce,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       validator,
		Registry:       registry,
		MetricsHandler: metrics.Handler(promRegistry),
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runMaintenance(signalCtx, registry, draftStore, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runMaintenance closes idle timelines and purges abandoned drafts until ctx ends.
func runMaintenance(ctx context.Context, registry *server.Registry, store *drafts.Store, logger *zap.Logger) {
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	purge := time.NewTicker(draftPurgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			registry.Sweep(idleTimelineTTL)
		case <-purge.C:
			removed, err := store.PurgeOlderThan(ctx, time.Now().Add(-draftRetention))
			if err != nil {
				logger.Warn("draft purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("purged stale drafts", zap.Int64("removed", removed))
			}
		}
	}
}

func newShowCommand() *cobra.Command {
	var (
		requestID string
		parentID  string
		focusID   string
		page      int
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the timeline of a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), requestID, parentID, focusID, page)
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "Request identifier")
	cmd.Flags().StringVar(&parentID, "parent", "", "Show the reply thread of this comment")
	cmd.Flags().StringVar(&focusID, "focus", "", "Open the page holding this event")
	cmd.Flags().IntVar(&page, "page", 0, "Also load this page")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func runShow(ctx context.Context, requestID, parentID, focusID string, page int) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, "console")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var parent, focus timeline.EventID
	if parentID != "" {
		if parent, err = timeline.NewEventID(parentID); err != nil {
			return err
		}
	}
	if focusID != "" {
		if focus, err = timeline.NewEventID(focusID); err != nil {
			return err
		}
	}

	sanitizer := sanitize.NewContentSanitizer()
	client := newRemoteClient(appConfig, logger)
	view, err := timeline.New(timeline.Config{
		RequestID:       requestID,
		ParentEventID:   parent,
		PageSize:        appConfig.PageSize,
		RefreshInterval: -1,
		API:             client.Timeline(requestID, parent),
		Sanitizer:       sanitizer,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer view.Close()

	loadErr := view.Load(ctx, focus)
	if loadErr == nil && page > 0 {
		loadErr = view.LoadPage(ctx, page)
	}

	renderer := terminal.NewRenderer(os.Stdout, sanitizer)
	if err := renderer.RenderState(view.Snapshot(), view.Feed()); err != nil {
		return err
	}
	return loadErr
}

func newSessionCommand() *cobra.Command {
	var (
		userID      string
		email       string
		displayName string
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Issue a session token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewSessionIssuer(sessionConfig(appConfig))
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(userID, email, displayName)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, expiresAt.Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User identifier")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
