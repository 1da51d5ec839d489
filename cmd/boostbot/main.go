package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/valueverse/boostbot/internal/boost"
	"github.com/valueverse/boostbot/internal/config"
	"github.com/valueverse/boostbot/internal/database"
	"github.com/valueverse/boostbot/internal/karma"
	"github.com/valueverse/boostbot/internal/logging"
	"github.com/valueverse/boostbot/internal/musicshow"
	nostrpub "github.com/valueverse/boostbot/internal/nostr"
	"github.com/valueverse/boostbot/internal/server"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "boostbot",
		Short: "Helipad webhook relay that posts podcast boosts to Nostr",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("session-path", defaults.GetString("session.path"), "Boost session snapshot path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("test-mode", defaults.GetBool("nostr.test_mode"), "Log posts instead of publishing to relays")
	cmd.PersistentFlags().String("nostr-secret-key", "", "Nostr signing key, nsec or hex (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "session.path", "session-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "nostr.test_mode", "test-mode")
	bindFlag(cmd, "nostr.secret_key", "nostr-secret-key")
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
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

	karmaService, err := karma.NewService(karma.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	publisher, err := nostrpub.NewPublisher(nostrpub.PublisherConfig{
		SecretKey: appConfig.NostrSecretKey,
		Relays:    appConfig.NostrRelays,
		TestMode:  appConfig.NostrTestMode,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	renderer := &boost.ContentBuilder{
		NameMentions: appConfig.NameMentions,
		ShowMentions: appConfig.ShowMentions,
	}

	recent := boost.NewRecentPosts(boost.RecentPostsConfig{
		Window:      appConfig.DedupeWindow,
		MaxPosts:    appConfig.DedupeMaxRecent,
		CompareLast: appConfig.DedupeCompare,
		Threshold:   appConfig.DedupeThreshold,
	})

	aggregator, err := boost.NewAggregator(boost.Config{
		BucketSeconds:  appConfig.BucketSeconds,
		GraceWindow:    appConfig.GraceWindow,
		SnapshotPath:   appConfig.SessionPath,
		AllowedSenders: appConfig.AllowedSenders,
		Publisher:      publisher,
		Renderer:       renderer,
		Recent:         recent,
		Karma:          karmaService,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer aggregator.Close()

	if err := aggregator.Restore(); err != nil {
		logger.Warn("could not restore persisted boost sessions", zap.Error(err))
	}

	musicTracker, err := musicshow.NewTracker(musicshow.TrackerConfig{
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Aggregator: aggregator,
		Music:      musicTracker,
		Karma:      karmaService,
		Logger:     logger,
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

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("test_mode", appConfig.NostrTestMode),
			zap.Int("relays", len(appConfig.NostrRelays)))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
