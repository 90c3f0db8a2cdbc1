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
	"go.uber.org/zap"

	"github.com/corkboard-app/corkboard/internal/config"
	"github.com/corkboard-app/corkboard/internal/logging"
	"github.com/corkboard-app/corkboard/internal/metrics"
	"github.com/corkboard-app/corkboard/internal/notes"
	"github.com/corkboard-app/corkboard/internal/scheduler"
	"github.com/corkboard-app/corkboard/internal/server"
	"github.com/corkboard-app/corkboard/internal/storage"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "corkboard",
		Short: "Corkboard realtime sticky-notes server",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Blob store backend (s3, sqlite, memory)")
	cmd.PersistentFlags().String("storage-bucket", defaults.GetString("storage.bucket"), "Bucket name for the s3 backend")
	cmd.PersistentFlags().String("storage-endpoint", defaults.GetString("storage.endpoint"), "Custom S3 endpoint (R2, MinIO)")
	cmd.PersistentFlags().String("storage-region", defaults.GetString("storage.region"), "S3 region")
	cmd.PersistentFlags().String("sqlite-path", defaults.GetString("storage.sqlite_path"), "SQLite database path")
	cmd.PersistentFlags().Int("max-notes", defaults.GetInt("limits.max_notes"), "Durable collection cap")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.bucket", "storage-bucket")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
	bindFlag(cmd, "storage.region", "storage-region")
	bindFlag(cmd, "storage.sqlite_path", "sqlite-path")
	bindFlag(cmd, "limits.max_notes", "max-notes")
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

	store, closeStore, err := openStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	catalog, err := storage.NewCatalog(storage.CatalogConfig{
		Store:    store,
		Logger:   logger,
		MaxNotes: appConfig.MaxNotes,
		CacheTTL: appConfig.CacheTTL,
	})
	if err != nil {
		return err
	}

	m := metrics.New()

	sched, err := scheduler.New(scheduler.Config{
		Flusher:   catalog,
		Logger:    logger,
		OpTimeout: appConfig.OpTimeout,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	registry := server.NewRegistry(server.RegistryConfig{
		Logger:  logger,
		Metrics: m,
	})
	hub := server.NewHub(registry, logger, m)

	protocol, err := server.NewProtocol(server.ProtocolConfig{
		Registry:   registry,
		Hub:        hub,
		Catalog:    catalog,
		Scheduler:  sched,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Protocol:  protocol,
		Registry:  registry,
		Catalog:   catalog,
		Scheduler: sched,
		Metrics:   m,
		Logger:    logger,
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
			zap.String("storage_backend", string(appConfig.StorageBackend)))
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
		if err := sched.Close(shutdownCtx); err != nil {
			logger.Warn("scheduler did not drain before shutdown", zap.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		// Staged position updates must still reach the backend.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := sched.Close(shutdownCtx); closeErr != nil {
			logger.Warn("scheduler did not drain before shutdown", zap.Error(closeErr))
		}
		return err
	}
}

func openStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (storage.BlobStore, func(), error) {
	switch appConfig.StorageBackend {
	case config.BackendS3:
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:   appConfig.Bucket,
			Region:   appConfig.Region,
			Endpoint: appConfig.Endpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.BackendMemory:
		logger.Warn("memory backend selected; notes will not survive a restart")
		return storage.NewMemoryStore(), nil, nil
	default:
		store, err := storage.OpenSQLite(appConfig.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}
