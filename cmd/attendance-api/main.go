package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siomalabs/attendance-backend/internal/attendance"
	"github.com/siomalabs/attendance-backend/internal/auth"
	"github.com/siomalabs/attendance-backend/internal/config"
	"github.com/siomalabs/attendance-backend/internal/database"
	"github.com/siomalabs/attendance-backend/internal/logging"
	"github.com/siomalabs/attendance-backend/internal/server"
	"github.com/siomalabs/attendance-backend/internal/workers"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "attendance-api",
		Short: "Offline-first biometric attendance backend service",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Device token TTL in minutes")
	cmd.PersistentFlags().Int("batch-limit", defaults.GetInt("sync.batch_limit"), "Maximum records per sync batch")
	cmd.PersistentFlags().Int("page-limit", defaults.GetInt("workers.page_limit"), "Maximum workers per list page")
	cmd.PersistentFlags().Int("embedding-bytes", defaults.GetInt("workers.embedding_bytes"), "Expected embedding blob length in bytes")
	cmd.PersistentFlags().Bool("dev-token-endpoint", defaults.GetBool("auth.dev_token_endpoint"), "Expose the unauthenticated development token endpoint")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Device token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "sync.batch_limit", "batch-limit")
	bindFlag(cmd, "workers.page_limit", "page-limit")
	bindFlag(cmd, "workers.embedding_bytes", "embedding-bytes")
	bindFlag(cmd, "auth.dev_token_endpoint", "dev-token-endpoint")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	tokenManager, err := auth.NewDeviceTokenIssuer(auth.DeviceTokenConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "attendance-auth",
		Audience:      "attendance-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	workerService, err := workers.NewService(workers.ServiceConfig{
		Database:       db,
		Clock:          time.Now,
		EmbeddingBytes: appConfig.EmbeddingBytes,
		PageLimit:      appConfig.WorkersPageLimit,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	attendanceService, err := attendance.NewService(attendance.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		BatchLimit: appConfig.BatchLimit,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:           tokenManager,
		Workers:          workerService,
		Attendance:       attendanceService,
		Logger:           logger,
		DevTokenEndpoint: appConfig.DevTokenEndpoint,
	})
	if err != nil {
		return err
	}

	if appConfig.DevTokenEndpoint {
		logger.Warn("development token endpoint enabled; do not run this in production")
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
