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

	"github.com/inkwelldms/inkwell/internal/annotations"
	"github.com/inkwelldms/inkwell/internal/auth"
	"github.com/inkwelldms/inkwell/internal/config"
	"github.com/inkwelldms/inkwell/internal/database"
	"github.com/inkwelldms/inkwell/internal/documents"
	"github.com/inkwelldms/inkwell/internal/filestore"
	"github.com/inkwelldms/inkwell/internal/logging"
	"github.com/inkwelldms/inkwell/internal/presence"
	"github.com/inkwelldms/inkwell/internal/realtime"
	"github.com/inkwelldms/inkwell/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const tokenIssuerName = "inkwell-api"

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "inkwell-api",
		Short: "Inkwell document annotation backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newDevTokenCommand())

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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("storage-driver", defaults.GetString("storage.driver"), "File storage driver (local or minio)")
	cmd.PersistentFlags().String("storage-dir", defaults.GetString("storage.dir"), "Directory for the local storage driver")
	cmd.PersistentFlags().String("storage-base-url", defaults.GetString("storage.base_url"), "Public base URL for stored files")
	cmd.PersistentFlags().String("minio-endpoint", "", "MinIO endpoint for the minio storage driver")
	cmd.PersistentFlags().String("minio-access-key", "", "MinIO access key")
	cmd.PersistentFlags().String("minio-secret-key", "", "MinIO secret key")
	cmd.PersistentFlags().String("minio-bucket", "", "MinIO bucket")
	cmd.PersistentFlags().String("redis-url", "", "Redis URL for presence tracking (optional)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "storage.dir", "storage-dir")
	bindFlag(cmd, "storage.base_url", "storage-base-url")
	bindFlag(cmd, "minio.endpoint", "minio-endpoint")
	bindFlag(cmd, "minio.access_key", "minio-access-key")
	bindFlag(cmd, "minio.secret_key", "minio-secret-key")
	bindFlag(cmd, "minio.bucket", "minio-bucket")
	bindFlag(cmd, "redis.url", "redis-url")
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

// newDevTokenCommand mints a session token for local development; the API
// itself never issues tokens.
func newDevTokenCommand() *cobra.Command {
	var (
		userID      string
		displayName string
		roles       []string
	)
	cmd := &cobra.Command{
		Use:   "dev-token",
		Short: "Mint a development session token",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        tokenIssuerName,
				TokenTTL:      time.Duration(appConfig.TokenTTLMinutes) * time.Minute,
			})
			token, err := issuer.IssueToken(userID, displayName, roles)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "dev-user", "Subject user id")
	cmd.Flags().StringVar(&displayName, "name", "Dev User", "Display name")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Roles to embed (repeatable)")
	return cmd
}

func buildFileStore(ctx context.Context, appConfig config.AppConfig) (filestore.Store, error) {
	switch appConfig.StorageDriver {
	case "minio":
		return filestore.NewMinioStore(ctx, filestore.MinioConfig{
			Endpoint:  appConfig.MinioEndpoint,
			AccessKey: appConfig.MinioAccessKey,
			SecretKey: appConfig.MinioSecretKey,
			Bucket:    appConfig.MinioBucket,
			UseSSL:    appConfig.MinioUseSSL,
			BaseURL:   appConfig.StorageBaseURL,
		})
	default:
		return filestore.NewLocalStore(appConfig.StorageDir, appConfig.StorageBaseURL)
	}
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

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuerName,
	})
	if err != nil {
		return err
	}

	annotationStore, err := annotations.NewStore(annotations.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: annotations.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	blobStore, err := annotations.NewBlobStore(annotations.BlobStoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	lockGate, err := annotations.NewLockGate(annotations.LockGateConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	files, err := buildFileStore(ctx, appConfig)
	if err != nil {
		return err
	}
	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Files:      files,
		Clock:      time.Now,
		IDProvider: annotations.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var presenceTracker *presence.Tracker
	if appConfig.RedisURL != "" {
		presenceTracker, err = presence.NewTracker(ctx, presence.TrackerConfig{RedisURL: appConfig.RedisURL})
		if err != nil {
			return err
		}
		defer presenceTracker.Close() //nolint:errcheck
	} else {
		logger.Info("presence tracking disabled, no redis url configured")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Validator:   validator,
		Annotations: annotationStore,
		Blobs:       blobStore,
		Locks:       lockGate,
		Documents:   documentService,
		Presence:    presenceTracker,
		Dispatcher:  realtime.NewDispatcher(),
		Logger:      logger,
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
