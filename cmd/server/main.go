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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tyemirov/tgcalendar/internal/backend"
	"github.com/tyemirov/tgcalendar/internal/calendarkit"
	"github.com/tyemirov/tgcalendar/internal/store"
	"github.com/tyemirov/tgcalendar/internal/web"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
)

const (
	defaultListenAddr  = ":8001"
	defaultDatabaseURL = "sqlite://tgcalendar.db"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildIdentityValidator = func(ctx context.Context) (calendarkit.IdentityValidator, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, err
	}
	return validator, nil
}

var newLogger = func() (*zap.Logger, error) {
	return zap.NewProduction()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tgcalendar",
		Short:         "Google Calendar backend for a Telegram bot",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().String("database_backend", string(store.KindSQLite), "Storage backend: sqlite or postgres")
	rootCmd.PersistentFlags().String("database_url", defaultDatabaseURL, "Database URL (sqlite:// or postgres://)")
	bindFlags(rootCmd.PersistentFlags(), "database_backend", "database_url")

	rootCmd.AddCommand(newServeCommand(), newSchemaCommand())

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()
	return rootCmd
}

func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func newServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the calendar HTTP API",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}
	flags := serveCmd.Flags()
	flags.String("listen_addr", defaultListenAddr, "HTTP listen address")
	flags.String("google_client_id", "", "Google OAuth client id")
	flags.String("google_client_secret", "", "Google OAuth client secret")
	flags.String("oauth_redirect_url", calendarkit.DefaultRedirectURL, "OAuth redirect URL registered with Google")
	flags.String("google_auth_url", "", "Override for the Google authorization endpoint")
	flags.String("google_token_url", "", "Override for the Google token endpoint")
	flags.String("calendar_endpoint", "", "Override for the Calendar API base URL")
	flags.String("state_signing_key", "", "HS256 secret for OAuth state values")
	flags.Duration("state_ttl", calendarkit.DefaultStateTTL, "Lifetime of an OAuth state value")
	flags.Duration("remote_call_timeout", calendarkit.DefaultRemoteCallTimeout, "Deadline for each Google call")
	flags.Int("worker_pool_size", calendarkit.DefaultWorkerPoolSize, "Maximum concurrent Google calls")
	flags.Bool("enable_cors", false, "Enable CORS for browser clients")
	flags.StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	bindFlags(flags,
		"listen_addr", "google_client_id", "google_client_secret", "oauth_redirect_url",
		"google_auth_url", "google_token_url", "calendar_endpoint", "state_signing_key",
		"state_ttl", "remote_call_timeout", "worker_pool_size", "enable_cors", "cors_allowed_origins")
	return serveCmd
}

func newSchemaCommand() *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the database schema",
	}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create the users and tokens tables",
		RunE: func(command *cobra.Command, arguments []string) error {
			return withDatabase(command.Context(), func(ctx context.Context, database *backend.Database) error {
				return database.CreateSchema(ctx)
			})
		},
	}
	dropCmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop the tokens and users tables",
		RunE: func(command *cobra.Command, arguments []string) error {
			confirmed, _ := command.Flags().GetBool("confirm")
			if !confirmed {
				return configError(configCodeDropNotConfirmed, "schema drop deletes every stored token; pass --confirm")
			}
			return withDatabase(command.Context(), func(ctx context.Context, database *backend.Database) error {
				return database.DropSchema(ctx)
			})
		},
	}
	dropCmd.Flags().Bool("confirm", false, "Confirm dropping all tables")
	schemaCmd.AddCommand(createCmd, dropCmd)
	return schemaCmd
}

func withDatabase(ctx context.Context, work func(context.Context, *backend.Database) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	databaseConfig, err := LoadDatabaseConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	database, err := backend.Open(ctx, databaseConfig, store.NewZapReporter(logger))
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()
	if err := work(ctx, database); err != nil {
		return err
	}
	logger.Info("schema command completed", zap.String("backend", string(database.Kind())))
	return nil
}

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := newLogger()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	} else {
		commandContext = context.Background()
	}
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	identity, identityErr := buildIdentityValidator(commandContext)
	if identityErr != nil {
		return fmt.Errorf("%s: %w", configCodeIdentityValidatorInit, identityErr)
	}

	database, openErr := backend.Open(commandContext, serverConfig.Database, store.NewZapReporter(logger))
	if openErr != nil {
		return openErr
	}
	defer func() { _ = database.Close() }()
	if err := database.CreateSchema(commandContext); err != nil {
		return err
	}
	logger.Info("storage ready", zap.String("backend", string(database.Kind())))

	metrics := calendarkit.NewCalendarMetrics()
	runtime, runtimeErr := calendarkit.NewRuntime(serverConfig.Service,
		calendarkit.WithLogger(logger),
		calendarkit.WithMetrics(metrics),
		calendarkit.WithIdentityValidator(identity),
	)
	if runtimeErr != nil {
		return runtimeErr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestID())
	router.Use(web.RequestLogger(logger))

	if serverConfig.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, serverConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	web.MountCalendarRoutes(router, web.Dependencies{
		Database: database,
		Runtime:  runtime,
		Metrics:  metrics,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", serverConfig.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
