package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	v1 "freelance-market/dispute-court/dispute-court-backend/api/v1"
	"freelance-market/dispute-court/dispute-court-backend/internal/audit"
	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/config"
	"freelance-market/dispute-court/dispute-court-backend/internal/database"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
	"freelance-market/dispute-court/dispute-court-backend/internal/notifications"
	"freelance-market/dispute-court/dispute-court-backend/internal/projects"
	"freelance-market/dispute-court/dispute-court-backend/internal/realtime"
	"freelance-market/dispute-court/dispute-court-backend/internal/records"
	"freelance-market/dispute-court/dispute-court-backend/internal/sweeper"
	"freelance-market/dispute-court/dispute-court-backend/pkg/storage"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging.Level)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Dispute API stopped with error", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		gin.SetMode(gin.DebugMode)
		logger, err = zap.NewDevelopment()
	} else {
		gin.SetMode(gin.ReleaseMode)
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Connected to database", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	if err := database.Migrate(ctx, db, logger); err != nil {
		return err
	}
	gdb, err := database.OpenGorm(db)
	if err != nil {
		return err
	}

	auditStore, err := audit.NewStore(gdb)
	if err != nil {
		return err
	}
	recorder := audit.NewAsyncRecorder(auditStore, cfg.Audit.QueueSize, logger)
	recorder.Start()
	defer recorder.Stop()

	objects, notifyChannel, err := awsClients(ctx, cfg, logger)
	if err != nil {
		return err
	}
	notifier := notifications.NewDispatcher(notifyChannel, 512, 4, logger)
	notifier.Start()
	defer notifier.Stop()

	registry := realtime.NewRegistry(1024, logger)
	registry.Start(ctx)
	defer registry.Stop()

	disputeRepo := disputes.NewRepository(db)
	hearingRepo := hearings.NewRepository(db)
	directory := projects.NewDirectory(gdb)
	disputeService := disputes.NewService(disputeRepo, directory, notifier, recorder, registry, cfg.Hearings, logger)
	hearingService := hearings.NewService(hearingRepo, disputeService, notifier, recorder, registry, cfg.Hearings, logger)
	disputeService.SetChatGate(hearingService)
	hearingService.SetArchiver(records.NewArchive(objects, cfg.AWS.RecordsBucket, logger))

	if cfg.Sweeper.Enabled {
		deadlines := sweeper.New(hearingRepo, disputeRepo, notifier, registry, cfg.Hearings, cfg.Sweeper.Spec, logger)
		if err := deadlines.Start(); err != nil {
			return err
		}
		defer deadlines.Stop()
	}

	evidence := disputes.NewEvidenceService(disputeRepo, objects, cfg.AWS.EvidenceBucket, recorder, registry, logger)
	tokens := auth.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, 0)

	router := v1.NewRouter(&v1.API{
		Tokens:   tokens,
		Disputes: disputes.NewHandler(disputeService, evidence, logger),
		Hearings: hearings.NewHandler(hearingService, logger),
		Records:  records.NewHandler(hearingService, logger),
		Gateway:  realtime.NewGateway(registry, disputeService, hearingService, tokens, cfg.Realtime, cfg.Server.AllowedOrigins, logger),
		Origins:  cfg.Server.AllowedOrigins,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exiting")
	return nil
}

// awsClients returns S3 and SNS backed collaborators, or in-process ones when AWS is not configured
func awsClients(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.S3Client, notifications.Channel, error) {
	if cfg.AWS.EvidenceBucket == "" && cfg.AWS.NotifyTopicARN == "" {
		logger.Warn("AWS not configured, using in-memory storage and logged notifications")
		return storage.NewMemoryClient(), notifications.NewLogChannel(logger), nil
	}

	awsCfg, err := storage.LoadAWSConfig(ctx, storage.AWSOptions{
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		return nil, nil, err
	}

	objects := storage.NewS3Client(storage.NewS3FromConfig(awsCfg, cfg.AWS.Endpoint))
	var channel notifications.Channel = notifications.NewLogChannel(logger)
	if cfg.AWS.NotifyTopicARN != "" {
		channel = notifications.NewSNSChannel(sns.NewFromConfig(awsCfg, func(o *sns.Options) {
			if cfg.AWS.Endpoint != "" {
				o.BaseEndpoint = &cfg.AWS.Endpoint
			}
		}), cfg.AWS.NotifyTopicARN)
	}
	return objects, channel, nil
}
