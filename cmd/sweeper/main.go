package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/config"
	"freelance-market/dispute-court/dispute-court-backend/internal/database"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
	"freelance-market/dispute-court/dispute-court-backend/internal/notifications"
	"freelance-market/dispute-court/dispute-court-backend/internal/sweeper"
	"freelance-market/dispute-court/dispute-court-backend/pkg/storage"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to database")

	channel, err := notificationChannel(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to configure notifications", zap.Error(err))
	}
	notifier := notifications.NewDispatcher(channel, 256, 2, logger)
	notifier.Start()
	defer notifier.Stop()

	// out of process there is no websocket registry to publish to; notifications still go out
	publisher := events.PublisherFunc(func(ctx context.Context, e events.Event) {
		logger.Info("Deadline event",
			zap.String("event", string(e.Type)),
			zap.String("dispute_id", e.DisputeID.String()),
			zap.String("entity_id", e.EntityID.String()),
		)
	})

	s := sweeper.New(hearings.NewRepository(db), disputes.NewRepository(db), notifier, publisher, cfg.Hearings, cfg.Sweeper.Spec, logger)
	if *once {
		report := s.Sweep(ctx)
		logger.Info("Sweep finished",
			zap.Int("overdue_questions", report.OverdueQuestions),
			zap.Int("overdue_hearings", report.OverdueHearings),
			zap.Int("appeal_deadlines", report.AppealDeadlines),
		)
		return
	}
	if !cfg.Sweeper.Enabled {
		logger.Info("Sweeper disabled by configuration")
		return
	}
	if err := s.Start(); err != nil {
		logger.Fatal("Failed to start sweeper", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	s.Stop()
}

func notificationChannel(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notifications.Channel, error) {
	if cfg.AWS.NotifyTopicARN == "" {
		return notifications.NewLogChannel(logger), nil
	}
	awsCfg, err := storage.LoadAWSConfig(ctx, storage.AWSOptions{
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return notifications.NewSNSChannel(sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = &cfg.AWS.Endpoint
		}
	}), cfg.AWS.NotifyTopicARN), nil
}
