package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-api-notify/internal/application/dispatch"
	"github.com/go-api-notify/internal/application/notification"
	"github.com/go-api-notify/internal/application/preference"
	"github.com/go-api-notify/internal/application/push"
	"github.com/go-api-notify/internal/application/reminder"
	"github.com/go-api-notify/internal/config"
	"github.com/go-api-notify/internal/infrastructure/awsx"
	"github.com/go-api-notify/internal/infrastructure/cache"
	"github.com/go-api-notify/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-api-notify/internal/infrastructure/jwt"
	"github.com/go-api-notify/internal/infrastructure/realtime"
	"github.com/go-api-notify/internal/infrastructure/sns"
	"github.com/go-api-notify/internal/infrastructure/webpush"
	transporthttp "github.com/go-api-notify/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsx.Load(ctx, cfg, cfg.AWSRegion)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(awsCfg, cfg.AWSEndpointURL)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	notificationRepo := dynamo.NewNotificationRepo(dynamoClient, cfg.DynamoTables.Notifications, cfg.NotificationRetention)
	preferenceRepo := dynamo.NewPreferenceRepo(dynamoClient, cfg.DynamoTables.Preferences)
	subscriptionRepo := dynamo.NewSubscriptionRepo(dynamoClient, cfg.DynamoTables.PushSubscriptions)
	reminderRepo := dynamo.NewReminderRepo(dynamoClient, cfg.DynamoTables.Reminders)

	// One cache connection for the whole process; it dials lazily.
	cacheOpts := cache.OptionsFromConfig(cfg)
	cacheOpts.Logger = logger
	store := cache.New(cacheOpts)
	defer store.Close()

	broker := realtime.NewBroker(store, logger)
	hub := realtime.NewHub(broker, store, cfg.AllowedOrigins, logger)
	go hub.Run(ctx)

	// Push transports (optional, graceful fallback when not configured).
	var senders []push.Sender
	if s, err := webpush.NewSender(cfg); err == nil {
		senders = append(senders, s)
	} else {
		log.Printf("WARN: web push disabled: %v", err)
	}
	if cfg.SNSRegion != "" {
		snsCfg, err := awsx.Load(ctx, cfg, cfg.SNSRegion)
		if err != nil {
			log.Printf("WARN: SNS push disabled: %v", err)
		} else {
			senders = append(senders, sns.NewSender(snsCfg, cfg.AWSEndpointURL))
		}
	}

	// JWT provider (optional, authenticated routes answer 503 without it).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	notifSvc := notification.NewService(notificationRepo, store, broker, logger)
	prefSvc := preference.NewService(preferenceRepo, store, cfg.DefaultTimezone, cfg.DefaultMaxPerDay, logger)
	pushSvc := push.NewService(subscriptionRepo, store, logger, senders...)

	scheduler := reminder.NewScheduler(reminderRepo, cfg.Location(), logger)
	dispatcher := dispatch.New(notificationRepo, prefSvc, store, pushSvc, broker, notifSvc, scheduler, dispatch.Options{
		DeliveryTimeout: cfg.DeliveryTimeout,
		DefaultLocation: cfg.Location(),
		Logger:          logger,
	})
	if err := scheduler.Start(ctx, dispatcher); err != nil {
		log.Printf("WARN: reminders not restored: %v", err)
	}

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Notifications: notifSvc,
		Preferences:   prefSvc,
		Push:          pushSvc,
		Dispatcher:    dispatcher,
		Reminders:     scheduler,
		Realtime:      hub,
		Cache:         store,
		JWTProvider:   jwtProvider,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Printf("reminders did not drain: %v", err)
	}
	log.Println("Server stopped")
}
