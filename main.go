package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	api "mailsync-backend/cmd/api"
	approvalDelivery "mailsync-backend/internal/approval/delivery"
	approvalUsecase "mailsync-backend/internal/approval/usecase"
	auditRepo "mailsync-backend/internal/audit/repository"
	authDelivery "mailsync-backend/internal/auth/delivery"
	authRepo "mailsync-backend/internal/auth/repository"
	authUsecase "mailsync-backend/internal/auth/usecase"
	emailDelivery "mailsync-backend/internal/email/delivery"
	emailRepo "mailsync-backend/internal/email/repository"
	emailUsecase "mailsync-backend/internal/email/usecase"
	mailboxDelivery "mailsync-backend/internal/mailbox/delivery"
	mailboxRepo "mailsync-backend/internal/mailbox/repository"
	mailboxUsecase "mailsync-backend/internal/mailbox/usecase"
	"mailsync-backend/internal/notification"
	"mailsync-backend/internal/scheduler"
	"mailsync-backend/pkg/ai"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/database"
	"mailsync-backend/pkg/fcm"
	"mailsync-backend/pkg/gmail"
	"mailsync-backend/pkg/utils/crypto"

	"github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

func main() {
	// Load configuration
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	audits := auditRepo.NewAuditRepository(db)
	mailboxes := mailboxRepo.NewMailboxRepository(db, audits)
	watermarks := mailboxRepo.NewWatermarkRepository(db, audits)
	messages := emailRepo.NewMessageRepository(db, audits)
	devices := authRepo.NewDeviceTokenRepository(db)

	cipher, err := crypto.NewCipher(cfg.TokenEncryptionKey)
	if err != nil {
		log.Fatal("TOKEN_ENCRYPTION_KEY is required:", err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailModifyScope},
	}
	tokens := mailboxUsecase.NewTokenStore(mailboxes, cipher, oauthConfig)
	gmailService := gmail.NewService(tokens)

	// Classifier
	ollamaSettings := ai.NewRuntimeSettings(cfg.OllamaBaseURL, cfg.OllamaModel)
	generator, err := ai.NewGenerator(ai.Config{
		Provider:     ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey: cfg.GeminiApiKey,
		Ollama:       ollamaSettings,
	})
	if err != nil {
		log.Fatal("Failed to initialize classifier:", err)
	}
	log.Printf("AI classifier initialized with provider: %s", cfg.AIProvider)
	classifier := ai.NewClassifier(generator, nil)

	// Operator notifications are optional
	var notifier approvalUsecase.Notifier
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials)
		if err != nil {
			log.Printf("[WARN] Failed to initialize FCM client (operator notifications disabled): %v", err)
		} else {
			notifier = notification.NewOperatorNotifier(fcmClient, devices)
		}
	} else {
		log.Printf("[WARN] No Firebase credentials configured, operator notifications disabled")
	}

	backoff := gax.Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2}

	approvals := approvalUsecase.NewApprovalUsecase(messages, gmailService, approvalUsecase.Policy{
		Enabled:           cfg.AutoSendEnabled,
		Threshold:         cfg.AutoSendThreshold,
		AllowedCategories: cfg.AutoSendCategories,
	}, notifier, approvalUsecase.Config{
		CallTimeout: cfg.ProviderTimeout,
		MaxAttempts: cfg.ProviderMaxAttempts,
		Backoff:     backoff,
	})

	processor := emailUsecase.NewProcessor(messages, classifier, approvals, emailUsecase.ProcessorConfig{
		ClassifierTimeout: cfg.ClassifierTimeout,
		MaxAttempts:       cfg.ProviderMaxAttempts,
		Backoff:           backoff,
		AutoCreateDrafts:  cfg.AutoCreateDrafts,
	})

	engine := emailUsecase.NewSyncEngine(gmailService, messages, mailboxes, watermarks, audits, processor, emailUsecase.SyncConfig{
		Lookback:    cfg.HistoryLookback,
		LookbackMax: cfg.LookbackMaxMessages,
		CallTimeout: cfg.ProviderTimeout,
		MaxAttempts: cfg.ProviderMaxAttempts,
		Backoff:     backoff,
	})
	coordinator := emailUsecase.NewCoordinator(ctx, engine)

	// Push ingestion
	ingestor := notification.NewIngestor(mailboxes, coordinator, cfg.GooglePubSubSubscription)
	pushHandler := notification.NewPushHandler(ingestor, cfg.PushVerificationToken, cfg.PushVerificationHeader)

	// Gmail watch needs the full topic resource name; Pub/Sub wants the short one
	topicName := cfg.GooglePubSubTopic
	if parts := strings.Split(topicName, "/"); len(parts) > 1 {
		topicName = parts[len(parts)-1]
	}
	if topicName == "" {
		topicName = "gmail-updates"
	}
	watchTopic := cfg.GooglePubSubTopic
	if !strings.HasPrefix(watchTopic, "projects/") && cfg.GoogleProjectID != "" {
		watchTopic = "projects/" + cfg.GoogleProjectID + "/topics/" + topicName
	}

	var pullService *notification.Service
	if cfg.PubSubPullEnabled && cfg.GoogleProjectID != "" {
		pullService, err = notification.NewService(ctx, cfg.GoogleProjectID, topicName, cfg.GooglePubSubSubscription, ingestor, cfg.GoogleCredentials)
		if err != nil {
			log.Printf("[ERROR] Failed to initialize pull subscriber: %v", err)
		} else {
			go pullService.Start(ctx)
		}
	} else {
		log.Printf("[WARN] Pub/Sub pull disabled, relying on push endpoint")
	}

	mailboxUc := mailboxUsecase.NewMailboxUsecase(mailboxes, watermarks, audits, tokens, oauthConfig, gmailService, gmailService, watchTopic)
	authUc := authUsecase.NewAuthUsecase(devices, cfg)

	var watches scheduler.WatchRenewer
	if cfg.GoogleProjectID != "" {
		watches = mailboxUc
	}
	sweeper := scheduler.NewSweeper(messages, mailboxes, processor, coordinator, watches, scheduler.Config{
		Interval:         cfg.SweepInterval,
		AutoCreateDrafts: cfg.AutoCreateDrafts,
	})
	sweeper.Start(ctx)

	// Initialize HTTP handler
	handler := api.NewHandler(authUc, api.Handlers{
		Auth:     authDelivery.NewAuthHandler(authUc),
		Mailbox:  mailboxDelivery.NewMailboxHandler(mailboxUc),
		Email:    emailDelivery.NewEmailHandler(coordinator, messages),
		Approval: approvalDelivery.NewApprovalHandler(approvals),
		Push:     pushHandler,
		Settings: api.NewSettingsHandler(ollamaSettings),
	})

	errs := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		errs <- handler.Start(":" + cfg.Port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("Received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	cancel()
	sweeper.Stop()
	coordinator.Wait()
	if pullService != nil {
		if err := pullService.Close(); err != nil {
			log.Printf("Pub/Sub close error: %v", err)
		}
	}
	log.Println("Shutdown complete")
}
