package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Service pulls Gmail notifications from a Pub/Sub subscription. It is the
// alternative to the push endpoint for deployments without a public URL.
type Service struct {
	pubsubClient *pubsub.Client
	ingestor     *Ingestor
	topicName    string
	subName      string
}

func NewService(ctx context.Context, projectID, topicName, subName string, ingestor *Ingestor, credentialsFile string) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	if subName == "" {
		subName = topicName + "-sub"
	}
	return &Service{
		pubsubClient: client,
		ingestor:     ingestor,
		topicName:    topicName,
		subName:      subName,
	}, nil
}

// Start receives until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting pull subscriber, topic: %s, subscription: %s", s.topicName, s.subName)

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		log.Printf("[PubSub] %v", err)
		return
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.handleMessage(ctx, sub.String(), msg.ID, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
	log.Printf("[PubSub] Subscriber stopped")
}

// handleMessage reports whether the message should be acked. Only storage
// failures are redelivered; rejected notifications would fail the same way again.
func (s *Service) handleMessage(ctx context.Context, subscription, id string, data []byte) bool {
	err := s.ingestor.Accept(ctx, subscription, data)
	if err == nil {
		return true
	}
	if errors.Is(err, emaildomain.ErrAuthentication) ||
		errors.Is(err, emaildomain.ErrMailboxNotFound) ||
		errors.Is(err, emaildomain.ErrMailboxSuspended) ||
		errors.Is(err, ErrInvalidPayload) {
		log.Printf("[PubSub] Dropping message %s: %v", id, err)
		return true
	}
	log.Printf("[PubSub] Failed to handle message %s, will be redelivered: %v", id, err)
	return false
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("error checking subscription existence: %w", err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("error checking topic existence: %w", err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist, cannot create subscription", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	log.Printf("[PubSub] Created subscription: %s", s.subName)
	return sub, nil
}

func (s *Service) Close() error {
	return s.pubsubClient.Close()
}
