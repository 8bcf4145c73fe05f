package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubsubTriggerConfig holds configuration for the Pub/Sub refresh trigger.
type PubsubTriggerConfig struct {
	SubscriptionID string
}

// PubsubTrigger listens on a Pub/Sub subscription and triggers cache
// refreshes when messages arrive. A message with a "topic" attribute
// refreshes that one topic; a message without it refreshes all of them.
// This lets an external cron (e.g. Cloud Scheduler publishing to the topic)
// drive refreshes without exposing any payload contract beyond the tick.
//
// Messages are always acked: a failed refresh is logged by the scheduler and
// retried on the next tick, so redelivery would only stack duplicate work.
type PubsubTrigger struct {
	subscription *pubsub.Subscription
	scheduler    *Scheduler
	logger       zerolog.Logger

	cancelReceive context.CancelFunc
	doneChan      chan struct{}
	stopOnce      sync.Once
}

// NewPubsubTrigger creates a trigger bound to an existing subscription. It
// verifies the subscription exists before returning.
func NewPubsubTrigger(
	cfg *PubsubTriggerConfig,
	client *pubsub.Client,
	scheduler *Scheduler,
	logger zerolog.Logger,
) (*PubsubTrigger, error) {
	if scheduler == nil {
		return nil, errors.New("scheduler cannot be nil")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	existsCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if !exists || err != nil {
		return nil, fmt.Errorf("subscription %s does not exist: %w", cfg.SubscriptionID, err)
	}

	return &PubsubTrigger{
		subscription: sub,
		scheduler:    scheduler,
		logger:       logger.With().Str("component", "PubsubTrigger").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start begins receiving trigger messages in a background goroutine.
func (t *PubsubTrigger) Start(ctx context.Context) error {
	receiveCtx, cancel := context.WithCancel(ctx)
	t.cancelReceive = cancel

	go func() {
		defer close(t.doneChan)
		t.logger.Info().Msg("Pub/Sub trigger receiving.")
		err := t.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			if topicID := msg.Attributes["topic"]; topicID != "" {
				t.logger.Info().Str("topic", topicID).Str("msg_id", msg.ID).Msg("Refresh trigger received for topic.")
				t.scheduler.TriggerTopic(receiveCtx, topicID)
			} else {
				t.logger.Info().Str("msg_id", msg.ID).Msg("Refresh trigger received for all topics.")
				t.scheduler.TriggerAll(receiveCtx)
			}
			msg.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Error().Err(err).Msg("Pub/Sub Receive exited with error.")
		}
	}()
	return nil
}

// Stop halts message reception and waits for the receive goroutine to exit.
func (t *PubsubTrigger) Stop(ctx context.Context) error {
	var err error
	t.stopOnce.Do(func() {
		t.logger.Info().Msg("Stopping Pub/Sub trigger...")
		if t.cancelReceive != nil {
			t.cancelReceive()
		}
		select {
		case <-t.doneChan:
			t.logger.Info().Msg("Pub/Sub trigger stopped.")
		case <-ctx.Done():
			t.logger.Error().Msg("Timeout waiting for Pub/Sub trigger to stop.")
			err = ctx.Err()
		}
	})
	return err
}
