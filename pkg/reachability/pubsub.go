package reachability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// StateAttribute is the message attribute carrying the reachability state.
const StateAttribute = "state"

// SequenceAttribute optionally carries a publisher-assigned, increasing
// sequence number (Unix nanoseconds at publish works). Without it a message is
// ordered by its publish time, so one topic should not mix the two.
const SequenceAttribute = "seq"

// PubSubConfig names the subscription that carries reachability updates.
type PubSubConfig struct {
	ProjectID      string
	SubscriptionID string
	// Initial is the state assumed before the first message arrives.
	Initial State
}

// PubSubSignal is a Signal fed by a Pub/Sub subscription. Each message's
// "state" attribute sets the current state; other messages are acked and ignored.
// Pub/Sub may redeliver or reorder, so a message older than the newest one
// applied is dropped.
type PubSubSignal struct {
	*Value

	orderMu sync.Mutex
	lastSeq int64

	subscription       *pubsub.Subscription
	logger             zerolog.Logger
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewPubSubSignal verifies the subscription exists and returns an unstarted signal.
func NewPubSubSignal(ctx context.Context, cfg PubSubConfig, client *pubsub.Client, logger zerolog.Logger) (*PubSubSignal, error) {
	sub := client.Subscription(cfg.SubscriptionID)

	existsCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	ok, err := sub.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}
	// Sequential handling; ordering across messages is enforced in handle.
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = 1

	return &PubSubSignal{
		Value:        NewValue(cfg.Initial),
		subscription: sub,
		logger:       logger.With().Str("component", "PubSubSignal").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start begins consuming state updates in the background.
func (s *PubSubSignal) Start(ctx context.Context) error {
	receiveCtx, cancel := context.WithCancel(ctx)
	s.cancelSubscription = cancel

	go func() {
		defer close(s.doneChan)
		s.logger.Info().Msg("Reachability receiver started.")
		err := s.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			s.handle(msg.ID, msg.Attributes, msg.PublishTime)
			msg.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("Reachability receiver exited with error.")
		}
		s.logger.Info().Msg("Reachability receiver stopped.")
	}()
	return nil
}

func (s *PubSubSignal) handle(id string, attributes map[string]string, published time.Time) {
	raw, ok := attributes[StateAttribute]
	if !ok {
		s.logger.Warn().Str("msg_id", id).Msg("Message has no state attribute, ignoring.")
		return
	}
	state, ok := ParseState(raw)
	if !ok {
		s.logger.Warn().Str("msg_id", id).Str("state", raw).Msg("Unknown reachability state, ignoring.")
		return
	}
	seq := published.UnixNano()
	if rawSeq, ok := attributes[SequenceAttribute]; ok {
		n, err := strconv.ParseInt(rawSeq, 10, 64)
		if err != nil {
			s.logger.Warn().Str("msg_id", id).Str("seq", rawSeq).Msg("Invalid sequence attribute, ignoring.")
			return
		}
		seq = n
	}

	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	if seq < s.lastSeq {
		s.logger.Debug().Str("msg_id", id).Int64("seq", seq).Int64("last_seq", s.lastSeq).Msg("Stale reachability update, dropping.")
		return
	}
	s.lastSeq = seq
	s.logger.Debug().Str("state", state.String()).Int64("seq", seq).Msg("Reachability update received.")
	s.Set(state)
}

// Stop cancels the receiver and waits for it to exit or for ctx to end.
func (s *PubSubSignal) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancelSubscription == nil {
			return
		}
		s.cancelSubscription()
		select {
		case <-s.doneChan:
		case <-ctx.Done():
			err = fmt.Errorf("timeout waiting for reachability receiver to stop: %w", ctx.Err())
		}
	})
	return err
}

// Done is closed once the receiver has exited.
func (s *PubSubSignal) Done() <-chan struct{} { return s.doneChan }
