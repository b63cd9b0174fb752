package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topics carried by the in-process bus.
const (
	TopicMatchSettled = "match.settled"
)

// MatchSettled is emitted whenever a match reaches a terminal state. The
// round advancer consumes it to check whether the round frontier can move.
type MatchSettled struct {
	TournamentID        int       `json:"tournament_id"`
	MatchID             int       `json:"match_id"`
	Status              string    `json:"status"`
	WinnerParticipantID *int      `json:"winner_participant_id,omitempty"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// Publisher is the narrow interface services depend on, so tests can swap
// the bus for a recorder.
type Publisher interface {
	PublishMatchSettled(ctx context.Context, event MatchSettled) error
}

// Bus is an in-process pub/sub built on watermill's gochannel transport.
// Subscribers attached before Publish receive every message in order.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewSlogLogger(logger),
		),
		logger: logger,
	}
}

func (b *Bus) PublishMatchSettled(ctx context.Context, event MatchSettled) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal match settled event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pubSub.Publish(TopicMatchSettled, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", TopicMatchSettled, err)
	}
	return nil
}

// SubscribeMatchSettled delivers settled-match events to handler until ctx is
// cancelled. Handler errors are logged and the message is acked anyway; the
// advancer is idempotent, and a requeue loop would wedge the in-process bus.
func (b *Bus) SubscribeMatchSettled(ctx context.Context, handler func(ctx context.Context, event MatchSettled) error) error {
	messages, err := b.pubSub.Subscribe(ctx, TopicMatchSettled)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicMatchSettled, err)
	}

	go func() {
		for msg := range messages {
			var event MatchSettled
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				b.logger.Error("failed to decode match settled event",
					slog.String("message_id", msg.UUID), slog.Any("error", err))
				msg.Ack()
				continue
			}
			if err := handler(msg.Context(), event); err != nil {
				b.logger.Error("match settled handler failed",
					slog.Int("tournament_id", event.TournamentID),
					slog.Int("match_id", event.MatchID),
					slog.Any("error", err))
			}
			msg.Ack()
		}
	}()
	return nil
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
