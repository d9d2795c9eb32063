package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/totegamma/sharedbag"
)

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, channel string, event sharedbag.Event) error {

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, channel, jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Subscribe streams the events of channel until ctx is done.
func (s *SignalService) Subscribe(ctx context.Context, channel string) (<-chan sharedbag.Event, error) {
	pubsub := s.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan sharedbag.Event)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				event, err := decodeEvent(msg.Payload)
				if err != nil {
					slog.WarnContext(
						ctx, "dropped malformed event",
						slog.String("channel", channel),
						slog.String("error", err.Error()),
						slog.String("module", "signal"),
					)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func decodeEvent(payload string) (sharedbag.Event, error) {
	var event sharedbag.Event
	err := json.Unmarshal([]byte(payload), &event)
	return event, err
}
