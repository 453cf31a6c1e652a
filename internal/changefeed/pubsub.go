package changefeed

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
	"github.com/angelmondragon/restaurant-liveops/pkg/metrics"
)

type pubSubClient interface {
	Ping(context.Context) error
	StreamSubscription(stream enums.Stream) *gcppubsub.Subscriber
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type receiverFactory func(stream enums.Stream) receiver

// PubSubSource reads relayed change envelopes from one subscription per stream.
type PubSubSource struct {
	client   pubSubClient
	logg     *logger.Logger
	metrics  *metrics.PipelineMetrics
	receiver receiverFactory
}

func NewPubSubSource(client pubSubClient, logg *logger.Logger, m *metrics.PipelineMetrics) (*PubSubSource, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &PubSubSource{
		client:  client,
		logg:    logg,
		metrics: m,
		receiver: func(stream enums.Stream) receiver {
			sub := client.StreamSubscription(stream)
			if sub == nil {
				return nil
			}
			return sub
		},
	}, nil
}

func (s *PubSubSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *PubSubSource) Subscribe(ctx context.Context, stream enums.Stream, handle Handler) error {
	if handle == nil {
		return errors.New("handler required")
	}
	sub := s.receiver(stream)
	if sub == nil {
		return fmt.Errorf("subscription for stream %s not configured", stream)
	}
	return sub.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		result := s.process(ctx, stream, msg, handle)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (s *PubSubSource) process(ctx context.Context, stream enums.Stream, msg *gcppubsub.Message, handle Handler) processResult {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"stream":     string(stream),
	})

	change, err := DecodeEnvelope(msg.Data)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "dropping undecodable change message")
		s.metrics.IncChange(string(stream), "malformed")
		return processResult{ack: true}
	}
	if change.Stream != stream {
		s.logg.Warn(s.logg.WithField(logCtx, "envelope_stream", string(change.Stream)), "change delivered on the wrong subscription")
		s.metrics.IncChange(string(stream), "malformed")
		return processResult{ack: true}
	}

	if err := handle(ctx, change); err != nil {
		s.logg.Error(logCtx, "change handler rejected message", err)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}
