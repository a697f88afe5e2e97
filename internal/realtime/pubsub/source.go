// Package pubsub feeds row-change notifications published to a Google Cloud
// Pub/Sub subscription into the realtime hub.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/realtime"
)

// receiver is the subset of *pubsub.Subscription used by Source.
type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
	ID() string
}

// Source receives change messages and republishes them as ChangeEvents.
type Source struct {
	sub    receiver
	out    realtime.Publisher
	logger *zap.Logger
}

// New wires a subscription to a realtime publisher.
func New(sub *pubsub.Subscription, out realtime.Publisher, logger *zap.Logger) (*Source, error) {
	if sub == nil {
		return nil, errors.New("pubsub subscription is required")
	}
	return newSource(sub, out, logger)
}

func newSource(sub receiver, out realtime.Publisher, logger *zap.Logger) (*Source, error) {
	if out == nil {
		return nil, errors.New("realtime publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{sub: sub, out: out, logger: logger}, nil
}

// Run blocks receiving messages until ctx is canceled. Undecodable messages
// are acked and logged so they are not redelivered forever.
func (s *Source) Run(ctx context.Context) error {
	s.logger.Info("pubsub change source started", zap.String("subscription", s.sub.ID()))
	err := s.sub.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		evt, err := Decode(msg.Data, msg.Attributes)
		if err != nil {
			s.logger.Warn("discarding change message", zap.String("message_id", msg.ID), zap.Error(err))
			msg.Ack()
			return
		}
		if evt.At.IsZero() {
			evt.At = msg.PublishTime.UTC()
		}
		s.out.Publish(evt)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

// Decode reads a change from message attributes (table, op, id) or, when the
// attributes carry no table, from the JSON body.
func Decode(data []byte, attrs map[string]string) (realtime.ChangeEvent, error) {
	if attrs["table"] != "" {
		evt, err := realtime.DecodeAttributes(attrs)
		if err != nil {
			return realtime.ChangeEvent{}, fmt.Errorf("decode attributes: %w", err)
		}
		return evt, nil
	}
	evt, err := realtime.DecodeChange(data)
	if err != nil {
		return realtime.ChangeEvent{}, fmt.Errorf("decode body: %w", err)
	}
	return evt, nil
}
