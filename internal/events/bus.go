// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/civicdupe/internal/logging"
)

// Bus is the in-process domain-event transport: a gochannel pub/sub fronted
// by a Watermill router that recovers panicking handlers so one broken
// subscriber never takes down another or the publisher.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
}

// New builds a Bus. Call Serve to start routing published messages to
// subscribed handlers. Publishing works immediately, but the pub/sub is
// not persistent: a message published while a topic has no subscriber is
// dropped, not buffered.
func New() (*Bus, error) {
	adapter := zerologAdapter{logger: logging.Logger()}

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, adapter)

	router, err := message.NewRouter(message.RouterConfig{}, adapter)
	if err != nil {
		return nil, fmt.Errorf("create event router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)

	return &Bus{pubsub: pubsub, router: router}, nil
}

// Serve runs the router until ctx is cancelled, satisfying suture.Service so
// the bus can be registered as a supervised background service.
func (b *Bus) Serve(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running returns a channel closed once Serve's router has started
// processing messages — useful for tests and startup synchronization.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close shuts down the underlying pub/sub. Call after Serve returns.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Publish marshals payload and publishes it to topic.
func (b *Bus) Publish(topic Topic, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", topic, err)
	}
	msg := message.NewMessage(uuid.NewString(), data)
	return b.pubsub.Publish(string(topic), msg)
}

// Subscribe registers a no-publisher handler on topic: handler receives the
// raw JSON payload and returns an error to nack (and retry) the message.
func (b *Bus) Subscribe(name string, topic Topic, handler func(ctx context.Context, payload []byte) error) {
	b.router.AddNoPublisherHandler(name, string(topic), b.pubsub, func(msg *message.Message) error {
		return handler(msg.Context(), msg.Payload)
	})
}

// zerologAdapter satisfies watermill.LoggerAdapter over the application's
// structured logger, so router/pubsub diagnostics land in the same log
// stream as everything else instead of watermill's own stdlib logger.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (a zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologAdapter{logger: a.logger.With().Fields(map[string]any(fields)).Logger()}
}
