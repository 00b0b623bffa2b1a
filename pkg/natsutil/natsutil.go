// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// MsgPublisher is the part of *nats.Conn used for publishing.
type MsgPublisher interface {
	PublishMsg(*nats.Msg) error
}

// Encode builds a JSON message for subject with the trace context from ctx
// injected into its headers.
func Encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"Content-Type": []string{"application/json"}},
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Decode unmarshals msg into T and returns a context carrying the trace
// extracted from its headers.
func Decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
	return ctx, v, nil
}

// Publish serializes v as JSON and publishes to the given subject.
func Publish[T any](ctx context.Context, p MsgPublisher, subject string, v T) error {
	msg, err := Encode(ctx, subject, v)
	if err != nil {
		return err
	}
	return p.PublishMsg(msg)
}

// Handler returns a nats.MsgHandler that decodes T and calls h. Malformed
// messages are logged and dropped.
func Handler[T any](log *slog.Logger, h func(context.Context, T)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, v, err := Decode[T](msg)
		if err != nil {
			log.Warn("dropping malformed message", "subject", msg.Subject, "error", err)
			return
		}
		h(ctx, v)
	}
}

// Subscribe registers h for subject. A non-empty queue makes it a queue
// subscription so only one member of the group handles each message.
func Subscribe[T any](nc *nats.Conn, subject, queue string, log *slog.Logger, h func(context.Context, T)) (*nats.Subscription, error) {
	if queue != "" {
		return nc.QueueSubscribe(subject, queue, Handler(log, h))
	}
	return nc.Subscribe(subject, Handler(log, h))
}
