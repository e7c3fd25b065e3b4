// Package broker connects to NATS, keeps the session event stream in place
// and publishes or tails session lifecycle events.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/MikeSquared-Agency/diarist/internal/events"
)

// StreamName is the JetStream stream retaining session events.
const StreamName = "DIARIST_EVENTS"

var streamSubjects = []string{events.SubjectPrefix + "session.>"}

// HandlerFunc receives each normalized event delivered to a tail.
type HandlerFunc func(ctx context.Context, e events.Event)

type Broker struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	subs   []jetstream.ConsumeContext
	ctx    context.Context
	cancel context.CancelFunc
}

func New(natsURL string) (*Broker, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("diarist"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	bctx, bcancel := context.WithCancel(context.Background())
	return &Broker{nc: nc, js: js, ctx: bctx, cancel: bcancel}, nil
}

// EnsureStream creates the session event stream if it does not exist.
func (b *Broker) EnsureStream(ctx context.Context) error {
	_, err := b.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = b.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  streamSubjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}

	slog.Info("created stream", "name", StreamName, "subjects", streamSubjects)
	return nil
}

// Publish sends a message to NATS. Its signature matches
// transcript.PublishFunc.
func (b *Broker) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

// Tail consumes the event stream and calls fn for every event. A non-empty
// durable name resumes where that consumer left off; otherwise only events
// published from now on are delivered.
func (b *Broker) Tail(ctx context.Context, durable string, fn HandlerFunc) error {
	cfg := jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
	}
	if durable != "" {
		cfg.Name = durable
		cfg.Durable = durable
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		handleMessage(b.ctx, msg, fn)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", StreamName, err)
	}
	b.subs = append(b.subs, cc)

	slog.Info("tailing stream", "stream", StreamName, "durable", durable)
	return nil
}

func handleMessage(ctx context.Context, msg jetstream.Msg, fn HandlerFunc) {
	e, err := events.Normalize(msg.Data())
	if err != nil {
		slog.Warn("malformed event, skipping",
			"subject", msg.Subject(),
			"error", err,
		)
		// Ack to avoid redelivery of permanently broken messages.
		_ = msg.Ack()
		return
	}

	if e.Source == "" {
		e.Source = msg.Subject()
	}

	fn(ctx, e)

	if err := msg.Ack(); err != nil {
		slog.Warn("failed to ack message", "subject", msg.Subject(), "error", err)
	}
}

// Connected reports whether the NATS connection is currently up.
func (b *Broker) Connected() bool {
	return b.nc.IsConnected()
}

// Close stops tails and drains the NATS connection.
func (b *Broker) Close() {
	b.cancel()
	for _, cc := range b.subs {
		cc.Stop()
	}
	if err := b.nc.Drain(); err != nil {
		slog.Warn("NATS drain failed", "error", err)
	}
}
