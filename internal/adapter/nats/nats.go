// Package nats implements the message queue port using NATS JetStream and
// publishes session progress as a broadcast observer.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/patternwatch/internal/logger"
	"github.com/Strob0t/patternwatch/internal/port/messagequeue"
)

const (
	headerRequestID = "X-Request-ID"
	headerSessionID = "X-Session-ID"
)

var _ messagequeue.Queue = (*Queue)(nil)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
}

// Connect establishes a connection to NATS and ensures a JetStream stream
// capturing every subject under prefix exists.
func Connect(ctx context.Context, url, prefix string) (*Queue, error) {
	nc, err := nats.Connect(url, nats.Name("patternwatch"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	name := streamName(prefix)
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{prefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", name)
	return &Queue{nc: nc, js: js, stream: name}, nil
}

// streamName derives a valid stream name from a subject prefix.
func streamName(prefix string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return strings.ToUpper(r.Replace(prefix))
}

// Publish validates data against the subject schema and sends it. Request
// and session IDs from ctx travel as headers.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}

	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if id := logger.SessionID(ctx); id != "" {
		msg.Header.Set(headerSessionID, id)
	}

	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject. Messages
// that fail validation are moved to the dead-letter subject.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
			slog.Warn("invalid message moved to dlq", "subject", msg.Subject(), "error", err)
			q.moveToDLQ(msg)
			return
		}

		mctx := context.Background()
		if h := msg.Headers(); h != nil {
			if id := h.Get(headerRequestID); id != "" {
				mctx = logger.WithRequestID(mctx, id)
			}
			if id := h.Get(headerSessionID); id != "" {
				mctx = logger.WithSessionID(mctx, id)
			}
		}

		if err := handler(mctx, msg.Subject(), msg.Data()); err != nil {
			slog.ErrorContext(mctx, "message handler failed", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) moveToDLQ(msg jetstream.Msg) {
	dlq := messagequeue.DLQSubject(msg.Subject())
	if _, err := q.js.Publish(context.Background(), dlq, msg.Data()); err != nil {
		slog.Error("nats dlq publish failed", "subject", dlq, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "error", err)
	}
}

// Drain gracefully drains all subscriptions and closes the connection.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

// ReportBucket returns the key-value bucket used to share rendered reports,
// creating it when missing. Entries expire after ttl.
func (q *Queue) ReportBucket(ctx context.Context, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      q.stream + "_REPORTS",
		Description: "rendered session reports",
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv bucket: %w", err)
	}
	return kv, nil
}
