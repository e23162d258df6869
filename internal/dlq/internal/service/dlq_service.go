// Package service moves decision events that exhausted their deliveries
// into the dead-letter stream.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/appgate/internal/observability"
)

// Headers stamped on every dead-lettered message.
const (
	HeaderOriginalSubject  = "X-DLQ-Original-Subject"
	HeaderOriginalStream   = "X-DLQ-Original-Stream"
	HeaderOriginalConsumer = "X-DLQ-Original-Consumer"
	HeaderOriginalSequence = "X-DLQ-Original-Sequence"
	HeaderDeliveries       = "X-DLQ-Deliveries"
)

// ErrMalformedAdvisory is returned for advisories that cannot be decoded.
var ErrMalformedAdvisory = errors.New("malformed max deliveries advisory")

// AdvisorySubject is the subject the server emits MaxDeliver advisories on.
func AdvisorySubject(streamName, consumerName string) string {
	return fmt.Sprintf("$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES.%s.%s", streamName, consumerName)
}

// Advisory is the part of the MaxDeliver advisory payload the service reads.
type Advisory struct {
	Stream     string `json:"stream"`
	Consumer   string `json:"consumer"`
	StreamSeq  uint64 `json:"stream_seq"`
	Deliveries uint64 `json:"deliveries"`
}

// Store reads the source stream and writes the dead-letter stream.
type Store interface {
	GetMsg(ctx context.Context, stream string, seq uint64) (*jetstream.RawStreamMsg, error)
	Publish(ctx context.Context, msg *nats.Msg) error
}

// JetStreamStore implements Store over a JetStream context.
type JetStreamStore struct {
	JS jetstream.JetStream
}

// GetMsg loads one message by sequence.
func (s JetStreamStore) GetMsg(ctx context.Context, stream string, seq uint64) (*jetstream.RawStreamMsg, error) {
	st, err := s.JS.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", stream, err)
	}
	return st.GetMsg(ctx, seq)
}

// Publish stores msg on JetStream.
func (s JetStreamStore) Publish(ctx context.Context, msg *nats.Msg) error {
	_, err := s.JS.PublishMsg(ctx, msg)
	return err
}

// DLQService subscribes to MaxDeliver advisories for the watched consumers
// and republishes each abandoned message under dlq.<original subject>.
type DLQService struct {
	store      Store
	nc         *nats.Conn
	streamName string
	consumers  []string
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewDLQService creates a new DLQ service.
func NewDLQService(
	store Store,
	nc *nats.Conn,
	streamName string,
	consumers []string,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *DLQService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DLQService{
		store:      store,
		nc:         nc,
		streamName: streamName,
		consumers:  consumers,
		metrics:    metrics,
		logger:     logger.With("component", "dlq-service"),
	}
}

// Start subscribes to one advisory subject per consumer. Advisories are
// handled on the NATS client's callback goroutine.
func (s *DLQService) Start(ctx context.Context) error {
	for _, consumer := range s.consumers {
		subject := AdvisorySubject(s.streamName, consumer)
		sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
			if err := s.HandleAdvisory(ctx, msg.Data); err != nil {
				s.logger.Error("failed to dead-letter message", "subject", subject, "error", err)
			}
		})
		if err != nil {
			s.Stop()
			return fmt.Errorf("failed to subscribe to advisory %s: %w", subject, err)
		}

		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}

	s.logger.Info("DLQ service started", "stream", s.streamName, "consumers", s.consumers)
	return nil
}

// HandleAdvisory moves the message named by one advisory payload.
func (s *DLQService) HandleAdvisory(ctx context.Context, data []byte) error {
	var adv Advisory
	if err := json.Unmarshal(data, &adv); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAdvisory, err)
	}
	if adv.StreamSeq == 0 {
		return fmt.Errorf("%w: missing stream_seq", ErrMalformedAdvisory)
	}
	if adv.Stream == "" {
		adv.Stream = s.streamName
	}

	s.logger.Warn("max deliveries exceeded",
		"stream", adv.Stream,
		"consumer", adv.Consumer,
		"stream_seq", adv.StreamSeq,
		"deliveries", adv.Deliveries,
	)

	raw, err := s.store.GetMsg(ctx, adv.Stream, adv.StreamSeq)
	if err != nil {
		return fmt.Errorf("failed to fetch sequence %d: %w", adv.StreamSeq, err)
	}

	msg := DeadLetter(raw, adv)
	if err := s.store.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Subject, err)
	}

	if s.metrics != nil {
		s.metrics.DLQMessages.Add(ctx, 1, metric.WithAttributes(
			attribute.String("consumer", adv.Consumer),
		))
	}

	s.logger.Warn("message moved to DLQ",
		"dlq_subject", msg.Subject,
		"stream_seq", adv.StreamSeq,
		"consumer", adv.Consumer,
	)
	return nil
}

// DeadLetter builds the dead-letter copy of raw, keeping its headers and
// data and recording where it came from.
func DeadLetter(raw *jetstream.RawStreamMsg, adv Advisory) *nats.Msg {
	headers := nats.Header{}
	for k, v := range raw.Header {
		headers[k] = append([]string(nil), v...)
	}
	headers.Set(HeaderOriginalSubject, raw.Subject)
	headers.Set(HeaderOriginalStream, adv.Stream)
	headers.Set(HeaderOriginalConsumer, adv.Consumer)
	headers.Set(HeaderOriginalSequence, strconv.FormatUint(adv.StreamSeq, 10))
	headers.Set(HeaderDeliveries, strconv.FormatUint(adv.Deliveries, 10))
	// Dead letters are never deduplicated.
	headers.Del(nats.MsgIdHdr)

	return &nats.Msg{
		Subject: "dlq." + raw.Subject,
		Data:    raw.Data,
		Header:  headers,
	}
}

// Stop unsubscribes from all advisory subjects.
func (s *DLQService) Stop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if !sub.IsValid() {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Error("failed to unsubscribe from advisory", "subject", sub.Subject, "error", err)
		}
	}
	s.logger.Info("DLQ service stopped")
}
