package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes JSON messages to NATS JetStream.
type Publisher struct {
	js      jetstream.JetStream
	timeout time.Duration
	logger  *slog.Logger
}

// NewPublisher creates a publisher. A zero timeout leaves the caller's
// context as the only bound on each publish.
func NewPublisher(js jetstream.JetStream, timeout time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		js:      js,
		timeout: timeout,
		logger:  logger.With("component", "publisher"),
	}
}

// PublishJSON marshals v and publishes it on subject, waiting for the
// stream ack. msgID, when set, is sent as Nats-Msg-Id so JetStream drops
// redelivered copies inside its duplicate window.
func (p *Publisher) PublishJSON(ctx context.Context, subject, msgID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}

	ack, err := p.js.Publish(ctx, subject, data, opts...)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("message published",
		"msg_id", msgID,
		"subject", subject,
		"stream", ack.Stream,
		"sequence", ack.Sequence,
	)
	return nil
}

// Subject roots for decision events and their dead letters.
const (
	DecisionSubjectPrefix = "decisions."
	DLQSubjectPrefix      = "dlq."
)

// DecisionSubject derives the subject for a decision event.
// Format: decisions.{bundle}.{outcome}, with dots in the bundle id
// replaced so each bundle stays a single subject token.
func DecisionSubject(bundleID, outcome string) (string, error) {
	bundle := SanitizeToken(bundleID)
	outcome = SanitizeToken(outcome)
	if bundle == "" || outcome == "" {
		return "", ErrInvalidEvent
	}
	return DecisionSubjectPrefix + bundle + "." + outcome, nil
}

// SanitizeToken makes s safe to use as one NATS subject token: separators
// and wildcards become underscores and whitespace is dropped.
func SanitizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == '.' || r == '*' || r == '>':
			b.WriteByte('_')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
