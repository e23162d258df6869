package configsvc

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/SebastienMelki/appgate/internal/nats"
)

// Event is the record published for every decision.
type Event struct {
	ID            string    `json:"id"`
	DecisionID    string    `json:"decision_id"`
	RequestID     string    `json:"request_id,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Status        int       `json:"status"`
	BundleID      string    `json:"bundle_id,omitempty"`
	OS            string    `json:"os,omitempty"`
	StoreID       string    `json:"store_id,omitempty"`
	Locale        string    `json:"locale,omitempty"`
	AttributionID string    `json:"af_id,omitempty"`
	HasPushToken  bool      `json:"has_push_token"`
	Organic       bool      `json:"organic"`
	URL           string    `json:"url,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	Cached        bool      `json:"cached"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Subject returns the NATS subject for the event.
func (e Event) Subject() (string, error) {
	bundle := e.BundleID
	if bundle == "" {
		bundle = "unknown"
	}
	return nats.DecisionSubject(bundle, string(e.Outcome))
}

// EventPublisher is the subset of nats.Publisher the service uses.
type EventPublisher interface {
	PublishJSON(ctx context.Context, subject, msgID string, v any) error
}

// DuplicateChecker is the subset of dedup.Module the service uses.
type DuplicateChecker interface {
	SeenRecently(parts ...string) bool
}

func newEvent(requestID string, req Request, d Decision, now time.Time) Event {
	return Event{
		ID:            uuid.Must(uuid.NewV7()).String(),
		DecisionID:    d.ID,
		RequestID:     requestID,
		Outcome:       d.Outcome,
		Status:        d.Status,
		BundleID:      req.Field("bundle_id"),
		OS:            req.Field("os"),
		StoreID:       req.Field("store_id"),
		Locale:        req.Field("locale"),
		AttributionID: req.Field("af_id"),
		HasPushToken:  req.Field("push_token") != "",
		Organic:       req.IsOrganic(),
		URL:           d.URL,
		ExpiresAt:     d.ExpiresAt,
		Cached:        d.Cached,
		Message:       d.Message,
		Timestamp:     now,
	}
}
