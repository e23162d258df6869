package configsvc

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/appgate/internal/observability"
)

// ServiceOptions wires the optional collaborators. Any nil field disables
// that concern.
type ServiceOptions struct {
	Cache     DecisionCache
	Publisher EventPublisher
	Dedup     DuplicateChecker
	Metrics   *observability.Metrics
}

// DecisionService turns config requests into decisions and publishes a
// decision event for each.
type DecisionService struct {
	decider   *Decider
	cache     DecisionCache
	publisher EventPublisher
	dedup     DuplicateChecker
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewDecisionService creates a new decision service.
func NewDecisionService(decider *Decider, opts ServiceOptions, logger *slog.Logger) *DecisionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionService{
		decider:   decider,
		cache:     opts.Cache,
		publisher: opts.Publisher,
		dedup:     opts.Dedup,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "decision-service"),
		now:       time.Now,
	}
}

// Decide answers one config request. It never fails: internal errors
// become a 500 decision so the SDK walks its fallback chain.
func (s *DecisionService) Decide(ctx context.Context, req Request, requestID string) Decision {
	d := s.decide(ctx, req)
	if d.ID == "" {
		d.ID = uuid.Must(uuid.NewV7()).String()
	}

	s.record(ctx, d)
	s.publish(ctx, req, d, requestID)

	s.logger.Debug("decision made",
		"decision_id", d.ID,
		"request_id", requestID,
		"bundle_id", req.Field("bundle_id"),
		"outcome", d.Outcome,
		"cached", d.Cached,
	)
	return d
}

func (s *DecisionService) decide(ctx context.Context, req Request) Decision {
	if d, ok := s.decider.Check(req); !ok {
		return d
	}

	bundleID, afID := req.Field("bundle_id"), req.Field("af_id")

	if s.cache != nil && afID != "" {
		cached, hit, err := s.cache.Get(ctx, bundleID, afID)
		switch {
		case err != nil:
			s.logger.Warn("decision cache read failed", "error", err)
		case hit:
			if s.metrics != nil {
				s.metrics.DecisionCacheHit.Add(ctx, 1)
			}
			return cached
		}
	}

	d, err := s.decider.Render(req, uuid.Must(uuid.NewV7()).String())
	if err != nil {
		s.logger.Error("landing URL render failed", "bundle_id", bundleID, "error", err)
		if s.metrics != nil {
			s.metrics.TemplateErrors.Add(ctx, 1)
		}
		return Decision{Outcome: OutcomeError, Status: http.StatusInternalServerError, Message: "landing URL unavailable"}
	}

	if s.cache != nil && afID != "" {
		if err := s.cache.Put(ctx, bundleID, afID, d); err != nil {
			s.logger.Warn("decision cache write failed", "error", err)
		}
	}
	return d
}

func (s *DecisionService) record(ctx context.Context, d Decision) {
	if s.metrics == nil {
		return
	}
	s.metrics.Decisions.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("outcome", string(d.Outcome)),
		attribute.Bool("cached", d.Cached),
	))
}

// publish sends the decision event unless it repeats one already sent for
// the same install, push token and outcome inside the dedup window.
func (s *DecisionService) publish(ctx context.Context, req Request, d Decision, requestID string) {
	if s.publisher == nil {
		return
	}
	afID := req.Field("af_id")
	if s.dedup != nil && afID != "" &&
		s.dedup.SeenRecently(req.Field("bundle_id"), afID, req.Field("push_token"), string(d.Outcome)) {
		return
	}

	evt := newEvent(requestID, req, d, s.now())
	subject, err := evt.Subject()
	if err != nil {
		s.logger.Warn("decision event has no subject", "error", err)
		return
	}

	// The event outlives a client that hangs up mid-request.
	pubCtx := context.WithoutCancel(ctx)
	if err := s.publisher.PublishJSON(pubCtx, subject, evt.ID, evt); err != nil {
		s.logger.Error("failed to publish decision event",
			"decision_id", evt.DecisionID,
			"subject", subject,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.EventsFailed.Add(ctx, 1)
		}
		return
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.Add(ctx, 1)
	}
}
