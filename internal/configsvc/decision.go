package configsvc

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/osteele/liquid"
)

// Request is the flat JSON body the SDK posts: device fields, af_id,
// push_token and every conversion data key.
type Request map[string]any

// Field returns key as a trimmed string. Non-string values are formatted.
func (r Request) Field(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

// IsOrganic reports whether af_status is "Organic".
func (r Request) IsOrganic() bool {
	return strings.EqualFold(r.Field("af_status"), "organic")
}

// Outcome classifies a decision.
type Outcome string

const (
	OutcomeWebview  Outcome = "webview"
	OutcomeRejected Outcome = "rejected"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeError    Outcome = "error"
)

// Decision is the answer to one config request.
type Decision struct {
	ID        string
	Outcome   Outcome
	Status    int
	URL       string
	ExpiresAt time.Time
	Message   string
	Cached    bool
}

// Decider applies the bundle and organic rules and renders landing URLs.
type Decider struct {
	allowed       map[string]struct{}
	rejectOrganic bool
	tpl           *liquid.Template
	ttl           time.Duration
	now           func() time.Time
}

// NewDecider compiles the landing URL template.
func NewDecider(cfg DecisionConfig) (*Decider, error) {
	engine := liquid.NewEngine()
	registerFilters(engine)

	tpl, err := engine.ParseString(cfg.LandingURLTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	d := &Decider{
		rejectOrganic: strings.EqualFold(string(cfg.OrganicPolicy), string(OrganicReject)),
		tpl:           tpl,
		ttl:           cfg.URLTTL,
		now:           time.Now,
	}
	if len(cfg.AllowedBundles) > 0 {
		d.allowed = make(map[string]struct{}, len(cfg.AllowedBundles))
		for _, b := range cfg.AllowedBundles {
			if b = strings.TrimSpace(b); b != "" {
				d.allowed[b] = struct{}{}
			}
		}
	}
	return d, nil
}

func registerFilters(engine *liquid.Engine) {
	// {{ af_id | urlencode }}
	engine.RegisterFilter("urlencode", func(v any) string {
		if v == nil {
			return ""
		}
		return url.QueryEscape(fmt.Sprint(v))
	})
}

// Check applies the request rules. It returns the rejecting decision and
// false when the request does not get a landing URL.
func (d *Decider) Check(req Request) (Decision, bool) {
	switch {
	case req.Field("bundle_id") == "":
		return Decision{Outcome: OutcomeInvalid, Status: http.StatusBadRequest, Message: ErrBundleRequired.Error()}, false
	case req.Field("os") == "":
		return Decision{Outcome: OutcomeInvalid, Status: http.StatusBadRequest, Message: ErrOSRequired.Error()}, false
	}

	if d.allowed != nil {
		if _, ok := d.allowed[req.Field("bundle_id")]; !ok {
			return Decision{Outcome: OutcomeRejected, Status: http.StatusNotFound, Message: "unknown bundle"}, false
		}
	}
	if d.rejectOrganic && req.IsOrganic() {
		return Decision{Outcome: OutcomeRejected, Status: http.StatusNotFound, Message: "organic install"}, false
	}
	return Decision{}, true
}

// Render produces the accepted decision for a request that passed Check.
func (d *Decider) Render(req Request, decisionID string) (Decision, error) {
	bindings := make(liquid.Bindings, len(req)+1)
	for k, v := range req {
		bindings[k] = v
	}
	bindings["decision_id"] = decisionID

	out, err := d.tpl.RenderString(bindings)
	if err != nil {
		return Decision{}, fmt.Errorf("render landing URL: %w", err)
	}

	out = strings.TrimSpace(out)
	u, perr := url.Parse(out)
	if perr != nil || !u.IsAbs() || u.Host == "" {
		return Decision{}, fmt.Errorf("%w: %q", ErrRenderedURL, out)
	}

	return Decision{
		ID:        decisionID,
		Outcome:   OutcomeWebview,
		Status:    http.StatusOK,
		URL:       out,
		ExpiresAt: d.now().Add(d.ttl),
	}, nil
}
