package configsvc

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTemplate = "https://land.example/{{ bundle_id }}?af={{ af_id | urlencode }}&c={{ campaign | urlencode }}&d={{ decision_id }}"

func newTestDecider(t *testing.T, mutate func(*DecisionConfig)) *Decider {
	t.Helper()
	cfg := DecisionConfig{
		OrganicPolicy:      OrganicAllow,
		LandingURLTemplate: testTemplate,
		URLTTL:             time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDecider(cfg)
	require.NoError(t, err)
	d.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return d
}

func validRequest() Request {
	return Request{
		"bundle_id": "com.example.app",
		"os":        "iOS",
		"store_id":  "id123",
		"locale":    "en",
		"af_id":     "af-1",
		"af_status": "Non-organic",
		"campaign":  "spring&sale",
	}
}

func TestDecider_Check(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*DecisionConfig)
		req        func(Request)
		wantOK     bool
		wantStatus int
		wantOut    Outcome
	}{
		{name: "accepted", wantOK: true},
		{
			name:       "missing bundle",
			req:        func(r Request) { delete(r, "bundle_id") },
			wantStatus: http.StatusBadRequest,
			wantOut:    OutcomeInvalid,
		},
		{
			name:       "blank os",
			req:        func(r Request) { r["os"] = "  " },
			wantStatus: http.StatusBadRequest,
			wantOut:    OutcomeInvalid,
		},
		{
			name:       "bundle not allowed",
			mutate:     func(c *DecisionConfig) { c.AllowedBundles = []string{"com.other"} },
			wantStatus: http.StatusNotFound,
			wantOut:    OutcomeRejected,
		},
		{
			name:   "bundle allowed",
			mutate: func(c *DecisionConfig) { c.AllowedBundles = []string{" com.example.app ", "com.other"} },
			wantOK: true,
		},
		{
			name:       "organic rejected",
			mutate:     func(c *DecisionConfig) { c.OrganicPolicy = OrganicReject },
			req:        func(r Request) { r["af_status"] = "Organic" },
			wantStatus: http.StatusNotFound,
			wantOut:    OutcomeRejected,
		},
		{
			name:   "organic allowed by default",
			req:    func(r Request) { r["af_status"] = "Organic" },
			wantOK: true,
		},
		{
			name:   "non-organic passes reject policy",
			mutate: func(c *DecisionConfig) { c.OrganicPolicy = OrganicReject },
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDecider(t, tt.mutate)
			req := validRequest()
			if tt.req != nil {
				tt.req(req)
			}

			got, ok := d.Check(req)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Equal(t, tt.wantStatus, got.Status)
				assert.Equal(t, tt.wantOut, got.Outcome)
				assert.NotEmpty(t, got.Message)
			}
		})
	}
}

func TestDecider_Render(t *testing.T) {
	d := newTestDecider(t, nil)

	req := validRequest()
	req["af_id"] = "a b"

	got, err := d.Render(req, "dec-1")
	require.NoError(t, err)

	assert.Equal(t, "https://land.example/com.example.app?af=a+b&c=spring%26sale&d=dec-1", got.URL)
	assert.Equal(t, OutcomeWebview, got.Outcome)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "dec-1", got.ID)
	assert.Equal(t, time.Unix(1_700_000_000, 0).Add(time.Hour), got.ExpiresAt)
}

func TestDecider_RenderMissingFieldsAreEmpty(t *testing.T) {
	d := newTestDecider(t, nil)

	req := validRequest()
	delete(req, "campaign")
	delete(req, "af_id")

	got, err := d.Render(req, "x")
	require.NoError(t, err)
	assert.Equal(t, "https://land.example/com.example.app?af=&c=&d=x", got.URL)
}

func TestDecider_RenderRejectsRelativeURL(t *testing.T) {
	d := newTestDecider(t, func(c *DecisionConfig) { c.LandingURLTemplate = "/landing/{{ bundle_id }}" })

	_, err := d.Render(validRequest(), "x")
	assert.ErrorIs(t, err, ErrRenderedURL)
}

func TestNewDecider_InvalidTemplate(t *testing.T) {
	_, err := NewDecider(DecisionConfig{LandingURLTemplate: "https://x/{% bogus_tag %}", URLTTL: time.Hour})
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestRequest_Field(t *testing.T) {
	req := Request{"s": "  v ", "n": float64(3), "b": true, "nil": nil}

	assert.Equal(t, "v", req.Field("s"))
	assert.Equal(t, "3", req.Field("n"))
	assert.Equal(t, "true", req.Field("b"))
	assert.Equal(t, "", req.Field("nil"))
	assert.Equal(t, "", req.Field("absent"))
}
