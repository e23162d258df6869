package transport

import (
	"encoding/json"
	"time"

	"github.com/SebastienMelki/appgate/sdk/mobile/internal/attribution"
	"github.com/SebastienMelki/appgate/sdk/mobile/internal/device"
)

// Request is everything the config endpoint is told about this install.
type Request struct {
	ConversionData attribution.ConversionData
	AttributionID  string
	PushToken      string
	Device         device.Info
}

// MarshalJSON encodes a flat object: every conversion data key at the top
// level, then the fixed fields, which win on collision.
func (r Request) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(r.ConversionData)+7)
	for k, v := range r.ConversionData {
		body[k] = v
	}

	body["bundle_id"] = r.Device.BundleID
	body["os"] = r.Device.OSName()
	body["store_id"] = r.Device.EffectiveStoreID()
	body["locale"] = r.Device.LanguageCode()

	optional := map[string]string{
		"af_id":               r.AttributionID,
		"push_token":          r.PushToken,
		"firebase_project_id": r.Device.FirebaseProjectID,
	}
	for k, v := range optional {
		if v != "" {
			body[k] = v
		} else {
			delete(body, k)
		}
	}

	return json.Marshal(body)
}

// Response is the endpoint's JSON answer.
type Response struct {
	OK      bool     `json:"ok"`
	URL     *string  `json:"url,omitempty"`
	Expires *float64 `json:"expires,omitempty"`
	Message *string  `json:"message,omitempty"`
}

// Result is a successful fetch.
type Result struct {
	URL       string
	ExpiresAt time.Time
}

// result validates a 200 {ok:true} response.
func (r Response) result() (Result, error) {
	if r.URL == nil || *r.URL == "" || r.Expires == nil {
		return Result{}, &ConfigError{Kind: KindInvalidResponse, Message: "missing url or expires"}
	}
	return Result{URL: *r.URL, ExpiresAt: epochSeconds(*r.Expires)}, nil
}

func (r Response) message() string {
	if r.Message == nil {
		return ""
	}
	return *r.Message
}

func epochSeconds(s float64) time.Time {
	return time.UnixMilli(int64(s * 1000))
}
