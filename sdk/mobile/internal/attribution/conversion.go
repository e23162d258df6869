package attribution

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Well-known conversion data keys.
const (
	KeyStatus          = "af_status"
	KeyFirstLaunch     = "is_first_launch"
	KeyErrorFallback   = "error_fallback"
	KeyTimeoutFallback = "timeout_fallback"
)

// StatusOrganic is the af_status value for installs without a paid source.
const StatusOrganic = "Organic"

// ConversionData is the attribution payload for this install. Keys are
// passed through to the config request untouched; values are JSON scalars.
type ConversionData map[string]any

// Status returns af_status, or "" when absent or not a string.
func (d ConversionData) Status() string {
	s, _ := d[KeyStatus].(string)
	return s
}

// IsOrganic reports whether af_status is "Organic".
func (d ConversionData) IsOrganic() bool {
	return d.Status() == StatusOrganic
}

// IsFallback reports whether the data was synthesized instead of delivered
// by the attribution SDK.
func (d ConversionData) IsFallback() bool {
	b, _ := d[KeyErrorFallback].(bool)
	return b
}

// Clone returns a shallow copy. Values are scalars so this is a full copy.
func (d ConversionData) Clone() ConversionData {
	if d == nil {
		return nil
	}
	out := make(ConversionData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Normalize returns a copy of raw in which every non-scalar value (nested
// objects, arrays) is replaced by its compact JSON text, so the result
// always encodes as a flat object.
func Normalize(raw map[string]any) ConversionData {
	out := make(ConversionData, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case nil, string, bool, json.Number,
			float64, float32, int, int32, int64, uint, uint32, uint64:
			out[k] = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				out[k] = fmt.Sprint(v)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// Parse decodes a JSON object into ConversionData. Numbers keep their
// original text.
func Parse(raw string) (ConversionData, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode conversion data: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("decode conversion data: not an object")
	}
	return Normalize(m), nil
}

// Fallback is the organic payload used when the attribution SDK fails.
func Fallback() ConversionData {
	return ConversionData{
		KeyStatus:        StatusOrganic,
		KeyFirstLaunch:   true,
		KeyErrorFallback: true,
	}
}

// TimeoutFallback is the organic payload used when the SDK never answers.
func TimeoutFallback() ConversionData {
	d := Fallback()
	d[KeyTimeoutFallback] = true
	return d
}
