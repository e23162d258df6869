package bootstrap

import "fmt"

// Phase is a step of the bootstrap pipeline.
type Phase int

// Phases in pipeline order. Resuming is the foreground refresh path and
// Failed marks a first launch that needs a retry.
const (
	PhaseInit Phase = iota
	PhaseRequestingTracking
	PhaseInitializingAttribution
	PhaseAwaitingConversionData
	PhaseRechecking
	PhaseAwaitingPushToken
	PhaseFetchingConfig
	PhaseResolved
	PhaseResuming
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseInit:                    "init",
	PhaseRequestingTracking:      "requesting_tracking",
	PhaseInitializingAttribution: "initializing_attribution",
	PhaseAwaitingConversionData:  "awaiting_conversion_data",
	PhaseRechecking:              "rechecking",
	PhaseAwaitingPushToken:       "awaiting_push_token",
	PhaseFetchingConfig:          "fetching_config",
	PhaseResolved:                "resolved",
	PhaseResuming:                "resuming",
	PhaseFailed:                  "failed",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Source says where a resolved URL (or the lack of one) came from.
type Source string

// Resolution sources.
const (
	SourceCached     Source = "cached"
	SourceServer     Source = "server"
	SourceSavedURL   Source = "saved_url"
	SourceLastOpened Source = "last_opened"
	SourceRejected   Source = "rejected"
	SourceFallback   Source = "fallback"
)
