// Package device holds the platform facts the native wrapper reports at
// startup (OS, model, locale, app identity) and derives the values the
// config request needs from them: the os label, store id, language code
// and the browser-style User-Agent.
package device

import (
	"fmt"
	"strings"
	"sync"
)

// SDKVersion is the current version of the appgate mobile SDK.
const SDKVersion = "1.0.0"

// Platform names as reported by native wrappers.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// DefaultLanguage is sent when the device locale is unknown.
const DefaultLanguage = "en"

// Info is a snapshot of the device and app identity.
type Info struct {
	// Platform is "ios" or "android".
	Platform string `json:"platform"`

	// OSVersion is the dotted OS version (e.g. "17.2").
	OSVersion string `json:"os_version"`

	// Model is the device model identifier (e.g. "iPhone15,2").
	Model string `json:"model"`

	// Locale is the device locale (e.g. "en_US" or "pt-BR").
	Locale string `json:"locale"`

	BundleID          string `json:"bundle_id"`
	StoreID           string `json:"store_id,omitempty"`
	FirebaseProjectID string `json:"firebase_project_id,omitempty"`
}

// Context is the device context for one SDK instance. Identity fields come
// from the SDK config; platform fields arrive later from the native wrapper,
// so reads and writes are guarded.
type Context struct {
	mu   sync.RWMutex
	info Info
}

// NewContext creates a context for the given app identity. An empty storeID
// falls back to the bundle id when the request is built.
func NewContext(bundleID, storeID, firebaseProjectID string) *Context {
	return &Context{info: Info{
		Platform:          PlatformIOS,
		BundleID:          bundleID,
		StoreID:           storeID,
		FirebaseProjectID: firebaseProjectID,
	}}
}

// SetPlatform records the facts reported by the native wrapper. Empty values
// leave the current ones in place.
func (c *Context) SetPlatform(platform, osVersion, model, locale string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p := strings.ToLower(strings.TrimSpace(platform)); p != "" {
		c.info.Platform = p
	}
	if osVersion != "" {
		c.info.OSVersion = osVersion
	}
	if model != "" {
		c.info.Model = model
	}
	if locale != "" {
		c.info.Locale = locale
	}
}

// Snapshot returns a copy of the current device info.
func (c *Context) Snapshot() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// OSName is the value of the request's "os" field.
func (i Info) OSName() string {
	if i.Platform == PlatformAndroid {
		return "Android"
	}
	return "iOS"
}

// EffectiveStoreID returns the store id, or the bundle id when none is configured.
func (i Info) EffectiveStoreID() string {
	if i.StoreID != "" {
		return i.StoreID
	}
	return i.BundleID
}

// LanguageCode returns the language part of the locale ("pt" for "pt-BR").
func (i Info) LanguageCode() string {
	loc := strings.TrimSpace(i.Locale)
	if idx := strings.IndexAny(loc, "_-"); idx >= 0 {
		loc = loc[:idx]
	}
	if loc == "" {
		return DefaultLanguage
	}
	return strings.ToLower(loc)
}

// UserAgent renders a mobile Safari (or Chrome on Android) User-Agent
// carrying the OS version and device model.
func (i Info) UserAgent() string {
	version := i.OSVersion
	if version == "" {
		version = "0"
	}
	model := i.Model

	if i.Platform == PlatformAndroid {
		if model == "" {
			model = "Android"
		}
		return fmt.Sprintf(
			"Mozilla/5.0 (Linux; Android %s; %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			version, model,
		)
	}

	if model == "" {
		model = "iPhone"
	}
	return fmt.Sprintf(
		"Mozilla/5.0 (%s; CPU OS %s like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Mobile/15E148 Safari/604.1",
		model, strings.ReplaceAll(version, ".", "_"), version,
	)
}
