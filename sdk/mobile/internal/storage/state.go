package storage

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// AppMode is the top-level experience the app launches into.
type AppMode string

// App modes. The string values are what gets persisted.
const (
	ModeUndefined AppMode = "undefined"
	ModeWebView   AppMode = "webview"
	ModeGame      AppMode = "game"
)

// ParseAppMode maps a persisted string back to an AppMode.
func ParseAppMode(s string) (AppMode, bool) {
	switch AppMode(s) {
	case ModeUndefined, ModeWebView, ModeGame:
		return AppMode(s), true
	}
	return ModeUndefined, false
}

// Keys of the app_state table.
const (
	keyAppMode        = "app_mode"
	keyFirstLaunch    = "is_first_launch"
	keyCurrentURL     = "current_url"
	keyURLExpires     = "url_expires"
	keyPushToken      = "push_token"
	keyAttributionID  = "attribution_id"
	keyNotifDeniedAt  = "notification_denied_at"
	keyConversionData = "conversion_data"
	keyLastOpenedURL  = "last_opened_url"
)

var stateKeys = []string{
	keyAppMode, keyFirstLaunch, keyCurrentURL, keyURLExpires, keyPushToken,
	keyAttributionID, keyNotifDeniedAt, keyConversionData,
}

// State is the durable launch record.
//
// CurrentURL and URLExpiresAt are either both set or both empty; Save
// drops a half-set pair.
type State struct {
	AppMode       AppMode
	IsFirstLaunch bool

	CurrentURL   string
	URLExpiresAt time.Time

	PushToken        string
	IsPushTokenReady bool

	AttributionID        string
	NotificationDeniedAt time.Time

	// ConversionData is the attribution payload the last bootstrap sent
	// upstream, kept so foreground refreshes can resend it.
	ConversionData map[string]any
}

// DefaultState is the record of a fresh install.
func DefaultState() State {
	return State{
		AppMode:       ModeUndefined,
		IsFirstLaunch: true,
	}
}

// HasURL reports whether a URL and its expiry are both present.
func (s State) HasURL() bool {
	return s.CurrentURL != "" && !s.URLExpiresAt.IsZero()
}

// URLExpired reports whether the stored URL is missing or past its expiry at now.
func (s State) URLExpired(now time.Time) bool {
	if !s.HasURL() {
		return true
	}
	return now.After(s.URLExpiresAt)
}

// Store reads and writes State. All writes go through one mutex so
// checkpoints saved from different callbacks never overwrite each other.
type Store struct {
	db     *DB
	logger *slog.Logger
	clock  func() time.Time

	mu sync.Mutex
	// tokenReady only ever goes false -> true within a process.
	tokenReady bool
}

// NewStore creates a Store over db.
func NewStore(db *DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "state-store"),
		clock:  time.Now,
	}
}

// Load returns the persisted state. Unreadable values fall back to their
// defaults rather than failing the caller.
func (s *Store) Load() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Save persists st as-is (after normalizing the URL pair).
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

// Update applies fn to the current state and persists the result atomically
// with respect to other Store writers.
func (s *Store) Update(fn func(*State)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadLocked()
	fn(&st)
	if err := s.saveLocked(st); err != nil {
		return st, err
	}
	return s.loadLocked(), nil
}

// SetAppMode records the resolved mode and ends the first-launch phase.
// Entering game mode also drops the last opened URL.
func (s *Store) SetAppMode(mode AppMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadLocked()
	st.AppMode = mode
	st.IsFirstLaunch = false
	if err := s.saveLocked(st); err != nil {
		return err
	}

	if mode == ModeGame {
		if err := s.deleteKeys(keyLastOpenedURL); err != nil {
			return fmt.Errorf("clear last opened url: %w", err)
		}
		s.logger.Debug("cleared last opened url on entering game mode")
	}
	return nil
}

// SaveURL stores the web URL and its expiry.
func (s *Store) SaveURL(url string, expiresAt time.Time) error {
	if url == "" || expiresAt.IsZero() {
		return fmt.Errorf("url and expiry are both required")
	}
	_, err := s.Update(func(st *State) {
		st.CurrentURL = url
		st.URLExpiresAt = expiresAt
	})
	return err
}

// AdoptURL points the current URL at a fallback source without knowing
// its lifetime. The expiry is set to now so the next foreground refresh
// asks the server again.
func (s *Store) AdoptURL(url string) error {
	return s.SaveURL(url, s.clock())
}

// IsURLExpired reports whether the stored URL is missing or stale.
func (s *Store) IsURLExpired() bool {
	return s.Load().URLExpired(s.clock())
}

// SavePushToken stores the push token and marks it ready.
func (s *Store) SavePushToken(token string) error {
	_, err := s.Update(func(st *State) {
		st.PushToken = token
		st.IsPushTokenReady = true
	})
	return err
}

// MarkPushTokenReady flags the token gate as passed without a token.
func (s *Store) MarkPushTokenReady() {
	s.mu.Lock()
	s.tokenReady = true
	s.mu.Unlock()
}

// SaveAttributionID stores the attribution SDK's install identifier.
func (s *Store) SaveAttributionID(id string) error {
	_, err := s.Update(func(st *State) { st.AttributionID = id })
	return err
}

// SaveConversionData stores the conversion payload used for the last fetch.
func (s *Store) SaveConversionData(data map[string]any) error {
	_, err := s.Update(func(st *State) { st.ConversionData = data })
	return err
}

// SaveNotificationDenied records that the user declined the notification prompt now.
func (s *Store) SaveNotificationDenied() error {
	now := s.clock()
	_, err := s.Update(func(st *State) { st.NotificationDeniedAt = now })
	return err
}

// LastOpenedURL returns the last page the web view finished loading, if any.
func (s *Store) LastOpenedURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.readKeys(keyLastOpenedURL)
	if err != nil {
		s.logger.Warn("read last opened url", "error", err)
		return ""
	}
	return values[keyLastOpenedURL]
}

// SetLastOpenedURL remembers a successfully loaded page.
func (s *Store) SetLastOpenedURL(url string) error {
	if url == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeKeys(map[string]string{keyLastOpenedURL: url})
}

// Reset wipes the launch state back to a fresh install. Used when the
// user deletes their profile.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM app_state"); err != nil {
		return fmt.Errorf("reset app state: %w", err)
	}
	s.tokenReady = false
	return nil
}

// loadLocked reads the state. Caller must hold s.mu.
func (s *Store) loadLocked() State {
	st := DefaultState()

	values, err := s.readKeys(stateKeys...)
	if err != nil {
		s.logger.Warn("load app state, using defaults", "error", err)
		st.IsPushTokenReady = s.tokenReady
		return st
	}

	if v, ok := values[keyAppMode]; ok {
		if mode, ok := ParseAppMode(v); ok {
			st.AppMode = mode
		} else {
			s.logger.Warn("ignoring unknown app mode", "value", v)
		}
	}
	if v, ok := values[keyFirstLaunch]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			st.IsFirstLaunch = b
		}
	}

	st.CurrentURL = values[keyCurrentURL]
	st.URLExpiresAt = parseMillis(values[keyURLExpires])
	if !st.HasURL() {
		st.CurrentURL, st.URLExpiresAt = "", time.Time{}
	}

	st.PushToken = values[keyPushToken]
	st.AttributionID = values[keyAttributionID]
	st.NotificationDeniedAt = parseMillis(values[keyNotifDeniedAt])

	if raw := values[keyConversionData]; raw != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		var data map[string]any
		if err := dec.Decode(&data); err != nil {
			s.logger.Warn("ignoring unreadable conversion data", "error", err)
		} else {
			st.ConversionData = data
		}
	}

	st.IsPushTokenReady = s.tokenReady || st.PushToken != ""
	return st
}

// saveLocked writes every field of st. Caller must hold s.mu.
func (s *Store) saveLocked(st State) error {
	if !st.HasURL() {
		st.CurrentURL, st.URLExpiresAt = "", time.Time{}
	}
	if st.AppMode == "" {
		st.AppMode = ModeUndefined
	}

	set := map[string]string{
		keyAppMode:     string(st.AppMode),
		keyFirstLaunch: strconv.FormatBool(st.IsFirstLaunch),
	}
	var unset []string

	optional := map[string]string{
		keyCurrentURL:    st.CurrentURL,
		keyURLExpires:    formatMillis(st.URLExpiresAt),
		keyPushToken:     st.PushToken,
		keyAttributionID: st.AttributionID,
		keyNotifDeniedAt: formatMillis(st.NotificationDeniedAt),
	}
	if st.ConversionData != nil {
		raw, err := json.Marshal(st.ConversionData)
		if err != nil {
			return fmt.Errorf("encode conversion data: %w", err)
		}
		optional[keyConversionData] = string(raw)
	} else {
		optional[keyConversionData] = ""
	}

	for k, v := range optional {
		if v == "" {
			unset = append(unset, k)
			continue
		}
		set[k] = v
	}

	if err := s.writeKeys(set); err != nil {
		return err
	}
	if err := s.deleteKeys(unset...); err != nil {
		return err
	}

	if st.IsPushTokenReady {
		s.tokenReady = true
	}
	return nil
}

func (s *Store) readKeys(keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	for _, k := range keys {
		var v string
		err := s.db.QueryRow("SELECT value FROM app_state WHERE key = ?", k).Scan(&v)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", k, err)
		}
		values[k] = v
	}
	return values, nil
}

func (s *Store) writeKeys(values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := s.clock().UnixMilli()

	tx, err := s.db.inner.Begin()
	if err != nil {
		return fmt.Errorf("begin state write: %w", err)
	}
	for k, v := range values {
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO app_state (key, value, updated_at) VALUES (?, ?, ?)",
			k, v, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state write: %w", err)
	}
	return nil
}

func (s *Store) deleteKeys(keys ...string) error {
	for _, k := range keys {
		if _, err := s.db.Exec("DELETE FROM app_state WHERE key = ?", k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

func formatMillis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// SetClock replaces the time source used for expiry checks and timestamps.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}
