// Package identity derives the long-lived visitor id and the
// inactivity-bounded session from the profile store.
package identity

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/vincentbai/shoptrace/internal/storage"
)

const (
	keyVisitorID    = "visitor_id"
	keyLastActivity = "last_activity"
	keySessionID    = "session_id"
	keySessionStart = "session_start"
	keyReturning    = "returning_visitor"
)

type Session struct {
	ID        string
	StartedAt time.Time
}

// Store reads and writes identity state. Storage failures are logged and
// treated as absent values; nothing here returns an error.
type Store struct {
	kv     storage.Store
	prefix string
	window time.Duration
	logger *slog.Logger

	visitorID string
}

func NewStore(kv storage.Store, prefix string, inactivityWindow time.Duration, logger *slog.Logger) *Store {
	return &Store{
		kv:     kv,
		prefix: prefix,
		window: inactivityWindow,
		logger: logger,
	}
}

func (s *Store) get(key string) (string, bool) {
	v, ok, err := s.kv.Get(s.prefix + key)
	if err != nil {
		s.logger.Warn("profile read failed", "key", key, "error", err)
		return "", false
	}
	return v, ok
}

func (s *Store) set(key, value string) {
	if err := s.kv.Set(s.prefix+key, value); err != nil {
		s.logger.Warn("profile write failed", "key", key, "error", err)
	}
}

func (s *Store) getMillis(key string) (time.Time, bool) {
	v, ok := s.get(key)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (s *Store) setMillis(key string, t time.Time) {
	s.set(key, strconv.FormatInt(t.UnixMilli(), 10))
}

// VisitorID returns the persisted visitor id, generating and persisting one
// when it is missing or not a UUID. The value is cached so a profile whose
// writes fail still sees one id for the page lifetime.
func (s *Store) VisitorID() string {
	if s.visitorID != "" {
		return s.visitorID
	}
	if v, ok := s.get(keyVisitorID); ok {
		if _, err := uuid.Parse(v); err == nil {
			s.visitorID = v
			return v
		}
		s.logger.Warn("discarding unparsable visitor id", "value", v)
	}
	s.visitorID = uuid.NewString()
	s.set(keyVisitorID, s.visitorID)
	s.logger.Debug("new visitor", "visitor_id", s.visitorID)
	return s.visitorID
}

// IsSessionExpired is true when no activity was ever recorded or the last
// activity is more than the inactivity window before now.
func (s *Store) IsSessionExpired(now time.Time) bool {
	last, ok := s.getMillis(keyLastActivity)
	if !ok {
		return true
	}
	return now.UnixMilli()-last.UnixMilli() > s.window.Milliseconds()
}

func (s *Store) TouchActivity(now time.Time) {
	s.setMillis(keyLastActivity, now)
}

// StartOrResume resumes the persisted session or starts a new one, reporting
// whether it is new. Activity is touched on both paths.
func (s *Store) StartOrResume(now time.Time) (Session, bool) {
	defer s.TouchActivity(now)

	if !s.IsSessionExpired(now) {
		id, idOK := s.get(keySessionID)
		started, startOK := s.getMillis(keySessionStart)
		if idOK && id != "" && startOK {
			return Session{ID: id, StartedAt: started}, false
		}
		s.logger.Warn("persisted session incomplete, starting a new one")
	}

	previous, _ := s.get(keySessionID)
	id := uuid.NewString()
	for id == previous {
		id = uuid.NewString()
	}
	sess := Session{ID: id, StartedAt: time.UnixMilli(now.UnixMilli())}
	s.set(keySessionID, sess.ID)
	s.setMillis(keySessionStart, sess.StartedAt)
	return sess, true
}

// IsReturning reports whether an earlier session was ever started here.
func (s *Store) IsReturning() bool {
	v, ok := s.get(keyReturning)
	return ok && v == "true"
}

func (s *Store) MarkReturning() {
	s.set(keyReturning, "true")
}
