package boost

import (
	"fmt"
	"time"

	"github.com/valueverse/boostbot/internal/helipad"
)

// Session aggregates every split believed to belong to one logical boost.
type Session struct {
	Key     string
	Winning *helipad.PaymentEvent
	Splits  []*helipad.PaymentEvent

	timer     *time.Timer
	expiresAt time.Time
}

// Armed reports whether a finalize timer is pending for the session.
func (s *Session) Armed() bool {
	return s.timer != nil
}

// SessionKey derives the aggregation key: a coarse time bucket plus the
// sender/episode/show attribution. Splits of one boost arrive milliseconds
// apart but may straddle a second boundary; the bucket absorbs that jitter
// while separating distinct boosts from the same sender.
func SessionKey(event *helipad.PaymentEvent, bucketSeconds int64) string {
	bucket := event.Time / bucketSeconds
	return fmt.Sprintf("%d-%s-%s-%s", bucket, event.Sender, event.Episode, event.Podcast)
}

// SessionStore holds in-flight sessions and the set of already-finalized
// keys. Not safe for concurrent use on its own; the Aggregator serializes
// access under its lock.
type SessionStore struct {
	sessions  map[string]*Session
	finalized map[string]struct{}
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:  make(map[string]*Session),
		finalized: make(map[string]struct{}),
	}
}

// Upsert records a split under the given key, creating the session on first
// sight. The winning split is replaced only by a strictly larger face
// amount; every split is appended regardless.
func (s *SessionStore) Upsert(key string, event *helipad.PaymentEvent) (*Session, bool) {
	session, exists := s.sessions[key]
	if !exists {
		session = &Session{
			Key:     key,
			Winning: event,
			Splits:  []*helipad.PaymentEvent{event},
		}
		s.sessions[key] = session
		return session, true
	}

	session.Splits = append(session.Splits, event)
	if event.ValueMsat > session.Winning.ValueMsat {
		session.Winning = event
	}
	return session, false
}

// Get returns the session for key, or nil.
func (s *SessionStore) Get(key string) *Session {
	return s.sessions[key]
}

// Remove drops the session for key.
func (s *SessionStore) Remove(key string) {
	delete(s.sessions, key)
}

// IsFinalized reports whether the key has already been finalized.
func (s *SessionStore) IsFinalized(key string) bool {
	_, ok := s.finalized[key]
	return ok
}

// MarkFinalized records the key as finalized so late splits are rejected.
func (s *SessionStore) MarkFinalized(key string) {
	s.finalized[key] = struct{}{}
}

// Active returns every in-flight session, in no particular order.
func (s *SessionStore) Active() []*Session {
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Len reports the number of in-flight sessions.
func (s *SessionStore) Len() int {
	return len(s.sessions)
}
