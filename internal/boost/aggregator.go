package boost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valueverse/boostbot/internal/helipad"
	"go.uber.org/zap"
)

var (
	errMissingPublisher = errors.New("publisher is required")
	errMissingRenderer  = errors.New("content builder is required")
	noOpLogger          = zap.NewNop()
)

// ServiceError carries an operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opAggregatorNew = "boost.aggregator.new"
	opHandlePayment = "boost.handle_payment"
	opRestore       = "boost.restore_sessions"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Publisher delivers a finalized note to the outside world. Failures are
// logged by the aggregator, never retried.
type Publisher interface {
	Publish(ctx context.Context, content string, tags [][]string) error
}

// KarmaRecorder tallies a finalized boost. Optional.
type KarmaRecorder interface {
	AddBoost(ctx context.Context, sender, show, track string) error
}

const publishTimeout = 90 * time.Second

// Config assembles an Aggregator.
type Config struct {
	BucketSeconds  int64
	GraceWindow    time.Duration
	SnapshotPath   string
	AllowedSenders []string

	Publisher Publisher
	Renderer  *ContentBuilder
	Recent    *RecentPosts
	Karma     KarmaRecorder
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Aggregator receives payment splits one at a time, groups them into boost
// sessions, and finalizes each session after a fee-gated grace window.
type Aggregator struct {
	mu    sync.Mutex
	store *SessionStore

	// postMu serializes the finalize tail (duplicate screen through record)
	// so concurrent timer fires cannot both pass the screen.
	postMu sync.Mutex

	bucketSeconds  int64
	graceWindow    time.Duration
	snapshotPath   string
	allowedSenders map[string]struct{}

	publisher Publisher
	renderer  *ContentBuilder
	recent    *RecentPosts
	karma     KarmaRecorder
	clock     func() time.Time
	logger    *zap.Logger

	closed bool
}

// NewAggregator validates dependencies and builds an aggregator with empty
// state. Call Restore to resume persisted sessions.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.Publisher == nil {
		return nil, newServiceError(opAggregatorNew, "missing_publisher", errMissingPublisher)
	}
	if cfg.Renderer == nil {
		return nil, newServiceError(opAggregatorNew, "missing_renderer", errMissingRenderer)
	}
	if cfg.BucketSeconds <= 0 {
		cfg.BucketSeconds = 120
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 30 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	recent := cfg.Recent
	if recent == nil {
		recent = NewRecentPosts(RecentPostsConfig{Clock: clock})
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedSenders))
	for _, sender := range cfg.AllowedSenders {
		allowed[strings.TrimSpace(sender)] = struct{}{}
	}

	return &Aggregator{
		store:          NewSessionStore(),
		bucketSeconds:  cfg.BucketSeconds,
		graceWindow:    cfg.GraceWindow,
		snapshotPath:   cfg.SnapshotPath,
		allowedSenders: allowed,
		publisher:      cfg.Publisher,
		renderer:       cfg.Renderer,
		recent:         recent,
		karma:          cfg.Karma,
		clock:          clock,
		logger:         logger,
	}, nil
}

// HandlePayment feeds one split through the entry filters and into the
// session store, arming the finalize timer when the split is fee-bearing.
// Filtered events are dropped silently; that is not an error.
func (a *Aggregator) HandlePayment(ctx context.Context, event *helipad.PaymentEvent) error {
	if event == nil {
		return newServiceError(opHandlePayment, "missing_event", errors.New("nil event"))
	}

	if event.Action != helipad.ActionBoost {
		return nil
	}
	if event.Sats() <= 0 && event.TotalSats() <= 0 {
		a.logger.Debug("dropping zero-amount split", zap.String("sender", event.Sender))
		return nil
	}
	if !a.senderAllowed(event.Sender) {
		a.logger.Info("skipping boost from unlisted sender",
			zap.String("sender", event.Sender),
			zap.Int64("total_sats", event.TotalSats()))
		return nil
	}
	if event.IsPlatformFee() {
		a.logger.Info("skipping platform-fee split",
			zap.String("message", event.Message),
			zap.Int64("total_sats", event.TotalSats()))
		return nil
	}

	key := SessionKey(event, a.bucketSeconds)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	if a.store.IsFinalized(key) {
		a.logger.Info("already posted for session, dropping late split",
			zap.String("session", key),
			zap.Int64("sats", event.Sats()))
		return nil
	}

	session, created := a.store.Upsert(key, event)
	if created {
		a.logger.Info("new boost session",
			zap.String("session", key),
			zap.Int64("sats", event.Sats()),
			zap.Int64("total_sats", event.TotalSats()),
			zap.Bool("has_fee", event.HasFee()))
	} else {
		a.logger.Info("split added to session",
			zap.String("session", key),
			zap.Int64("sats", event.Sats()),
			zap.Int64("winning_sats", session.Winning.Sats()),
			zap.Int("splits", len(session.Splits)),
			zap.Bool("has_fee", event.HasFee()))
	}

	// Only the fee-bearing leg arms the countdown; zero-fee remainders are
	// collected but never trigger a post on their own.
	if event.HasFee() {
		a.armLocked(session)
	}

	a.saveLocked()
	return nil
}

// armLocked (re)starts the session's finalize timer for the full grace
// window. Replacing the handle cancels any pending fire for the key.
func (a *Aggregator) armLocked(session *Session) {
	if session.timer != nil {
		session.timer.Stop()
	}
	key := session.Key
	session.expiresAt = a.clock().Add(a.graceWindow)
	session.timer = time.AfterFunc(a.graceWindow, func() {
		a.finalize(key)
	})
}

// finalize runs when a session's timer fires. The session is removed and the
// key marked finalized before any rendering or publishing, so the outcome of
// the publish attempt can never cause a retry or a duplicate.
func (a *Aggregator) finalize(key string) {
	a.mu.Lock()
	session := a.store.Get(key)
	if session == nil || a.closed {
		a.mu.Unlock()
		return
	}
	if session.timer != nil {
		session.timer.Stop()
		session.timer = nil
	}
	a.store.MarkFinalized(key)
	a.store.Remove(key)
	a.saveLocked()
	a.mu.Unlock()

	a.logger.Info("finalizing boost session",
		zap.String("session", key),
		zap.Int("splits", len(session.Splits)),
		zap.Int64("total_sats", session.Winning.TotalSats()))

	content, tags, err := a.renderer.Build(session)
	if err != nil {
		a.logger.Error("failed to render boost content",
			zap.String("session", key),
			zap.Int64("total_sats", session.Winning.TotalSats()),
			zap.Error(err))
		return
	}

	a.postMu.Lock()
	defer a.postMu.Unlock()

	if duplicate, similarity := a.recent.IsDuplicate(content, key); duplicate {
		a.logger.Info("skipping duplicate boost post",
			zap.String("session", key),
			zap.Float64("similarity", similarity),
			zap.Int64("total_sats", session.Winning.TotalSats()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := a.publisher.Publish(ctx, content, tags); err != nil {
		a.logger.Error("failed to publish boost",
			zap.String("session", key),
			zap.Int64("total_sats", session.Winning.TotalSats()),
			zap.Error(err))
	}
	a.recent.Record(content, key)

	if a.karma != nil {
		winning := session.Winning
		if err := a.karma.AddBoost(ctx, winning.Sender, winning.Podcast, winning.RemoteEpisode); err != nil {
			a.logger.Warn("failed to record karma", zap.String("session", key), zap.Error(err))
		}
	}
}

// Restore loads the snapshot file written by a previous run. Sessions still
// inside their grace window resume with a timer for the remaining time;
// expired sessions are dropped and logged, never posted.
func (a *Aggregator) Restore() error {
	persisted, err := readSnapshot(a.snapshotPath)
	if err != nil {
		return newServiceError(opRestore, "read_snapshot", err)
	}
	if len(persisted) == 0 {
		return nil
	}

	now := a.clock()
	restored := 0
	expired := 0

	a.mu.Lock()
	for _, record := range persisted {
		if record.WinningSplit == nil || record.SessionKey == "" {
			continue
		}
		expiresAt := time.UnixMilli(record.ExpiresAtMillis)
		if !expiresAt.After(now) {
			expired++
			a.logger.Info("dropping expired persisted session",
				zap.String("session", record.SessionKey),
				zap.Time("expired_at", expiresAt))
			continue
		}
		session := &Session{
			Key:     record.SessionKey,
			Winning: record.WinningSplit,
			Splits:  record.AllSplits,
		}
		if len(session.Splits) == 0 {
			session.Splits = []*helipad.PaymentEvent{record.WinningSplit}
		}
		session.expiresAt = expiresAt
		key := session.Key
		session.timer = time.AfterFunc(expiresAt.Sub(now), func() {
			a.finalize(key)
		})
		a.store.sessions[key] = session
		restored++
	}
	a.saveLocked()
	a.mu.Unlock()

	a.logger.Info("restored boost sessions",
		zap.Int("active", restored),
		zap.Int("expired", expired))
	return nil
}

// Close stops all pending timers and writes a final snapshot so in-flight
// sessions can resume after a restart within the grace window.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for _, session := range a.store.Active() {
		if session.timer != nil {
			session.timer.Stop()
			session.timer = nil
		}
	}
	a.saveLocked()
}

// PendingSessions reports the number of in-flight sessions.
func (a *Aggregator) PendingSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Len()
}

func (a *Aggregator) senderAllowed(sender string) bool {
	if len(a.allowedSenders) == 0 {
		return true
	}
	_, ok := a.allowedSenders[strings.TrimSpace(sender)]
	return ok
}

// saveLocked persists every non-finalized session. Persistence is best
// effort: failures are logged and in-memory behavior continues unaffected.
func (a *Aggregator) saveLocked() {
	if a.snapshotPath == "" {
		return
	}
	expiresAt := a.clock().Add(a.graceWindow)
	persisted := make([]persistedSession, 0, a.store.Len())
	for _, session := range a.store.Active() {
		record := persistedSession{
			SessionKey:      session.Key,
			WinningSplit:    session.Winning,
			AllSplits:       session.Splits,
			ExpiresAtMillis: expiresAt.UnixMilli(),
		}
		if !session.expiresAt.IsZero() {
			record.ExpiresAtMillis = session.expiresAt.UnixMilli()
		}
		persisted = append(persisted, record)
	}
	if err := writeSnapshot(a.snapshotPath, persisted); err != nil {
		a.logger.Error("failed to save boost sessions", zap.Error(err))
	}
}
