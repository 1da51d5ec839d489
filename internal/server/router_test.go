package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valueverse/boostbot/internal/helipad"
	"github.com/valueverse/boostbot/internal/karma"
)

type fakeAggregator struct {
	mu      sync.Mutex
	events  []*helipad.PaymentEvent
	fail    error
	pending int
}

func (f *fakeAggregator) HandlePayment(_ context.Context, event *helipad.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAggregator) PendingSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeAggregator) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeMusicTracker struct {
	mu     sync.Mutex
	events []*helipad.PaymentEvent
}

func (f *fakeMusicTracker) HandlePayment(event *helipad.PaymentEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type fakeKarma struct {
	entities  []karma.Entity
	stats     karma.Stats
	fail      error
	lastLimit int
}

func (f *fakeKarma) Top(_ context.Context, entityType karma.EntityType, limit int) ([]karma.Entity, error) {
	f.lastLimit = limit
	if f.fail != nil {
		return nil, f.fail
	}
	filtered := make([]karma.Entity, 0, len(f.entities))
	for _, entity := range f.entities {
		if entityType != "" && entity.Type != entityType {
			continue
		}
		filtered = append(filtered, entity)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (f *fakeKarma) Stats(_ context.Context) (karma.Stats, error) {
	if f.fail != nil {
		return karma.Stats{}, f.fail
	}
	return f.stats, nil
}

func newTestHandler(t *testing.T, aggregator *fakeAggregator, music *fakeMusicTracker, karmaReader *fakeKarma, clock func() time.Time) http.Handler {
	t.Helper()
	deps := Dependencies{
		Aggregator: aggregator,
		Karma:      karmaReader,
		Clock:      clock,
	}
	if music != nil {
		deps.Music = music
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{Karma: &fakeKarma{}}); !errors.Is(err, errMissingAggregator) {
		t.Fatalf("expected missing aggregator error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Aggregator: &fakeAggregator{}}); !errors.Is(err, errMissingKarma) {
		t.Fatalf("expected missing karma error, got %v", err)
	}
}

func TestWebhookAcceptsPayment(t *testing.T) {
	aggregator := &fakeAggregator{}
	music := &fakeMusicTracker{}
	handler := newTestHandler(t, aggregator, music, &fakeKarma{}, time.Now)

	body := `{"index":1,"time":1714000000,"value_msat":50000,"value_msat_total":50000,"action":2,"sender":"alice","app":"Fountain","message":"boost!","podcast":"Lightning Talk","episode":"Ep 1","tlv":"{}"}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/helipad-webhook", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response["status"] != "ok" || response["delivery_id"] == "" {
		t.Fatalf("unexpected response %v", response)
	}
	if aggregator.received() != 1 {
		t.Fatalf("aggregator should receive the payment, got %d", aggregator.received())
	}
	if len(music.events) != 1 {
		t.Fatalf("music tracker should observe the payment, got %d", len(music.events))
	}
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	aggregator := &fakeAggregator{}
	handler := newTestHandler(t, aggregator, nil, &fakeKarma{}, time.Now)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/helipad-webhook", strings.NewReader("{not json"))
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if aggregator.received() != 0 {
		t.Fatalf("malformed payload must not reach the aggregator")
	}
}

func TestWebhookReportsProcessingFailure(t *testing.T) {
	aggregator := &fakeAggregator{fail: errors.New("snapshot disk full")}
	handler := newTestHandler(t, aggregator, nil, &fakeKarma{}, time.Now)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/helipad-webhook", strings.NewReader(`{"action":2,"sender":"alice"}`))
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestHealthReportsPendingSessions(t *testing.T) {
	aggregator := &fakeAggregator{pending: 3}
	handler := newTestHandler(t, aggregator, nil, &fakeKarma{}, time.Now)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Status          string `json:"status"`
		PendingSessions int    `json:"pending_sessions"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Status != "ok" || response.PendingSessions != 3 {
		t.Fatalf("unexpected health payload %+v", response)
	}
}

func TestUptimeAndLastActivity(t *testing.T) {
	now := time.Unix(1714000000, 0)
	clock := func() time.Time { return now }
	handler := newTestHandler(t, &fakeAggregator{}, nil, &fakeKarma{}, clock)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/last-activity", nil))
	var quiet struct {
		LastActivity *string `json:"last_activity"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &quiet); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if quiet.LastActivity != nil {
		t.Fatalf("expected null last activity before any webhook, got %v", *quiet.LastActivity)
	}

	recorder = httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/helipad-webhook", strings.NewReader(`{"action":2}`))
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", recorder.Code)
	}

	now = now.Add(90 * time.Second)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/last-activity", nil))
	var active struct {
		LastActivity string `json:"last_activity"`
		SecondsAgo   int64  `json:"seconds_ago"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &active); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if active.SecondsAgo != 90 {
		t.Fatalf("expected 90 seconds ago, got %d", active.SecondsAgo)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/uptime", nil))
	var uptime struct {
		UptimeSeconds int64 `json:"uptime_seconds"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &uptime); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if uptime.UptimeSeconds != 90 {
		t.Fatalf("expected 90s uptime, got %d", uptime.UptimeSeconds)
	}
}

func TestLeaderboardFiltersByType(t *testing.T) {
	karmaReader := &fakeKarma{entities: []karma.Entity{
		{Name: "bob", Type: karma.EntityPerson, Karma: 9, BoostCount: 4},
		{Name: "Lightning Talk", Type: karma.EntityShow, Karma: 7, BoostCount: 7},
	}}
	handler := newTestHandler(t, &fakeAggregator{}, nil, karmaReader, time.Now)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/karma/leaderboard?type=person", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Leaderboard []leaderboardEntryPayload `json:"leaderboard"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.Leaderboard) != 1 || response.Leaderboard[0].Name != "bob" {
		t.Fatalf("expected only people, got %+v", response.Leaderboard)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/karma/leaderboard?type=starship", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unknown type should be rejected, got %d", recorder.Code)
	}
}

func TestLeaderboardLimit(t *testing.T) {
	karmaReader := &fakeKarma{entities: []karma.Entity{
		{Name: "bob", Type: karma.EntityPerson, Karma: 9},
		{Name: "alice", Type: karma.EntityPerson, Karma: 5},
		{Name: "carol", Type: karma.EntityPerson, Karma: 2},
	}}
	handler := newTestHandler(t, &fakeAggregator{}, nil, karmaReader, time.Now)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/karma/leaderboard?limit=2", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Leaderboard []leaderboardEntryPayload `json:"leaderboard"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.Leaderboard) != 2 {
		t.Fatalf("expected 2 entries with limit=2, got %d", len(response.Leaderboard))
	}
	if karmaReader.lastLimit != 2 {
		t.Fatalf("limit should reach the store, got %d", karmaReader.lastLimit)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/karma/leaderboard", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if karmaReader.lastLimit != 10 {
		t.Fatalf("missing limit should fall back to 10, got %d", karmaReader.lastLimit)
	}

	for _, query := range []string{"limit=0", "limit=-3", "limit=lots"} {
		recorder = httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/karma/leaderboard?"+query, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s should be rejected, got %d", query, recorder.Code)
		}
	}
}

func TestKarmaStatsEndpoint(t *testing.T) {
	karmaReader := &fakeKarma{stats: karma.Stats{Entities: 12, TotalKarma: 99, TotalBoosts: 40}}
	handler := newTestHandler(t, &fakeAggregator{}, nil, karmaReader, time.Now)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/karma/stats", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var stats karma.Stats
	if err := json.Unmarshal(recorder.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats != (karma.Stats{Entities: 12, TotalKarma: 99, TotalBoosts: 40}) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	karmaReader.fail = errors.New("database locked")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/karma/stats", nil))
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on store failure, got %d", recorder.Code)
	}
}
