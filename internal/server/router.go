package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/valueverse/boostbot/internal/helipad"
	"github.com/valueverse/boostbot/internal/karma"
	"go.uber.org/zap"
)

var (
	errMissingAggregator = errors.New("boost aggregator dependency required")
	errMissingKarma      = errors.New("karma service dependency required")
)

// BoostAggregator receives validated webhook payments for session handling.
type BoostAggregator interface {
	HandlePayment(ctx context.Context, event *helipad.PaymentEvent) error
	PendingSessions() int
}

// MusicTracker observes remote-track payments during live shows.
type MusicTracker interface {
	HandlePayment(event *helipad.PaymentEvent)
}

// KarmaReader serves the leaderboard endpoints.
type KarmaReader interface {
	Top(ctx context.Context, entityType karma.EntityType, limit int) ([]karma.Entity, error)
	Stats(ctx context.Context) (karma.Stats, error)
}

type Dependencies struct {
	Aggregator BoostAggregator
	Music      MusicTracker
	Karma      KarmaReader
	Clock      func() time.Time
	Logger     *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Aggregator == nil {
		return nil, errMissingAggregator
	}
	if deps.Karma == nil {
		return nil, errMissingKarma
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		aggregator: deps.Aggregator,
		music:      deps.Music,
		karma:      deps.Karma,
		clock:      clock,
		startedAt:  clock(),
		logger:     logger,
	}

	router.POST("/helipad-webhook", handler.handleWebhook)
	router.GET("/health", handler.handleHealth)
	router.GET("/uptime", handler.handleUptime)
	router.GET("/last-activity", handler.handleLastActivity)
	router.GET("/karma/leaderboard", handler.handleLeaderboard)
	router.GET("/karma/stats", handler.handleKarmaStats)

	return router, nil
}

type httpHandler struct {
	aggregator BoostAggregator
	music      MusicTracker
	karma      KarmaReader
	clock      func() time.Time
	startedAt  time.Time
	logger     *zap.Logger

	activityMu   sync.Mutex
	lastActivity time.Time
}

func (h *httpHandler) handleWebhook(c *gin.Context) {
	deliveryID := uuid.NewString()

	var event helipad.PaymentEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.logger.Warn("rejected malformed webhook payload",
			zap.String("delivery_id", deliveryID),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	h.logger.Info("webhook received",
		zap.String("delivery_id", deliveryID),
		zap.String("action", event.Action.Name()),
		zap.String("sender", event.Sender),
		zap.Int64("sats", event.Sats()))

	h.activityMu.Lock()
	h.lastActivity = h.clock()
	h.activityMu.Unlock()

	if h.music != nil {
		h.music.HandlePayment(&event)
	}

	if err := h.aggregator.HandlePayment(c.Request.Context(), &event); err != nil {
		h.logger.Error("failed to process webhook payment",
			zap.String("delivery_id", deliveryID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "delivery_id": deliveryID})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"pending_sessions": h.aggregator.PendingSessions(),
	})
}

func (h *httpHandler) handleUptime(c *gin.Context) {
	uptime := h.clock().Sub(h.startedAt)
	c.JSON(http.StatusOK, gin.H{
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(uptime.Seconds()),
	})
}

func (h *httpHandler) handleLastActivity(c *gin.Context) {
	h.activityMu.Lock()
	last := h.lastActivity
	h.activityMu.Unlock()

	if last.IsZero() {
		c.JSON(http.StatusOK, gin.H{"last_activity": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"last_activity": last.UTC().Format(time.RFC3339),
		"seconds_ago":   int64(h.clock().Sub(last).Seconds()),
	})
}

type leaderboardEntryPayload struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Karma      int64  `json:"karma"`
	BoostCount int64  `json:"boost_count"`
}

const defaultLeaderboardLimit = 10

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	entityType, ok := parseEntityType(c.Query("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type"})
		return
	}
	limit, ok := parseLimit(c.Query("limit"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}

	entities, err := h.karma.Top(c.Request.Context(), entityType, limit)
	if err != nil {
		h.logger.Error("failed to load leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leaderboard_failed"})
		return
	}

	entries := make([]leaderboardEntryPayload, 0, len(entities))
	for _, entity := range entities {
		entries = append(entries, leaderboardEntryPayload{
			Name:       entity.Name,
			Type:       string(entity.Type),
			Karma:      entity.Karma,
			BoostCount: entity.BoostCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

func (h *httpHandler) handleKarmaStats(c *gin.Context) {
	stats, err := h.karma.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load karma stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func parseLimit(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultLeaderboardLimit, true
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return 0, false
	}
	return limit, true
}

func parseEntityType(value string) (karma.EntityType, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return "", true
	case string(karma.EntityPerson):
		return karma.EntityPerson, true
	case string(karma.EntityShow):
		return karma.EntityShow, true
	case string(karma.EntityTrack):
		return karma.EntityTrack, true
	default:
		return "", false
	}
}
