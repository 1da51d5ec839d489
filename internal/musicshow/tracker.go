package musicshow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valueverse/boostbot/internal/helipad"
	"go.uber.org/zap"
)

var errMissingPublisher = errors.New("publisher is required")

const (
	defaultGapWindow   = 2 * time.Minute
	defaultHistorySize = 50
	publishTimeout     = 90 * time.Second
)

// Publisher posts a note summarizing a finished song.
type Publisher interface {
	Publish(ctx context.Context, content string, tags [][]string) error
}

// Song is one remote track observed during a live show, with the value that
// arrived while it played.
type Song struct {
	Feed      string
	Title     string
	Artist    string
	Sats      int64
	Boosts    int
	Streams   int
	Boosters  map[string]int64
	StartedAt time.Time
}

func (s *Song) key() string {
	return s.Feed + "|" + s.Title
}

// TrackerConfig assembles a Tracker.
type TrackerConfig struct {
	Publisher Publisher
	// GapWindow is how long a song may go without payments before it is
	// considered finished.
	GapWindow   time.Duration
	HistorySize int
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Tracker follows remote tracks during live music shows. A payment for a
// different track, or a quiet gap, finishes the current song and posts its
// value summary.
type Tracker struct {
	mu        sync.Mutex
	publisher Publisher
	gapWindow time.Duration
	histSize  int
	clock     func() time.Time
	logger    *zap.Logger

	current  *Song
	gapTimer *time.Timer
	history  []Song
}

func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Publisher == nil {
		return nil, errMissingPublisher
	}
	gap := cfg.GapWindow
	if gap <= 0 {
		gap = defaultGapWindow
	}
	histSize := cfg.HistorySize
	if histSize <= 0 {
		histSize = defaultHistorySize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		publisher: cfg.Publisher,
		gapWindow: gap,
		histSize:  histSize,
		clock:     clock,
		logger:    logger,
	}, nil
}

// HandlePayment feeds one webhook payment into the tracker. Non-music
// payments are ignored.
func (t *Tracker) HandlePayment(event *helipad.PaymentEvent) {
	if event == nil || !event.IsMusic() {
		return
	}
	meta := event.ParseMetadata()
	title := strings.TrimSpace(event.RemoteEpisode)
	if title == "" && meta != nil {
		title = strings.TrimSpace(meta.RemoteItem)
	}
	if title == "" {
		return
	}
	feed := strings.TrimSpace(event.RemotePodcast)
	artist := ""
	if meta != nil {
		artist = meta.Artist()
	}
	if artist == "" {
		artist = feed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	incoming := &Song{
		Feed:      feed,
		Title:     title,
		Artist:    artist,
		Boosters:  map[string]int64{},
		StartedAt: t.clock(),
	}
	if t.current == nil || t.current.key() != incoming.key() {
		t.finishLocked()
		t.current = incoming
		t.logger.Info("song started",
			zap.String("title", title),
			zap.String("artist", artist))
	}

	sats := event.Sats()
	t.current.Sats += sats
	switch event.Action {
	case helipad.ActionBoost, helipad.ActionAutoBoost:
		t.current.Boosts++
		if sender := strings.TrimSpace(event.Sender); sender != "" {
			t.current.Boosters[sender] += sats
		}
	case helipad.ActionStream:
		t.current.Streams++
	}

	t.rearmLocked()
}

// Flush finishes the current song immediately, posting its summary.
func (t *Tracker) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishLocked()
}

// Current returns a copy of the song in progress, or nil.
func (t *Tracker) Current() *Song {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	snapshot := *t.current
	return &snapshot
}

// History returns recently finished songs, newest first.
func (t *Tracker) History() []Song {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Song, len(t.history))
	for i, song := range t.history {
		out[len(t.history)-1-i] = song
	}
	return out
}

func (t *Tracker) rearmLocked() {
	if t.gapTimer != nil {
		t.gapTimer.Stop()
	}
	t.gapTimer = time.AfterFunc(t.gapWindow, t.Flush)
}

func (t *Tracker) finishLocked() {
	if t.gapTimer != nil {
		t.gapTimer.Stop()
		t.gapTimer = nil
	}
	song := t.current
	if song == nil {
		return
	}
	t.current = nil

	t.history = append(t.history, *song)
	if len(t.history) > t.histSize {
		t.history = t.history[len(t.history)-t.histSize:]
	}

	t.logger.Info("song finished",
		zap.String("title", song.Title),
		zap.Int64("sats", song.Sats),
		zap.Int("boosts", song.Boosts))

	go t.post(song)
}

func (t *Tracker) post(song *Song) {
	content := renderSummary(song)
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	tags := [][]string{{"t", "musicshow"}, {"t", "value4value"}}
	if err := t.publisher.Publish(ctx, content, tags); err != nil {
		t.logger.Error("failed to post song summary",
			zap.String("title", song.Title),
			zap.Error(err))
	}
}

func renderSummary(song *Song) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎵 That was %q", song.Title)
	if song.Artist != "" {
		fmt.Fprintf(&b, " by %s", song.Artist)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "⚡ %d sats", song.Sats)
	if song.Boosts > 0 {
		fmt.Fprintf(&b, " across %d boosts", song.Boosts)
	}
	if song.Streams > 0 {
		fmt.Fprintf(&b, " (+%d streaming payments)", song.Streams)
	}

	if len(song.Boosters) > 0 {
		names := make([]string, 0, len(song.Boosters))
		for name := range song.Boosters {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if song.Boosters[names[i]] != song.Boosters[names[j]] {
				return song.Boosters[names[i]] > song.Boosters[names[j]]
			}
			return names[i] < names[j]
		})
		b.WriteString("\n\nThanks to ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("!")
	}
	return b.String()
}
