package boost

import (
	"strings"
	"sync"
	"time"
)

// RecentPost is a short-lived record of previously published content, kept
// only for duplicate screening.
type RecentPost struct {
	Content    string
	SessionKey string
	PostedAt   time.Time
}

// RecentPostsConfig tunes the duplicate screen. Zero values fall back to the
// shipped policy.
type RecentPostsConfig struct {
	Window      time.Duration
	MaxPosts    int
	CompareLast int
	Threshold   float64
	Clock       func() time.Time
}

// RecentPosts screens candidate content against a rolling window of recent
// posts. Safe for concurrent use.
type RecentPosts struct {
	mu          sync.Mutex
	window      time.Duration
	maxPosts    int
	compareLast int
	threshold   float64
	clock       func() time.Time
	posts       []RecentPost
}

// NewRecentPosts builds a duplicate screen from the supplied policy.
func NewRecentPosts(cfg RecentPostsConfig) *RecentPosts {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.MaxPosts <= 0 {
		cfg.MaxPosts = 5
	}
	if cfg.CompareLast <= 0 {
		cfg.CompareLast = 2
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.9
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RecentPosts{
		window:      cfg.Window,
		maxPosts:    cfg.MaxPosts,
		compareLast: cfg.CompareLast,
		threshold:   cfg.Threshold,
		clock:       clock,
	}
}

// IsDuplicate reports whether candidate content is near-identical to a recent
// post from a different session. The check is read-only; callers record the
// post separately once it is actually published.
func (r *RecentPosts) IsDuplicate(content, sessionKey string) (bool, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpired()

	start := len(r.posts) - r.compareLast
	if start < 0 {
		start = 0
	}
	for _, post := range r.posts[start:] {
		// A session trivially matches itself; the finalized set already
		// guards against reposting the same session.
		if post.SessionKey == sessionKey {
			continue
		}
		similarity := contentSimilarity(content, post.Content)
		if similarity > r.threshold {
			return true, similarity
		}
	}
	return false, 0
}

// Record appends published content to the rolling window, evicting oldest
// entries past the cap.
func (r *RecentPosts) Record(content, sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpired()
	r.posts = append(r.posts, RecentPost{
		Content:    content,
		SessionKey: sessionKey,
		PostedAt:   r.clock(),
	})
	if excess := len(r.posts) - r.maxPosts; excess > 0 {
		r.posts = append(r.posts[:0:0], r.posts[excess:]...)
	}
}

// Len reports how many posts are currently tracked.
func (r *RecentPosts) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.posts)
}

func (r *RecentPosts) evictExpired() {
	cutoff := r.clock().Add(-r.window)
	kept := r.posts[:0]
	for _, post := range r.posts {
		if post.PostedAt.After(cutoff) {
			kept = append(kept, post)
		}
	}
	r.posts = kept
}

func normalizeContent(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// contentSimilarity computes word-set Jaccard similarity over normalized
// content. Identical normalized strings score 1.0, which also covers the
// both-empty case; empty against non-empty scores 0.
func contentSimilarity(first, second string) float64 {
	normFirst := normalizeContent(first)
	normSecond := normalizeContent(second)
	if normFirst == normSecond {
		return 1.0
	}
	if normFirst == "" || normSecond == "" {
		return 0
	}

	firstWords := make(map[string]struct{})
	for _, word := range strings.Fields(normFirst) {
		firstWords[word] = struct{}{}
	}
	secondWords := make(map[string]struct{})
	for _, word := range strings.Fields(normSecond) {
		secondWords[word] = struct{}{}
	}

	common := 0
	for word := range firstWords {
		if _, ok := secondWords[word]; ok {
			common++
		}
	}
	union := len(firstWords) + len(secondWords) - common
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}
