package boost

import (
	"testing"
	"time"
)

func TestContentSimilarity(t *testing.T) {
	testCases := []struct {
		name     string
		first    string
		second   string
		expected float64
	}{
		{name: "identical", first: "go podcasting", second: "go podcasting", expected: 1.0},
		{name: "case and spacing", first: "Go   Podcasting", second: "go podcasting", expected: 1.0},
		{name: "both empty", first: "", second: "", expected: 1.0},
		{name: "one empty", first: "boost", second: "", expected: 0},
		{name: "disjoint", first: "alpha beta", second: "gamma delta", expected: 0},
		{name: "half overlap", first: "a b c", second: "a b d", expected: 0.5},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := contentSimilarity(testCase.first, testCase.second)
			if got != testCase.expected {
				t.Fatalf("expected %.2f, got %.2f", testCase.expected, got)
			}
		})
	}
}

func TestIsDuplicateSkipsSameSession(t *testing.T) {
	recent := NewRecentPosts(RecentPostsConfig{})
	recent.Record("⚡ 1000 sats from alice", "session-a")

	if duplicate, _ := recent.IsDuplicate("⚡ 1000 sats from alice", "session-a"); duplicate {
		t.Fatalf("a session must not be flagged against its own post")
	}
	duplicate, similarity := recent.IsDuplicate("⚡ 1000 sats from alice", "session-b")
	if !duplicate {
		t.Fatalf("identical content from another session should be flagged")
	}
	if similarity != 1.0 {
		t.Fatalf("expected similarity 1.0, got %.2f", similarity)
	}
}

func TestIsDuplicateThreshold(t *testing.T) {
	recent := NewRecentPosts(RecentPostsConfig{Threshold: 0.9})
	recent.Record("thanks for the great show everyone", "session-a")

	if duplicate, _ := recent.IsDuplicate("completely different message here", "session-b"); duplicate {
		t.Fatalf("dissimilar content should pass the screen")
	}
	if duplicate, _ := recent.IsDuplicate("thanks for the great show everyone", "session-b"); !duplicate {
		t.Fatalf("identical content should be flagged")
	}
}

func TestIsDuplicateComparesOnlyRecentPosts(t *testing.T) {
	recent := NewRecentPosts(RecentPostsConfig{CompareLast: 2})
	recent.Record("oldest post content", "session-1")
	recent.Record("middle post content", "session-2")
	recent.Record("newest post content", "session-3")

	// Only the last two posts participate in the comparison.
	if duplicate, _ := recent.IsDuplicate("oldest post content", "session-9"); duplicate {
		t.Fatalf("post outside the comparison tail should not be flagged")
	}
	if duplicate, _ := recent.IsDuplicate("newest post content", "session-9"); !duplicate {
		t.Fatalf("post inside the comparison tail should be flagged")
	}
}

func TestRecordEvictsPastCapAndWindow(t *testing.T) {
	now := time.Unix(1714000000, 0)
	clock := func() time.Time { return now }
	recent := NewRecentPosts(RecentPostsConfig{
		Window:   5 * time.Minute,
		MaxPosts: 3,
		Clock:    clock,
	})

	recent.Record("one", "s1")
	recent.Record("two", "s2")
	recent.Record("three", "s3")
	recent.Record("four", "s4")
	if got := recent.Len(); got != 3 {
		t.Fatalf("expected cap of 3 posts, got %d", got)
	}

	now = now.Add(6 * time.Minute)
	if duplicate, _ := recent.IsDuplicate("four", "s9"); duplicate {
		t.Fatalf("posts past the window should have been evicted")
	}
	if got := recent.Len(); got != 0 {
		t.Fatalf("expected empty window after expiry, got %d", got)
	}
}
