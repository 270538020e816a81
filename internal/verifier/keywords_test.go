package verifier

import (
	"fmt"
	"strings"
	"testing"
)

func TestExtractKeywords(t *testing.T) {
	kws := ExtractKeywords("Dance Challenge 2024", "Join the viral dance challenge")

	want := []string{"dance", "challenge", "2024", "join", "viral"}
	if len(kws) != len(want) {
		t.Fatalf("expected %d keywords %v, got %v", len(want), want, kws)
	}
	for i, w := range want {
		if kws[i] != w {
			t.Errorf("keyword %d: expected %q, got %q", i, w, kws[i])
		}
	}
}

func TestExtractKeywordsDropsStopwordsAndSingles(t *testing.T) {
	kws := ExtractKeywords("The a I", "watch the video for you")
	if len(kws) != 0 {
		t.Errorf("expected no keywords, got %v", kws)
	}
}

func TestExtractKeywordsCJK(t *testing.T) {
	kws := ExtractKeywords("短剧推广", "")

	want := []string{"短", "剧", "推", "广"}
	if len(kws) != len(want) {
		t.Fatalf("expected %v, got %v", want, kws)
	}
	for i, w := range want {
		if kws[i] != w {
			t.Errorf("keyword %d: expected %q, got %q", i, w, kws[i])
		}
	}
}

func TestExtractKeywordsDedupes(t *testing.T) {
	kws := ExtractKeywords("dance dance dance", "dance")
	if len(kws) != 1 || kws[0] != "dance" {
		t.Errorf("expected [dance], got %v", kws)
	}
}

func TestMatchEmptyKeywordsAutoPasses(t *testing.T) {
	if !Match(nil, "anything at all") {
		t.Error("empty keyword set must auto-pass")
	}
}

func TestMatchThresholdBoundary(t *testing.T) {
	// Ten keywords, of which exactly N appear in the content.
	keywords := make([]string, 10)
	for i := range keywords {
		keywords[i] = fmt.Sprintf("kw%dx", i)
	}

	content := func(hits int) string {
		return strings.Join(keywords[:hits], " ")
	}

	// 3/10 = 0.30 exactly: inclusive boundary passes.
	if !Match(keywords, content(3)) {
		t.Error("expected match at exactly 30%")
	}
	// 2/10 = 0.20: below the boundary fails.
	if Match(keywords, content(2)) {
		t.Error("expected no match below 30%")
	}
	if !Match(keywords, content(10)) {
		t.Error("expected match at 100%")
	}
	if Match(keywords, "") {
		t.Error("expected no match with empty content")
	}
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	if !Match([]string{"dance"}, "DANCE FEVER") {
		t.Error("expected case-insensitive match")
	}
}
