package agent

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateTitleKeepsRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", maxTitleLen+20)
	got := truncateTitle(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated title is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n > maxTitleLen {
		t.Errorf("rune count = %d, want at most %d", n, maxTitleLen)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated title %q missing ellipsis", got)
	}

	short := "fix the flaky test"
	if out := truncateTitle(short); out != short {
		t.Errorf("short title changed: %q", out)
	}
}
