package relay

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	progressBarPattern       = regexp.MustCompile(`\[[^\]\n]*\]`)
	progressPercentPattern   = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*%`)
	progressProcessedPattern = regexp.MustCompile(`(?i)(?:processed|done)\s*[:=]?\s*([^\n|]+)`)
)

// NormalizeProgress reduces an uploader progress message to
// "[bar] pct | processed | status". ok is false for messages that are not
// progress reports.
func NormalizeProgress(text string) (string, bool) {
	bar := progressBarPattern.FindString(text)
	if bar == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	var status string
	switch {
	case strings.Contains(lower, "upload"):
		status = "uploading"
	case strings.Contains(lower, "download"):
		status = "downloading"
	case strings.Contains(lower, "processed"):
		status = "processing"
	default:
		return "", false
	}

	pct := "?%"
	if m := progressPercentPattern.FindStringSubmatch(text); m != nil {
		pct = m[1] + "%"
	}
	processed := "-"
	if m := progressProcessedPattern.FindStringSubmatch(text); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" {
			processed = v
		}
	}
	return fmt.Sprintf("%s %s | %s | %s", bar, pct, processed, status), true
}
