package relay

import "strings"

var titleReplacer = strings.NewReplacer("/", " ", "\\", " ", ":", " ", "|", " ")

// SanitizeTitle strips the characters the uploader treats as separators and
// collapses whitespace.
func SanitizeTitle(title string) string {
	return strings.Join(strings.Fields(titleReplacer.Replace(title)), " ")
}
