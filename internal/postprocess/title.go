package postprocess

import (
	"regexp"
	"strings"
	"time"
)

// DateLayout is the layout of the title prefix.
const DateLayout = "2006-01-02"

const prefixSep = " | "

var datePrefixRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \|\s*`)

// StripDatePrefix removes every leading "YYYY-MM-DD | " from title.
func StripDatePrefix(title string) string {
	title = strings.TrimSpace(title)
	for datePrefixRe.MatchString(title) {
		title = strings.TrimSpace(datePrefixRe.ReplaceAllString(title, ""))
	}
	return title
}

// WithDatePrefix strips any existing prefix and prepends published's date.
// Applying it twice yields the same title as applying it once.
func WithDatePrefix(title string, published *time.Time) string {
	base := StripDatePrefix(title)
	if published == nil {
		return base
	}
	date := published.UTC().Format(DateLayout)
	if base == "" {
		return date
	}
	return date + prefixSep + base
}
