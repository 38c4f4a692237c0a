package media

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

var (
	cueTagRe = regexp.MustCompile(`<[^>]*>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// ParseVTT reads a WebVTT document into segments.
func ParseVTT(r io.Reader) ([]models.Segment, error) {
	return parseCues(r, '.')
}

// ParseSRT reads a SubRip document into segments.
func ParseSRT(r io.Reader) ([]models.Segment, error) {
	return parseCues(r, ',')
}

// parseCues handles both formats: a timing line "start --> end" followed by
// text lines up to a blank line. Headers, notes, and SRT indices are skipped.
// Automatic captions repeat the previous cue's line at the top of the next
// one, so a leading line equal to the previous cue's last line is dropped.
func parseCues(r io.Reader, fracSep byte) ([]models.Segment, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		segments []models.Segment
		cur      *models.Segment
		lines    []string
		prevLast string
	)

	flush := func() {
		if cur == nil {
			return
		}
		if len(lines) > 0 && lines[0] == prevLast {
			lines = lines[1:]
		}
		if len(lines) > 0 {
			cur.Text = strings.Join(lines, " ")
			segments = append(segments, *cur)
			prevLast = lines[len(lines)-1]
		}
		cur = nil
		lines = nil
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))

		if line == "" {
			flush()
			continue
		}
		if strings.Contains(line, "-->") {
			flush()
			start, end, err := parseTiming(line, fracSep)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cur = &models.Segment{Start: start, End: end}
			continue
		}
		if cur == nil {
			// WEBVTT header, NOTE/STYLE blocks, or an SRT index.
			continue
		}
		if text := cleanCueText(line); text != "" {
			lines = append(lines, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read captions: %w", err)
	}
	flush()
	return segments, nil
}

func parseTiming(line string, fracSep byte) (float64, float64, error) {
	parts := strings.SplitN(line, "-->", 2)
	start, err := parseTimestamp(strings.TrimSpace(parts[0]), fracSep)
	if err != nil {
		return 0, 0, err
	}
	// Cue settings may follow the end timestamp.
	endField := strings.Fields(parts[1])
	if len(endField) == 0 {
		return 0, 0, fmt.Errorf("missing end timestamp")
	}
	end, err := parseTimestamp(endField[0], fracSep)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp accepts hh:mm:ss.fff and mm:ss.fff (with ',' for SRT).
func parseTimestamp(s string, fracSep byte) (float64, error) {
	s = strings.Replace(s, string(fracSep), ".", 1)
	fields := strings.Split(s, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var total float64
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		total = total*60 + v
	}
	return total, nil
}

func cleanCueText(line string) string {
	line = cueTagRe.ReplaceAllString(line, "")
	line = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&nbsp;", " ").Replace(line)
	return strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
}

// JoinSegments concatenates segment text into a single transcript.
func JoinSegments(segments []models.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}
