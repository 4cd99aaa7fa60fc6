// Package segment splits normalized text into ordered scene spans.
//
// Segmentation is line-driven: a profile's rules decide which lines end the
// scene being accumulated (blank lines, heading lines, extra split lines),
// and fence rules carve out regions where no rule applies at all. Spans are
// half-open [start, end) byte offsets into the text and never overlap; a
// consumed heading line or a suppressed short span leaves a gap.
package segment

import (
	"regexp"
	"strings"

	"github.com/ljramones/lore-ingestor/internal/profile"
)

// Span is a half-open [Start, End) byte range of the segmented text.
type Span struct {
	Start int
	End   int
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Segment applies p's scene rules to text. The result is ordered by Start,
// non-overlapping, and non-empty: text with no boundaries at all comes back
// as a single span covering everything, and empty text as a single empty
// span.
func Segment(text string, p *profile.Profile) []Span {
	rules := p.Scene

	var spans []Span
	curStart := 0
	inFence := false

	// emit appends [curStart, end) unless it is empty or suppressed.
	// Spans shorter than MinSceneChars are suppressed once at least one
	// scene exists; the first scene and the document tail are always kept.
	emit := func(end int, tail bool) {
		if end <= curStart {
			return
		}
		if !tail && len(spans) > 0 && end-curStart < rules.MinSceneChars {
			return
		}
		spans = append(spans, Span{Start: curStart, End: end})
	}

	pos := 0
	for pos < len(text) {
		lineStart := pos
		lineEnd := len(text)
		if nl := strings.IndexByte(text[pos:], '\n'); nl >= 0 {
			lineEnd = pos + nl + 1
		}
		line := text[lineStart:lineEnd]
		pos = lineEnd

		// Regexes are end-anchored, so match against the line without its
		// terminator.
		content := strings.TrimSuffix(line, "\n")

		if inFence {
			if rules.FenceCloseRegex != nil && rules.FenceCloseRegex.MatchString(content) {
				inFence = false
			}
			continue
		}
		if rules.FenceOpenRegex != nil && rules.FenceOpenRegex.MatchString(content) {
			inFence = true
			continue
		}

		if rules.HeadingRegex != nil && rules.HeadingRegex.MatchString(content) {
			emit(lineStart, false)
			if rules.HeadingConsumesLine {
				curStart = pos
			} else {
				curStart = lineStart
			}
			continue
		}

		if matchesAny(rules.ExtraSplitRegexes, content) {
			emit(lineStart, false)
			curStart = lineStart
			continue
		}

		if rules.BreakOnBlank && strings.TrimSpace(line) == "" {
			emit(lineStart, false)
			curStart = pos
		}
	}

	if pos > curStart {
		emit(pos, true)
	}
	if len(spans) == 0 {
		spans = append(spans, Span{Start: 0, End: len(text)})
	}
	return spans
}

func matchesAny(res []*regexp.Regexp, content string) bool {
	for _, re := range res {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}
