package services

import (
	"html"
	"sort"
	"strings"
	"unicode/utf8"

	"essay-grader/internal/models"
)

// AnnotationKind tells an error span from an optimization span
type AnnotationKind string

const (
	AnnotationError        AnnotationKind = "error"
	AnnotationOptimization AnnotationKind = "optimization"
)

// minFallbackRunes is the shortest snippet that may be retried without its last rune
const minFallbackRunes = 5

// Annotation is a located span of the essay text. Start and End are byte
// offsets on rune boundaries.
type Annotation struct {
	Start       int
	End         int
	Number      int
	Kind        AnnotationKind
	Type        string
	Snippet     string
	Correction  string
	Explanation string
}

// Segment is a run of essay text, annotated or plain
type Segment struct {
	Text       string
	Annotation *Annotation
}

// LocateAnnotations finds every detailed error and optimization in text,
// drops overlapping spans and numbers the rest in reading order.
func LocateAnnotations(text string, report *models.EssayReport) []Annotation {
	if report == nil || text == "" {
		return nil
	}

	var found []Annotation
	add := func(kind AnnotationKind, typ, snippet, correction, explanation string) {
		start, end, ok := locate(text, snippet)
		if !ok {
			return
		}
		found = append(found, Annotation{
			Start:       start,
			End:         end,
			Kind:        kind,
			Type:        typ,
			Snippet:     text[start:end],
			Correction:  correction,
			Explanation: explanation,
		})
	}

	for _, e := range report.DetailedErrors {
		add(AnnotationError, e.Type, e.OriginalSentence, e.Correction, e.Explanation)
	}
	for _, o := range report.Optimizations {
		add(AnnotationOptimization, o.Type, o.OriginalSentence, o.Correction, o.Explanation)
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].Start < found[j].Start })

	kept := found[:0]
	lastEnd := -1
	for _, a := range found {
		if a.Start < lastEnd {
			continue
		}
		a.Number = len(kept) + 1
		kept = append(kept, a)
		lastEnd = a.End
	}
	return kept
}

// locate finds snippet in text, retrying once without the final rune when the
// model added a trailing character the essay does not have.
func locate(text, snippet string) (int, int, bool) {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return 0, 0, false
	}
	if idx := strings.Index(text, snippet); idx >= 0 {
		return idx, idx + len(snippet), true
	}
	if utf8.RuneCountInString(snippet) > minFallbackRunes {
		_, size := utf8.DecodeLastRuneInString(snippet)
		shorter := snippet[:len(snippet)-size]
		if idx := strings.Index(text, shorter); idx >= 0 {
			return idx, idx + len(shorter), true
		}
	}
	return 0, 0, false
}

// SegmentText splits text into consecutive segments covering it exactly.
// annotations must be sorted and non-overlapping, as LocateAnnotations returns them.
func SegmentText(text string, annotations []Annotation) []Segment {
	var segments []Segment
	pos := 0
	for i := range annotations {
		a := &annotations[i]
		if a.Start < pos || a.End > len(text) {
			continue
		}
		if a.Start > pos {
			segments = append(segments, Segment{Text: text[pos:a.Start]})
		}
		segments = append(segments, Segment{Text: text[a.Start:a.End], Annotation: a})
		pos = a.End
	}
	if pos < len(text) {
		segments = append(segments, Segment{Text: text[pos:]})
	}
	return segments
}

// ErrorSpan marks an erroneous fragment inside a sentence
type ErrorSpan struct {
	Sentence string
	Error    string
}

// ErrorSpansFromReport pairs each detailed error with the wrong fragment the
// paragraph reviews name, falling back to the whole sentence.
func ErrorSpansFromReport(report *models.EssayReport) []ErrorSpan {
	if report == nil {
		return nil
	}

	var wrongs []string
	for _, review := range report.ParagraphReviews {
		for _, c := range review.SpecificCorrections {
			if w := strings.TrimSpace(c.Wrong); w != "" {
				wrongs = append(wrongs, w)
			}
		}
	}

	spans := make([]ErrorSpan, 0, len(report.DetailedErrors))
	for _, e := range report.DetailedErrors {
		sentence := strings.TrimSpace(e.OriginalSentence)
		if sentence == "" {
			continue
		}
		fragment := sentence
		for _, w := range wrongs {
			if indexFold(sentence, w) >= 0 {
				fragment = w
				break
			}
		}
		spans = append(spans, ErrorSpan{Sentence: sentence, Error: fragment})
	}
	return spans
}

// AnnotateHTML escapes text and wraps each error fragment in
// <span class='error'>. A sentence is only processed once, and a fragment
// never overlaps one marked before it. Matching runs on the raw text so
// markup already inserted is never searched.
func AnnotateHTML(text string, spans []ErrorSpan) string {
	type mark struct{ start, end int }
	var marks []mark
	overlaps := func(start, end int) bool {
		for _, m := range marks {
			if start < m.end && m.start < end {
				return true
			}
		}
		return false
	}

	processed := make(map[string]bool)
	for _, span := range spans {
		if span.Sentence == "" || span.Error == "" || processed[span.Sentence] {
			continue
		}
		processed[span.Sentence] = true

		at := indexFold(span.Sentence, span.Error)
		if at < 0 {
			continue
		}
		for from := 0; from < len(text); {
			idx := strings.Index(text[from:], span.Sentence)
			if idx < 0 {
				break
			}
			start := from + idx + at
			end := start + len(span.Error)
			if !overlaps(start, end) {
				marks = append(marks, mark{start, end})
				break
			}
			from += idx + len(span.Sentence)
		}
	}
	sort.Slice(marks, func(i, j int) bool { return marks[i].start < marks[j].start })

	var b strings.Builder
	last := 0
	for _, m := range marks {
		b.WriteString(html.EscapeString(text[last:m.start]))
		b.WriteString("<span class='error'>")
		b.WriteString(html.EscapeString(text[m.start:m.end]))
		b.WriteString("</span>")
		last = m.end
	}
	b.WriteString(html.EscapeString(text[last:]))

	result := strings.ReplaceAll(b.String(), "\n", "<br>")
	if !strings.HasPrefix(result, "<") {
		result = "<p>" + result + "</p>"
	}
	return result
}

// indexFold is a case-insensitive strings.Index for substrings whose folded
// form keeps the same byte length.
func indexFold(s, sub string) int {
	if sub == "" {
		return 0
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if !utf8.RuneStart(s[i]) {
			continue
		}
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}
