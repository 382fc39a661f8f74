package ingestion

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	// horizontalSpace collapses runs of spaces and tabs.
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	// paragraphBreak matches two or more newlines, possibly with blank
	// space between them.
	paragraphBreak = regexp.MustCompile(`\n\s*\n+`)
)

// normalize makes extraction output canonical: CRLF becomes LF, horizontal
// whitespace runs become one space, blank-line runs become one paragraph
// break and single newlines become spaces. Identical content always yields
// identical text, and therefore identical chunks.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = paragraphBreak.ReplaceAllString(s, "\x00")
	s = strings.ReplaceAll(s, "\n", " ")
	s = horizontalSpace.ReplaceAllString(s, " ")
	parts := strings.Split(s, "\x00")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// span is a chunk boundary pair in rune offsets.
type span struct {
	start, end int
}

// splitSpans cuts text into spans of at most size runes, each starting
// overlap runes before the end of the previous one. A cut prefers, in
// order, a paragraph break, a sentence end, then any whitespace, searching
// back from the hard limit no further than half a chunk. Only when none is
// found is the text cut mid-word.
func splitSpans(runes []rune, size, overlap int) []span {
	n := len(runes)
	if n == 0 {
		return nil
	}
	var spans []span
	start := 0
	for start < n {
		end := start + size
		if end >= n {
			end = n
		} else {
			end = bestBreak(runes, start, end, size)
		}
		spans = append(spans, span{start, end})
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return spans
}

// bestBreak returns the preferred cut position in (start, limit].
func bestBreak(runes []rune, start, limit, size int) int {
	floor := start + size/2
	if floor <= start {
		floor = start + 1
	}

	// Paragraph: cut just after "\n\n".
	for i := limit; i > floor; i-- {
		if runes[i-1] == '\n' && i >= 2 && runes[i-2] == '\n' {
			return i
		}
	}
	// Sentence: cut just after terminal punctuation followed by whitespace.
	for i := limit; i > floor; i-- {
		if isSentenceEnd(runes[i-1]) && i < len(runes) && unicode.IsSpace(runes[i]) {
			return i
		}
	}
	// Word: cut at whitespace.
	for i := limit; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// chunkID generates a deterministic ID for a chunk from its document id and
// ordinal.
func chunkID(documentID string, ordinal int) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s#%d", documentID, ordinal))
	return fmt.Sprintf("%x", h[:16])
}

// DocumentID derives a stable document id from a file name, so uploading a
// file under the same name replaces the earlier version.
func DocumentID(name string) string {
	h := sha256.Sum256([]byte(name))
	return fmt.Sprintf("%x", h[:8])
}

// pageIndex maps rune offsets of the joined document text to page numbers.
type pageIndex struct {
	starts  []int
	numbers []int
}

// pageAt returns the page containing rune offset off.
func (p pageIndex) pageAt(off int) int {
	i := sort.Search(len(p.starts), func(i int) bool { return p.starts[i] > off }) - 1
	if i < 0 {
		return 1
	}
	return p.numbers[i]
}

// joinPages normalises each page and joins them with paragraph breaks,
// recording where each page begins.
func joinPages(pages []Page) ([]rune, pageIndex) {
	var (
		out []rune
		idx pageIndex
	)
	for _, p := range pages {
		t := normalize(p.Text)
		if t == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n', '\n')
		}
		idx.starts = append(idx.starts, len(out))
		idx.numbers = append(idx.numbers, p.Number)
		out = append(out, []rune(t)...)
	}
	return out, idx
}
