// Package tokens splits text into lower-cased content words. The embedder,
// classifier and evaluator share it so they agree on what a word is.
package tokens

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// wordPattern matches letter/digit runs, keeping inner apostrophes.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)

// stopwords are function words that carry no topic.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an the and or but if then else for to of in on at by with as is are was were be been being
		it its this that these those from up down over under again further than so such into about between through during
		before after above below out off own same too very can will just don should now what which who whom whose how when
		where why do does did me my i you your we our they their he she his her tell please there here have has had
		what's it's that's there's i'm let's how's where's who's whats its`) {
		stopwords[w] = struct{}{}
	}
}

// All returns every lower-cased word in text, stopwords included.
func All(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// Content returns the lower-cased words of text in order, without stopwords.
func Content(text string) []string {
	raw := All(text)
	out := raw[:0]
	for _, t := range raw {
		if IsStopword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Set returns the distinct content words of text.
func Set(text string) map[string]struct{} {
	words := Content(text)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsStopword reports whether w (already lower-cased) is a stopword.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// Salient returns the lower-cased content words of text that look like
// facts: any word containing a digit, and any capitalised word. A
// capitalised word that opens a sentence and is followed by a comma reads
// as a discourse marker ("Indeed,") and is skipped.
func Salient(text string) map[string]struct{} {
	out := make(map[string]struct{})
	last := 0
	for i, loc := range wordPattern.FindAllStringIndex(text, -1) {
		opens := i == 0 || strings.ContainsAny(text[last:loc[0]], ".!?\n")
		word := text[loc[0]:loc[1]]
		last = loc[1]
		lower := strings.ToLower(word)
		if IsStopword(lower) {
			continue
		}
		first, _ := utf8.DecodeRuneInString(word)
		switch {
		case strings.IndexFunc(word, unicode.IsDigit) >= 0:
			out[lower] = struct{}{}
		case unicode.IsUpper(first):
			if opens && strings.HasPrefix(text[loc[1]:], ",") {
				continue
			}
			out[lower] = struct{}{}
		}
	}
	return out
}
