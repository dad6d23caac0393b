// Package validate gates free-text project descriptions before they are sent
// to the backend for analysis.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MinLength          = 10
	MaxLength          = 2000
	MinMeaningfulWords = 10
	MinUniqueRatio     = 0.5
	// The repetition check only applies above this many meaningful words.
	repetitionFloor = 5
)

// Rejection messages, one per check.
const (
	MsgEmpty       = "Please enter a project description."
	MsgTooLong     = "Description is too long. Please keep it under 2000 characters."
	MsgTooShort    = "Description is too short. Please provide at least 10 characters."
	MsgProfanity   = "Please keep the description professional. Inappropriate language is not allowed."
	MsgTooFewWords = "Please describe your project in more detail (at least 10 meaningful words)."
	MsgRepetitive  = "Description looks repetitive. Please describe your project in your own words."
	MsgPlaceholder = "Please enter a real project description instead of placeholder text."
)

type Result struct {
	IsValid bool   `json:"isValid"`
	Error   string `json:"error,omitempty"`
}

func reject(msg string) Result { return Result{IsValid: false, Error: msg} }

// English and transliterated Hindi/Gujarati abuse. Matched against the raw
// text, case-insensitive, anywhere in the input.
var profanityPatterns = compileAll(
	`\bf+u+c+k+\w*`,
	`\bsh+i+t+\w*`,
	`\bbitch\w*`,
	`\bbastard\w*`,
	`\basshole\w*`,
	`\bdick(head)?s?\b`,
	`\bcunt\w*`,
	`\bwhore\w*`,
	`\bslut\w*`,
	`\bmotherf\w*`,
	`\bwtf\b`,
	`\bstfu\b`,
	`\bnigg\w*`,
	`\bretard\w*`,
	`\bporn\w*`,
	`\bmadar\s*chod\w*`,
	`\bbe?hen\s*chod\w*`,
	`\bbc\s*mc\b`,
	`\bchut(iya|iye|ia)\w*`,
	`\bgaa?ndu?\b`,
	`\bbhos(a|di)\w*`,
	`\blund\b`,
	`\brand[iy]\b`,
	`\bharami\w*`,
	`\bkutt(a|i|e)\b`,
	`\bsaala\b`,
	`\bloda\b`,
	`\blavd[ao]\w*`,
	`\bgando\b`,
	`\bbhadv[ao]\w*`,
	`\bchodu\b`,
)

// Normalized text that is obviously filler.
var placeholderPatterns = compileAll(
	`^(test(ing)?\s*)+$`,
	`^(hello\s*)+$`,
	`^(hi|hey)(\s+there)?$`,
	`^(asdf\w*\s*)+$`,
	`^(qwerty\w*\s*)+$`,
	`^(abc|xyz|aaa+|xxx+)(\s|$)`,
	`lorem ipsum`,
	`^(sample|dummy|placeholder)( (text|project|description))*$`,
	`^(blah\s*)+$`,
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "be": {}, "to": {}, "of": {}, "in": {},
	"on": {}, "at": {}, "for": {}, "with": {}, "by": {}, "it": {}, "this": {},
	"that": {}, "i": {}, "we": {}, "you": {}, "my": {}, "our": {}, "me": {},
	"as": {}, "so": {}, "do": {}, "if": {}, "from": {}, "into": {}, "some": {},
}

var (
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespace  = regexp.MustCompile(`\s+`)
	numeric     = regexp.MustCompile(`^\p{N}+$`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// ProjectDescription runs the checks in order and reports the first failure.
func ProjectDescription(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return reject(MsgEmpty)
	}

	n := utf8.RuneCountInString(trimmed)
	if n > MaxLength {
		return reject(MsgTooLong)
	}
	if n < MinLength {
		return reject(MsgTooShort)
	}

	for _, re := range profanityPatterns {
		if re.MatchString(text) {
			return reject(MsgProfanity)
		}
	}

	normalized := Normalize(text)
	words := MeaningfulWords(normalized)
	if len(words) < MinMeaningfulWords {
		return reject(MsgTooFewWords)
	}

	if len(words) > repetitionFloor && UniqueRatio(words) < MinUniqueRatio {
		return reject(MsgRepetitive)
	}

	for _, re := range placeholderPatterns {
		if re.MatchString(normalized) {
			return reject(MsgPlaceholder)
		}
	}

	return Result{IsValid: true}
}

// Normalize lowercases, strips punctuation and collapses whitespace.
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = punctuation.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// MeaningfulWords splits normalized text and drops stopwords, numbers and
// single characters.
func MeaningfulWords(normalized string) []string {
	if normalized == "" {
		return nil
	}
	var out []string
	for _, w := range strings.Split(normalized, " ") {
		if utf8.RuneCountInString(w) <= 1 || numeric.MatchString(w) {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

func UniqueRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}
