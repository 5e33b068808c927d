// Package extract parses loose free-text chat input into typed loan fields.
//
// Every function here is pure: no state, no I/O, and a failed parse is
// reported through the boolean result rather than an error so that callers
// can simply re-prompt.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Accepted ranges for sales intake fields.
const (
	MinLoanAmount   = 50000
	MaxLoanAmount   = 4000000
	MinTenureMonths = 12
	MaxTenureMonths = 84

	rupeesPerLakh = 100000
)

var (
	lakhPattern   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*lakhs?\b`)
	numberPattern = regexp.MustCompile(`\d+(?:,\d+)*`)

	yearPattern    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:years?|yrs?)\b`)
	monthPattern   = regexp.MustCompile(`(?i)(\d+)\s*(?:months?|mon)\b`)
	integerPattern = regexp.MustCompile(`\d+`)

	phonePattern = regexp.MustCompile(`(?:^|\D)(\d{10})(?:\D|$)`)

	wordPattern = regexp.MustCompile(`[A-Za-z]+`)

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`my name is (\w+)`),
		regexp.MustCompile(`i'm (\w+)`),
		regexp.MustCompile(`i am (\w+)`),
		regexp.MustCompile(`call me (\w+)`),
		regexp.MustCompile(`(\w+) here\b`),
		regexp.MustCompile(`this is (\w+)`),
	}
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "you": {}, "are": {}, "can": {}, "will": {},
	"have": {}, "this": {}, "that": {}, "with": {}, "from": {}, "they": {},
	"been": {}, "their": {}, "said": {}, "each": {}, "which": {}, "what": {},
	"where": {}, "when": {}, "skip": {}, "name": {}, "my": {}, "hello": {},
	"hey": {}, "there": {}, "interested": {}, "looking": {}, "need": {},
	"loan": {}, "fine": {}, "good": {}, "okay": {}, "yes": {}, "not": {}, "just": {},
}

// Amount extracts a loan amount in rupees. Lakh notation is tried before a
// bare number; both must fall inside [MinLoanAmount, MaxLoanAmount].
func Amount(text string) (int, bool) {
	if m := lakhPattern.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return inRange(int(math.Round(v*rupeesPerLakh)), MinLoanAmount, MaxLoanAmount)
	}

	m := numberPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, false
	}
	return inRange(v, MinLoanAmount, MaxLoanAmount)
}

// Tenure extracts a repayment tenure in months from "N years", "N months" or a bare month count.
func Tenure(text string) (int, bool) {
	if m := yearPattern.FindStringSubmatch(text); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return inRange(int(math.Round(v*12)), MinTenureMonths, MaxTenureMonths)
	}
	if m := monthPattern.FindStringSubmatch(text); m != nil {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return inRange(v, MinTenureMonths, MaxTenureMonths)
	}
	m := integerPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return inRange(v, MinTenureMonths, MaxTenureMonths)
}

// Phone extracts exactly ten consecutive digits that are not part of a longer run.
func Phone(text string) (string, bool) {
	m := phonePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Name extracts a first name from an introduction such as "I'm Rahul" or
// "call me Priya". When no introduction pattern matches it falls back to the
// first alphabetic word longer than two letters that is not a stop word.
func Name(text string) (string, bool) {
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, p := range namePatterns {
		m := p.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if _, stop := stopWords[m[1]]; stop {
			continue
		}
		return TitleCase(m[1]), true
	}

	for _, w := range wordPattern.FindAllString(text, -1) {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopWords[strings.ToLower(w)]; stop {
			continue
		}
		return TitleCase(w), true
	}
	return "", false
}

// MatchOTP compares user input against the issued code after trimming whitespace.
func MatchOTP(input, expected string) bool {
	return expected != "" && strings.TrimSpace(input) == expected
}

// TitleCase upper-cases the first letter of each word and lower-cases the rest.
func TitleCase(s string) string {
	return cases.Title(language.Und).String(s)
}

// ContainsAny reports whether text contains any keyword, case-insensitively.
// Keywords that begin or end with a letter or digit must sit on a word
// boundary there, so "no" does not match "know" but "%" matches "15%".
func ContainsAny(text string, keywords ...string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if containsKeyword(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func containsKeyword(text, kw string) bool {
	if kw == "" {
		return false
	}
	checkStart := isWordRune(firstRune(kw))
	checkEnd := isWordRune(lastRune(kw))

	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], kw)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(kw)
		okStart := !checkStart || start == 0 || !isWordRune(lastRune(text[:start]))
		okEnd := !checkEnd || end == len(text) || !isWordRune(firstRune(text[end:]))
		if okStart && okEnd {
			return true
		}
		offset = start + 1
	}
	return false
}

func inRange(v, lo, hi int) (int, bool) {
	if v < lo || v > hi {
		return 0, false
	}
	return v, true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}
