package privacy

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raaihank/glasslm/internal/config"
)

// KeywordSet holds the evidence words for one category
type KeywordSet struct {
	Positive []string `yaml:"positive" json:"positive"`
	Negative []string `yaml:"negative" json:"negative"`
}

// ContextResult is the outcome of scoring one candidate span
type ContextResult struct {
	Confidence       Confidence `json:"confidence"`
	Score            int        `json:"score"`
	Keywords         []string   `json:"keywords"`
	NegativeKeywords []string   `json:"negative_keywords"`
}

// DefaultKeywords returns the built-in keyword sets per category
func DefaultKeywords() map[Category]KeywordSet {
	return map[Category]KeywordSet{
		CategoryAPIKey: {
			Positive: []string{"key", "api", "token", "secret", "credential", "credentials", "auth", "app", "password", "bearer"},
			Negative: []string{"array", "index", "hash", "version", "code", "commit", "checksum", "sha", "uuid"},
		},
		CategoryPhone: {
			Positive: []string{"call", "phone", "mobile", "number", "contact", "tel", "cell", "text me", "whatsapp"},
			Negative: []string{"code", "error", "line", "port", "id", "order", "invoice"},
		},
		CategoryEmail: {
			Positive: []string{"email", "e-mail", "mail", "contact", "send", "reach"},
			Negative: []string{"example", "noreply", "no-reply"},
		},
		CategoryCreditCard: {
			Positive: []string{"card", "payment", "credit", "debit", "visa", "mastercard", "amex"},
			Negative: []string{"id", "number", "code"},
		},
		CategoryName: {
			Positive: []string{
				"name", "i'm", "i am", "im", "my", "mr", "mrs", "ms", "dr", "prof", "dear",
				"hi", "hello", "hey", "contact", "call", "met", "meet", "with", "from", "by",
				"sincerely", "regards", "thanks", "signed", "manager", "boss", "colleague",
				"friend", "wife", "husband", "son", "daughter", "mother", "father", "brother",
				"sister", "patient", "client", "customer", "employee", "tenant", "landlord",
				"email", "phone",
			},
			Negative: []string{
				"street", "st", "avenue", "ave", "road", "boulevard", "lane", "drive",
				"university", "college", "school", "hospital", "inc", "llc", "ltd",
				"corporation", "company", "city", "county", "state", "river", "mountain",
				"park", "airport", "station", "project", "class", "function", "method",
				"module", "package", "library", "framework",
			},
		},
		CategoryCloudCredential: {
			Positive: []string{"aws", "secret", "key", "credential", "credentials", "access", "iam", "s3", "amazon", "azure", "gcp"},
			Negative: []string{"hash", "checksum", "sha", "image", "data", "base64"},
		},
	}
}

// ContextAnalyzer scores a candidate span by the keywords around it
type ContextAnalyzer struct {
	cfg      config.ContextConfig
	keywords map[Category]KeywordSet
}

// NewContextAnalyzer creates an analyzer with the built-in keyword sets
func NewContextAnalyzer(cfg config.ContextConfig) *ContextAnalyzer {
	return &ContextAnalyzer{
		cfg:      cfg,
		keywords: DefaultKeywords(),
	}
}

// SetKeywords replaces the keyword set for a category
func (a *ContextAnalyzer) SetKeywords(category Category, set KeywordSet) {
	a.keywords[category] = set
}

// Analyze scores the span [start,end) of text for the given category.
// Categories without a keyword set score the baseline at medium confidence.
func (a *ContextAnalyzer) Analyze(text string, start, end int, category Category) ContextResult {
	set, ok := a.keywords[category]
	if !ok {
		return ContextResult{
			Confidence:       ConfidenceMedium,
			Score:            a.cfg.Baseline,
			Keywords:         []string{},
			NegativeKeywords: []string{},
		}
	}
	return a.AnalyzeWith(text, start, end, set)
}

// AnalyzeWith scores the span against an explicit keyword set
func (a *ContextAnalyzer) AnalyzeWith(text string, start, end int, set KeywordSet) ContextResult {
	before, after := contextWindow(text, start, end, a.cfg.WindowSize)
	surrounding := strings.ToLower(before + " " + after)

	result := ContextResult{
		Keywords:         []string{},
		NegativeKeywords: []string{},
	}

	score := a.cfg.Baseline
	for _, kw := range set.Positive {
		if containsWord(surrounding, strings.ToLower(kw)) {
			score += a.cfg.PositiveBoost
			result.Keywords = append(result.Keywords, kw)
		}
	}
	for _, kw := range set.Negative {
		if containsWord(surrounding, strings.ToLower(kw)) {
			score -= a.cfg.NegativePenalty
			result.NegativeKeywords = append(result.NegativeKeywords, kw)
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	result.Score = score
	result.Confidence = a.tier(score)
	return result
}

func (a *ContextAnalyzer) tier(score int) Confidence {
	switch {
	case score >= a.cfg.HighThreshold:
		return ConfidenceHigh
	case score >= a.cfg.MediumThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// contextWindow returns up to size runes on each side of [start,end), clamped to text bounds
func contextWindow(text string, start, end, size int) (string, string) {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}

	from := start
	for n := 0; n < size && from > 0; n++ {
		_, w := utf8.DecodeLastRuneInString(text[:from])
		from -= w
	}

	to := end
	for n := 0; n < size && to < len(text); n++ {
		_, w := utf8.DecodeRuneInString(text[to:])
		to += w
	}

	return text[from:start], text[end:to]
}

// containsWord reports whether keyword occurs in haystack bounded by non-word runes
func containsWord(haystack, keyword string) bool {
	if keyword == "" {
		return false
	}

	offset := 0
	for {
		i := strings.Index(haystack[offset:], keyword)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(keyword)

		if !wordRuneBefore(haystack, start) && !wordRuneAfter(haystack, end) {
			return true
		}
		_, w := utf8.DecodeRuneInString(haystack[start:])
		offset = start + w
	}
}

func wordRuneBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return isWordRune(r)
}

func wordRuneAfter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
