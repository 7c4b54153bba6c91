package privacy

import (
	"regexp"
	"sort"
)

// Category identifies the kind of sensitive value a rule detects
type Category string

// Supported categories
const (
	CategoryEmail           Category = "email"
	CategoryPhone           Category = "phone"
	CategorySSN             Category = "ssn"
	CategoryCreditCard      Category = "credit_card"
	CategoryName            Category = "name"
	CategoryAPIKey          Category = "api_key"
	CategoryAccessToken     Category = "access_token"
	CategoryPrivateKey      Category = "private_key"
	CategoryCloudCredential Category = "cloud_credential"
	CategoryIPAddress       Category = "ip_address"
	CategoryDatabaseURL     Category = "database_url"
)

// AllCategories lists every built-in category in catalog-family order
var AllCategories = []Category{
	CategoryName, CategoryEmail, CategoryPhone, CategorySSN, CategoryCreditCard,
	CategoryAPIKey, CategoryAccessToken, CategoryPrivateKey, CategoryCloudCredential,
	CategoryIPAddress, CategoryDatabaseURL,
}

// Confidence is the heuristic certainty that a detected span is sensitive
type Confidence string

// Confidence tiers
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Rank orders confidence tiers: low < medium < high
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// Validator is a predicate over a matched value. Rejected values are dropped, not down-weighted.
type Validator func(value string) bool

// DetectionRule represents a single detection rule in the ordered catalog
type DetectionRule struct {
	Name     string
	Category Category
	Pattern  *regexp.Regexp
	// Group selects the capture group holding the sensitive value; 0 is the whole match.
	Group           int
	Prefix          string
	Confidence      Confidence
	RequiresContext bool
	Validator       Validator
	// Keywords overrides the category keyword set for context scoring.
	Keywords *KeywordSet
}

// MaskedItem records one distinct original value and the placeholder that replaced it
type MaskedItem struct {
	ID          string     `json:"id"`
	Original    string     `json:"original"`
	Placeholder string     `json:"placeholder"`
	Category    Category   `json:"category"`
	Confidence  Confidence `json:"confidence"`
}

// MaskResult contains the outcome of masking a text
type MaskResult struct {
	MaskedText string       `json:"masked_text"`
	Items      []MaskedItem `json:"masked_items"`
}

// LeakageKind classifies how a masked value resurfaced
type LeakageKind string

// Leakage kinds
const (
	LeakageDirect   LeakageKind = "direct"
	LeakageIndirect LeakageKind = "indirect"
	LeakageInferred LeakageKind = "inferred"
)

// Severity of a leakage warning
type Severity string

// Severities
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities: low < medium < high
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// LeakageWarning flags a possible reappearance of masked data in a response
type LeakageWarning struct {
	Kind        LeakageKind `json:"kind"`
	Severity    Severity    `json:"severity"`
	Category    Category    `json:"category"`
	Description string      `json:"description"`
	MatchedText string      `json:"matched_text,omitempty"`
}

// RiskLevel is the coarse pre-send risk tier
type RiskLevel string

// Risk levels
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment is the advisory result of AnalyzePrivacyRisk
type RiskAssessment struct {
	RiskLevel RiskLevel `json:"risk_level"`
	Concerns  []string  `json:"concerns"`
}

// Finding summarizes masked items of one category without exposing originals
type Finding struct {
	EntityType   Category `json:"entityType"`
	Placeholders []string `json:"placeholders"`
	Count        int      `json:"count"`
}

// Summarize groups items by category. Safe to log and broadcast.
func Summarize(items []MaskedItem) []Finding {
	index := make(map[Category]int)
	findings := make([]Finding, 0)

	for _, item := range items {
		i, ok := index[item.Category]
		if !ok {
			i = len(findings)
			index[item.Category] = i
			findings = append(findings, Finding{EntityType: item.Category})
		}
		findings[i].Placeholders = append(findings[i].Placeholders, item.Placeholder)
		findings[i].Count++
	}

	sort.SliceStable(findings, func(a, b int) bool {
		return findings[a].EntityType < findings[b].EntityType
	})

	return findings
}
