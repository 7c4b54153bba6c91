package privacy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/raaihank/glasslm/internal/config"
)

// LeakageDetector audits responses for masked values that reappear
type LeakageDetector struct {
	cfg           config.LeakageConfig
	commonDomains map[string]bool
}

// NewLeakageDetector creates a detector. Zero-valued limits fall back to defaults.
func NewLeakageDetector(cfg config.LeakageConfig) *LeakageDetector {
	if cfg.MinNameTokenLen <= 0 {
		cfg.MinNameTokenLen = 3
	}
	if cfg.NumericSuffixLen <= 0 {
		cfg.NumericSuffixLen = 4
	}
	if cfg.RiskContextWindow <= 0 {
		cfg.RiskContextWindow = 50
	}

	domains := make(map[string]bool, len(cfg.CommonDomains))
	for _, d := range cfg.CommonDomains {
		domains[strings.ToLower(d)] = true
	}

	return &LeakageDetector{cfg: cfg, commonDomains: domains}
}

// Detect returns every triggered warning for response. A direct leak of an
// item suppresses the weaker checks for that item.
func (l *LeakageDetector) Detect(response string, items []MaskedItem) []LeakageWarning {
	warnings := make([]LeakageWarning, 0)
	if response == "" {
		return warnings
	}
	responseLower := strings.ToLower(response)

	for _, item := range items {
		if item.Original == "" {
			continue
		}

		if strings.Contains(responseLower, strings.ToLower(item.Original)) {
			warnings = append(warnings, LeakageWarning{
				Kind:        LeakageDirect,
				Severity:    SeverityHigh,
				Category:    item.Category,
				Description: fmt.Sprintf("Response contains the original %s that was masked", item.Category),
				MatchedText: item.Original,
			})
			continue
		}

		switch item.Category {
		case CategoryName:
			warnings = append(warnings, l.partialName(responseLower, item)...)
		case CategoryEmail:
			if w, ok := l.emailDomain(responseLower, item); ok {
				warnings = append(warnings, w)
			}
		case CategorySSN, CategoryPhone, CategoryCreditCard:
			if w, ok := l.numericSuffix(response, item); ok {
				warnings = append(warnings, w)
			}
		}
	}

	return warnings
}

func (l *LeakageDetector) partialName(responseLower string, item MaskedItem) []LeakageWarning {
	var warnings []LeakageWarning
	seen := make(map[string]bool)

	for _, part := range strings.Fields(item.Original) {
		if len([]rune(part)) < l.cfg.MinNameTokenLen {
			continue
		}
		lower := strings.ToLower(part)
		if seen[lower] || !containsWord(responseLower, lower) {
			continue
		}
		seen[lower] = true
		warnings = append(warnings, LeakageWarning{
			Kind:        LeakageIndirect,
			Severity:    SeverityMedium,
			Category:    item.Category,
			Description: "Response may contain part of a masked name",
			MatchedText: part,
		})
	}

	return warnings
}

func (l *LeakageDetector) emailDomain(responseLower string, item MaskedItem) (LeakageWarning, bool) {
	parts := strings.Split(item.Original, "@")
	if len(parts) != 2 {
		return LeakageWarning{}, false
	}

	domain := strings.ToLower(parts[1])
	if domain == "" || l.commonDomains[domain] || !strings.Contains(responseLower, domain) {
		return LeakageWarning{}, false
	}

	return LeakageWarning{
		Kind:        LeakageIndirect,
		Severity:    SeverityLow,
		Category:    item.Category,
		Description: "Response mentions the email domain of a masked address",
		MatchedText: domain,
	}, true
}

func (l *LeakageDetector) numericSuffix(response string, item MaskedItem) (LeakageWarning, bool) {
	digits := digitsOnly(item.Original)
	if len(digits) < l.cfg.NumericSuffixLen {
		return LeakageWarning{}, false
	}

	suffix := digits[len(digits)-l.cfg.NumericSuffixLen:]
	if !strings.Contains(response, suffix) {
		return LeakageWarning{}, false
	}

	return LeakageWarning{
		Kind:        LeakageIndirect,
		Severity:    SeverityMedium,
		Category:    item.Category,
		Description: fmt.Sprintf("Response contains digits matching the end of a masked %s", item.Category),
		MatchedText: suffix,
	}, true
}

// MaxSeverity returns the highest severity among warnings, low when empty
func MaxSeverity(warnings []LeakageWarning) Severity {
	max := SeverityLow
	for _, w := range warnings {
		if w.Severity.Rank() > max.Rank() {
			max = w.Severity
		}
	}
	return max
}

// riskPattern flags phrasing near a placeholder that helps infer the masked value
type riskPattern struct {
	pattern *regexp.Regexp
	concern string
}

var riskPatterns = []riskPattern{
	{regexp.MustCompile(`(?i)\blives? (?:at|in|near)\b`), "Location context may help infer masked addresses"},
	{regexp.MustCompile(`(?i)\bworks? (?:at|for)\b`), "Employment context may help infer identity"},
	{regexp.MustCompile(`(?i)\b(?:born|birthday|age)\b`), "Date context may reveal personal information"},
	{regexp.MustCompile(`(?i)\b(?:diagnosed|diagnosis|prescribed|medication|treatment for)\b`), "Medical context may reveal sensitive health information"},
}

// AnalyzeRisk inspects the masked text around each placeholder. Advisory only.
func (l *LeakageDetector) AnalyzeRisk(maskedText string, items []MaskedItem) RiskAssessment {
	concerns := make([]string, 0)
	seen := make(map[string]bool)

	for _, item := range items {
		idx := strings.Index(maskedText, item.Placeholder)
		if item.Placeholder == "" || idx < 0 {
			continue
		}

		start := idx - l.cfg.RiskContextWindow
		if start < 0 {
			start = 0
		}
		end := idx + len(item.Placeholder) + l.cfg.RiskContextWindow
		if end > len(maskedText) {
			end = len(maskedText)
		}
		context := maskedText[start:end]

		for _, rp := range riskPatterns {
			if !seen[rp.concern] && rp.pattern.MatchString(context) {
				seen[rp.concern] = true
				concerns = append(concerns, rp.concern)
			}
		}
	}

	sensitive := 0
	for _, item := range items {
		if item.Category == CategorySSN || item.Category == CategoryCreditCard {
			sensitive++
		}
	}
	if sensitive > 0 {
		concerns = append(concerns, fmt.Sprintf("%d highly sensitive item(s) will be masked", sensitive))
	}

	level := RiskLow
	if len(concerns) > 2 || sensitive > 0 {
		level = RiskMedium
	}
	if len(concerns) > 3 || sensitive > 2 {
		level = RiskHigh
	}

	return RiskAssessment{RiskLevel: level, Concerns: concerns}
}
