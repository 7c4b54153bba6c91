package privacy

import (
	"fmt"
	"regexp"
	"sort"
)

// Rule presets
const (
	PresetDeveloper  = "developer"
	PresetPersonal   = "personal"
	PresetEnterprise = "enterprise"
	PresetCustom     = "custom"
)

// GetDefaultRules returns the built-in catalog. Order matters: specific
// patterns run before generic ones and the first rule to claim a span wins.
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			Name:       "private_key",
			Category:   CategoryPrivateKey,
			Pattern:    regexp.MustCompile(`-----BEGIN [A-Z0-9 ]*PRIVATE KEY(?: BLOCK)?-----[\s\S]*?-----END [A-Z0-9 ]*PRIVATE KEY(?: BLOCK)?-----`),
			Prefix:     "PRIVATE_KEY",
			Confidence: ConfidenceHigh,
		},
		{
			Name:       "database_url",
			Category:   CategoryDatabaseURL,
			Pattern:    regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mariadb|mongodb(?:\+srv)?|rediss?|amqps?|mssql|sqlserver|jdbc:[a-z]+)://[^\s'"<>` + "`" + `]*[^\s'"<>` + "`" + `.,;:!?)\]]`),
			Prefix:     "DB_URL",
			Confidence: ConfidenceHigh,
		},
		{
			Name:       "jwt",
			Category:   CategoryAccessToken,
			Pattern:    regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{5,}\.eyJ[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]+`),
			Prefix:     "JWT",
			Confidence: ConfidenceHigh,
			Validator:  IsJWTShaped,
		},
		{
			Name:       "aws_access_key",
			Category:   CategoryCloudCredential,
			Pattern:    regexp.MustCompile(`\b(?:AKIA|ASIA|ABIA|ACCA)[0-9A-Z]{16}\b`),
			Prefix:     "AWS_KEY",
			Confidence: ConfidenceHigh,
		},
		{
			Name:       "aws_secret_key",
			Category:   CategoryCloudCredential,
			Pattern:    regexp.MustCompile(`(?i)aws_?secret(?:_?access)?_?key["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})`),
			Group:      1,
			Prefix:     "AWS_SECRET",
			Confidence: ConfidenceHigh,
		},
		{
			Name:     "api_key",
			Category: CategoryAPIKey,
			Pattern: regexp.MustCompile(`\b(?:sk-ant-[A-Za-z0-9_-]{20,}|sk-proj-[A-Za-z0-9_-]{20,}|sk-[A-Za-z0-9]{20,}|` +
				`(?:sk|pk|rk)_(?:live|test)_[A-Za-z0-9]{16,}|AIza[0-9A-Za-z_-]{35}|xai-[A-Za-z0-9]{20,}|` +
				`gh[pousr]_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{22,}|xox[abprs]-[A-Za-z0-9-]{10,})`),
			Prefix:     "API_KEY",
			Confidence: ConfidenceHigh,
		},
		{
			Name:       "bearer_token",
			Category:   CategoryAccessToken,
			Pattern:    regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9._~+/-]{16,}=*)`),
			Group:      1,
			Prefix:     "TOKEN",
			Confidence: ConfidenceHigh,
		},
		{
			Name:       "secret_assignment",
			Category:   CategoryAPIKey,
			Pattern:    regexp.MustCompile(`(?i)\b(?:password|passwd|pwd|secret|client_secret|api[_-]?key|apikey|access[_-]?token|auth[_-]?token|token)["']?\s*[:=]\s*["']?([^\s"'<>\[\]]{6,})`),
			Group:      1,
			Prefix:     "SECRET",
			Confidence: ConfidenceHigh,
		},
		{
			Name:       "email",
			Category:   CategoryEmail,
			Pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Prefix:     "EMAIL",
			Confidence: ConfidenceHigh,
		},
		{
			Name:       "ipv4",
			Category:   CategoryIPAddress,
			Pattern:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Prefix:     "IP",
			Confidence: ConfidenceMedium,
			Validator:  IsValidIPv4,
		},
		{
			Name:       "ipv6",
			Category:   CategoryIPAddress,
			Pattern:    regexp.MustCompile(`(?i)(?:^|[^0-9a-z:])((?:[0-9a-f]{0,4}:){2,7}[0-9a-f]{1,4})`),
			Group:      1,
			Prefix:     "IPv6",
			Confidence: ConfidenceMedium,
			Validator:  IsValidIPv6,
		},
		{
			Name:       "ssn",
			Category:   CategorySSN,
			Pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Prefix:     "SSN",
			Confidence: ConfidenceHigh,
			Validator:  IsValidSSN,
		},
		{
			Name:       "credit_card",
			Category:   CategoryCreditCard,
			Pattern:    regexp.MustCompile(`\b(?:3[47]\d{2}[ -]?\d{6}[ -]?\d{5}|\d{4}(?:[ -]?\d{4}){2}[ -]?\d{1,7})\b`),
			Prefix:     "CARD",
			Confidence: ConfidenceHigh,
			Validator:  IsValidLuhn,
		},
		{
			Name:       "phone",
			Category:   CategoryPhone,
			Pattern:    regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`),
			Prefix:     "PHONE",
			Confidence: ConfidenceMedium,
		},
		{
			Name:     "name",
			Category: CategoryName,
			Pattern: regexp.MustCompile(`\b(?:(?:Hi|Hello|Hey|Dear|Thanks|Mr|Mrs|Ms|Dr|Prof|From|To|Cc|With|And|Meet|Call|Ask|Tell|By|For|My|Our|Your)\.?[ \t]+)?` +
				`([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+){1,2})\b`),
			Group:           1,
			Prefix:          "NAME",
			Confidence:      ConfidenceMedium,
			RequiresContext: true,
			Validator:       IsPlausibleName,
		},
		{
			Name:            "contextual_api_key",
			Category:        CategoryAPIKey,
			Pattern:         regexp.MustCompile(`\b[A-Za-z0-9]{16,64}\b`),
			Prefix:          "API_KEY",
			Confidence:      ConfidenceMedium,
			RequiresContext: true,
			Validator:       IsMixedAlphanumeric,
		},
		{
			Name:            "contextual_cloud_secret",
			Category:        CategoryCloudCredential,
			Pattern:         regexp.MustCompile(`(?:^|[^A-Za-z0-9/+=])([A-Za-z0-9/+]{40})(?:$|[^A-Za-z0-9/+=])`),
			Group:           1,
			Prefix:          "AWS_SECRET",
			Confidence:      ConfidenceMedium,
			RequiresContext: true,
			Validator:       IsHighEntropySecret,
		},
	}
}

// Presets returns the category sets enabled by each named preset.
// A nil set enables every rule.
func Presets() map[string][]Category {
	return map[string][]Category{
		PresetDeveloper: {
			CategoryEmail, CategoryPhone, CategorySSN, CategoryCreditCard,
			CategoryAPIKey, CategoryAccessToken, CategoryPrivateKey, CategoryCloudCredential,
			CategoryIPAddress, CategoryDatabaseURL,
		},
		PresetPersonal: {
			CategoryName, CategoryEmail, CategoryPhone, CategorySSN, CategoryCreditCard,
		},
		PresetEnterprise: nil,
	}
}

// PresetNames lists the accepted preset names in display order
func PresetNames() []string {
	return []string{PresetDeveloper, PresetPersonal, PresetEnterprise, PresetCustom}
}

// RuleInfo is the serializable view of a rule
type RuleInfo struct {
	Name            string     `json:"name"`
	Category        Category   `json:"category"`
	Prefix          string     `json:"prefix"`
	Confidence      Confidence `json:"confidence"`
	RequiresContext bool       `json:"requires_context"`
	Enabled         bool       `json:"enabled"`
}

// resolveSelection expands a mix of rule names, category names and "all" into rule names
func resolveSelection(rules []DetectionRule, selection []string) (map[string]bool, error) {
	enabled := make(map[string]bool, len(rules))
	for _, rule := range rules {
		enabled[rule.Name] = false
	}

	for _, entry := range selection {
		if entry == "all" {
			for _, rule := range rules {
				enabled[rule.Name] = true
			}
			continue
		}

		found := false
		for _, rule := range rules {
			if rule.Name == entry || string(rule.Category) == entry {
				enabled[rule.Name] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown detector: %s", entry)
		}
	}

	return enabled, nil
}

// presetSelection returns the detector list a preset stands for
func presetSelection(preset string, detectors []string) ([]string, error) {
	switch preset {
	case "", PresetCustom:
		if len(detectors) == 0 {
			return []string{"all"}, nil
		}
		return detectors, nil
	}

	categories, ok := Presets()[preset]
	if !ok {
		return nil, fmt.Errorf("unknown preset: %s", preset)
	}
	if categories == nil {
		return []string{"all"}, nil
	}

	selection := make([]string, 0, len(categories))
	for _, c := range categories {
		selection = append(selection, string(c))
	}
	sort.Strings(selection)
	return selection, nil
}
