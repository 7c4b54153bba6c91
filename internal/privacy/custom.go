package privacy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// CustomRuleSpec is the file representation of a user-defined rule
type CustomRuleSpec struct {
	Name            string      `yaml:"name"`
	Category        string      `yaml:"category"`
	Pattern         string      `yaml:"pattern"`
	Group           int         `yaml:"group"`
	Prefix          string      `yaml:"prefix"`
	Confidence      string      `yaml:"confidence"`
	RequiresContext bool        `yaml:"requires_context"`
	Validator       string      `yaml:"validator"`
	Keywords        *KeywordSet `yaml:"keywords"`
}

// CustomRuleFile is the top-level document of a custom rules file
type CustomRuleFile struct {
	Rules []CustomRuleSpec `yaml:"rules"`
}

var prefixPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*(?:_[A-Za-z0-9]+)*$`)

// LoadCustomRules reads and compiles rules from a YAML file
func LoadCustomRules(path string) ([]DetectionRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read custom rules: %w", err)
	}
	return ParseCustomRules(data)
}

// ParseCustomRules compiles rules from YAML bytes
func ParseCustomRules(data []byte) ([]DetectionRule, error) {
	var file CustomRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse custom rules: %w", err)
	}

	rules := make([]DetectionRule, 0, len(file.Rules))
	seen := make(map[string]bool)
	for i, spec := range file.Rules {
		rule, err := spec.compile()
		if err != nil {
			return nil, fmt.Errorf("custom rule %d (%s): %w", i, spec.Name, err)
		}
		if seen[rule.Name] {
			return nil, fmt.Errorf("custom rule %d: duplicate name %s", i, rule.Name)
		}
		seen[rule.Name] = true
		rules = append(rules, rule)
	}

	return rules, nil
}

func (s CustomRuleSpec) compile() (DetectionRule, error) {
	if s.Name == "" {
		return DetectionRule{}, fmt.Errorf("name is required")
	}
	if s.Category == "" {
		return DetectionRule{}, fmt.Errorf("category is required")
	}
	if !prefixPattern.MatchString(s.Prefix) {
		return DetectionRule{}, fmt.Errorf("invalid prefix %q", s.Prefix)
	}

	pattern, err := regexp.Compile(s.Pattern)
	if err != nil {
		return DetectionRule{}, fmt.Errorf("invalid pattern: %w", err)
	}
	if s.Group < 0 || s.Group > pattern.NumSubexp() {
		return DetectionRule{}, fmt.Errorf("group %d out of range", s.Group)
	}

	confidence := ConfidenceMedium
	switch strings.ToLower(s.Confidence) {
	case "":
	case string(ConfidenceHigh):
		confidence = ConfidenceHigh
	case string(ConfidenceMedium):
		confidence = ConfidenceMedium
	default:
		return DetectionRule{}, fmt.Errorf("invalid confidence %q", s.Confidence)
	}

	rule := DetectionRule{
		Name:            s.Name,
		Category:        Category(s.Category),
		Pattern:         pattern,
		Group:           s.Group,
		Prefix:          s.Prefix,
		Confidence:      confidence,
		RequiresContext: s.RequiresContext,
		Keywords:        s.Keywords,
	}

	if s.Validator != "" {
		validator, ok := validatorsByName[s.Validator]
		if !ok {
			return DetectionRule{}, fmt.Errorf("unknown validator %q", s.Validator)
		}
		rule.Validator = validator
	}

	return rule, nil
}
