package privacy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raaihank/glasslm/internal/config"
)

const employeeRules = `
rules:
  - name: employee_id
    category: employee_id
    pattern: '\bEMP-\d{6}\b'
    prefix: EMP_ID
    confidence: high
`

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestCustomRulesAreApplied(t *testing.T) {
	path := writeRules(t, employeeRules)
	d := newTestDetector(t, func(c *config.PrivacyConfig) { c.CustomRulesPath = path })

	result := d.Mask("badge EMP-123456")
	if result.MaskedText != "badge [[EMP_ID_1]]" {
		t.Fatalf("unexpected masked text %q", result.MaskedText)
	}
	if result.Items[0].ID != "emp_id_1" || result.Items[0].Category != Category("employee_id") {
		t.Errorf("unexpected item %+v", result.Items[0])
	}

	// Custom rules sit ahead of the context-scored generic rules
	names := d.GetEnabledRules()
	var custom, name int
	for i, n := range names {
		switch n {
		case "employee_id":
			custom = i
		case "name":
			name = i
		}
	}
	if custom > name {
		t.Errorf("custom rule ordered after generic rules: %v", names)
	}
}

func TestParseCustomRulesErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "rules: [", "failed to parse"},
		{"missing name", "rules:\n  - category: x\n    pattern: a\n    prefix: X\n", "name is required"},
		{"bad pattern", "rules:\n  - name: x\n    category: x\n    pattern: '('\n    prefix: X\n", "invalid pattern"},
		{"bad prefix", "rules:\n  - name: x\n    category: x\n    pattern: a\n    prefix: 'X Y'\n", "invalid prefix"},
		{"bad group", "rules:\n  - name: x\n    category: x\n    pattern: a\n    prefix: X\n    group: 2\n", "out of range"},
		{"bad validator", "rules:\n  - name: x\n    category: x\n    pattern: a\n    prefix: X\n    validator: md5\n", "unknown validator"},
		{"bad confidence", "rules:\n  - name: x\n    category: x\n    pattern: a\n    prefix: X\n    confidence: low\n", "invalid confidence"},
		{"duplicate", "rules:\n  - {name: x, category: x, pattern: a, prefix: X}\n  - {name: x, category: x, pattern: b, prefix: X}\n", "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCustomRules([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCustomRuleCannotShadowBuiltin(t *testing.T) {
	path := writeRules(t, "rules:\n  - {name: email, category: email, pattern: a, prefix: X}\n")

	cfg := config.GetDefaults().Privacy
	cfg.CustomRulesPath = path
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error for rule shadowing a built-in")
	}
}

func TestCustomRuleWithValidatorAndKeywords(t *testing.T) {
	rules, err := ParseCustomRules([]byte(`
rules:
  - name: order_card
    category: credit_card
    pattern: 'ORD(\d{16})'
    group: 1
    prefix: ORDER_CARD
    validator: luhn
    requires_context: true
    keywords:
      positive: [order]
`))
	if err != nil {
		t.Fatalf("ParseCustomRules failed: %v", err)
	}
	rule := rules[0]
	if rule.Validator == nil || !rule.RequiresContext || rule.Keywords == nil || rule.Group != 1 {
		t.Errorf("rule not compiled as declared: %+v", rule)
	}
	if rule.Confidence != ConfidenceMedium {
		t.Errorf("expected default medium confidence, got %s", rule.Confidence)
	}
}
