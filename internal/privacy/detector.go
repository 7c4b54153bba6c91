package privacy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/raaihank/glasslm/internal/config"
	"github.com/raaihank/glasslm/internal/logger"
	"go.uber.org/zap"
)

// Detector handles sensitive value detection and masking
type Detector struct {
	mu       sync.RWMutex
	rules    []DetectionRule
	enabled  map[string]bool
	analyzer *ContextAnalyzer
	leakage  *LeakageDetector
	logger   *logger.Logger
	config   config.PrivacyConfig
}

// New creates a new detector instance
func New(cfg config.PrivacyConfig, log *logger.Logger) (*Detector, error) {
	if log == nil {
		log = logger.NewNop()
	}

	rules, err := buildRules(cfg)
	if err != nil {
		return nil, err
	}

	detector := &Detector{
		rules:    rules,
		analyzer: NewContextAnalyzer(cfg.Context),
		leakage:  NewLeakageDetector(cfg.Leakage),
		logger:   log.WithComponent("privacy"),
		config:   cfg,
	}

	// Configure enabled detectors
	if err := detector.configureDetectors(cfg.Preset, cfg.Detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	detector.logger.Info("Privacy detector initialized",
		zap.String("preset", cfg.Preset),
		zap.Int("total_rules", len(detector.rules)),
		zap.Int("enabled_rules", detector.countEnabledRules()),
	)

	return detector, nil
}

// buildRules returns the built-in catalog with custom rules inserted ahead
// of the context-scored generic rules.
func buildRules(cfg config.PrivacyConfig) ([]DetectionRule, error) {
	rules := GetDefaultRules()
	if cfg.CustomRulesPath == "" {
		return rules, nil
	}

	custom, err := LoadCustomRules(cfg.CustomRulesPath)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(rules))
	for _, rule := range rules {
		names[rule.Name] = true
	}
	for _, rule := range custom {
		if names[rule.Name] {
			return nil, fmt.Errorf("custom rule %s shadows a built-in rule", rule.Name)
		}
	}

	at := len(rules)
	for i, rule := range rules {
		if rule.RequiresContext {
			at = i
			break
		}
	}

	merged := make([]DetectionRule, 0, len(rules)+len(custom))
	merged = append(merged, rules[:at]...)
	merged = append(merged, custom...)
	merged = append(merged, rules[at:]...)
	return merged, nil
}

// configureDetectors enables/disables detectors based on preset and selection
func (d *Detector) configureDetectors(preset string, detectors []string) error {
	selection, err := presetSelection(preset, detectors)
	if err != nil {
		return err
	}

	enabled, err := resolveSelection(d.rules, selection)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	return nil
}

// Reconfigure applies a new preset and detector selection at runtime
func (d *Detector) Reconfigure(preset string, detectors []string) error {
	if err := d.configureDetectors(preset, detectors); err != nil {
		return err
	}

	d.mu.Lock()
	d.config.Preset = preset
	d.config.Detectors = detectors
	d.mu.Unlock()

	d.logger.Info("Detection rules reconfigured",
		zap.String("preset", preset),
		zap.Int("enabled_rules", d.countEnabledRules()),
	)
	return nil
}

// activeRules snapshots the enabled rules in catalog order
func (d *Detector) activeRules() []DetectionRule {
	d.mu.RLock()
	defer d.mu.RUnlock()

	active := make([]DetectionRule, 0, len(d.rules))
	for _, rule := range d.rules {
		if d.enabled[rule.Name] {
			active = append(active, rule)
		}
	}
	return active
}

// Mask replaces every detected sensitive value with a placeholder.
// Placeholders are numbered from 1 per prefix within this call.
func (d *Detector) Mask(text string) MaskResult {
	return d.mask(text, nil)
}

// MaskWithRegistry masks text using session-scoped placeholders so that a
// value seen in an earlier message keeps its token.
func (d *Detector) MaskWithRegistry(text string, registry *Registry) MaskResult {
	return d.mask(text, registry)
}

func (d *Detector) mask(text string, registry *Registry) MaskResult {
	if text == "" || !d.config.Enabled {
		return MaskResult{MaskedText: text, Items: []MaskedItem{}}
	}

	op := d.newOperation(text, registry)
	masked := op.maskText(text)
	items := op.result()

	if len(items) > 0 {
		d.logger.Debug("Sensitive values masked",
			zap.Int("items", len(items)),
			zap.Any("findings", Summarize(items)),
		)
	}

	return MaskResult{MaskedText: masked, Items: items}
}

func (d *Detector) newOperation(corpus string, registry *Registry) *operation {
	var alloc allocator = newCounterAllocator()
	if registry != nil {
		alloc = registry
	}

	op := newOperation(d.activeRules(), d.analyzer, alloc, corpus)
	if registry != nil && d.config.Registry.Sticky {
		op.recall = registry.Items()
	}
	return op
}

// Unmask restores originals in text
func (d *Detector) Unmask(text string, items []MaskedItem) string {
	return Unmask(text, items)
}

// DetectLeakage checks a response for masked values that came back
func (d *Detector) DetectLeakage(response string, items []MaskedItem) []LeakageWarning {
	warnings := d.leakage.Detect(response, items)
	if len(warnings) > 0 {
		d.logger.Warn("Possible leakage in response",
			zap.Int("warnings", len(warnings)),
			zap.String("max_severity", string(MaxSeverity(warnings))),
		)
	}
	return warnings
}

// AnalyzePrivacyRisk rates what a masked message still reveals
func (d *Detector) AnalyzePrivacyRisk(maskedText string, items []MaskedItem) RiskAssessment {
	return d.leakage.AnalyzeRisk(maskedText, items)
}

// Enabled reports whether masking is switched on
func (d *Detector) Enabled() bool {
	return d.config.Enabled
}

// Preset returns the active preset name
func (d *Detector) Preset() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config.Preset
}

// ProcessHeaders processes HTTP headers for sensitive data
func (d *Detector) ProcessHeaders(headers map[string][]string) map[string][]string {
	return d.ProcessHeadersForContext(headers, false)
}

// ProcessHeadersForContext processes HTTP headers with context about usage
func (d *Detector) ProcessHeadersForContext(headers map[string][]string, forUpstream bool) map[string][]string {
	if !d.config.Enabled || !d.config.HeaderScrubbing.Enabled {
		return headers
	}

	processedHeaders := make(map[string][]string)

	for key, values := range headers {
		if d.isSensitiveHeader(key) {
			// Provider credentials must reach the provider untouched
			if forUpstream && d.config.HeaderScrubbing.PreserveUpstreamAuth && IsAuthHeader(key) {
				processedHeaders[key] = values
				d.logger.Debug("Auth header preserved for upstream", zap.String("header", key))
			} else {
				processedHeaders[key] = []string{"[REDACTED]"}
				d.logger.Debug("Header scrubbed", zap.String("header", key))
			}
		} else {
			processedHeaders[key] = values
		}
	}

	return processedHeaders
}

// isSensitiveHeader checks if a header should be scrubbed
func (d *Detector) isSensitiveHeader(header string) bool {
	headerLower := strings.ToLower(header)

	for _, sensitiveHeader := range d.config.HeaderScrubbing.Headers {
		if strings.Contains(headerLower, strings.ToLower(sensitiveHeader)) {
			return true
		}
	}

	return false
}

// IsAuthHeader checks if a header is used for provider authentication
func IsAuthHeader(header string) bool {
	headerLower := strings.ToLower(header)
	authHeaders := []string{"authorization", "x-api-key", "x-goog-api-key", "x-auth-token", "bearer"}

	for _, authHeader := range authHeaders {
		if strings.Contains(headerLower, authHeader) {
			return true
		}
	}

	return false
}

// countEnabledRules returns the number of enabled detection rules
func (d *Detector) countEnabledRules() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, enabled := range d.enabled {
		if enabled {
			count++
		}
	}
	return count
}

// GetEnabledRules returns enabled rule names in catalog order
func (d *Detector) GetEnabledRules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var enabled []string
	for _, rule := range d.rules {
		if d.enabled[rule.Name] {
			enabled = append(enabled, rule.Name)
		}
	}
	return enabled
}

// Rules describes every rule in catalog order
func (d *Detector) Rules() []RuleInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]RuleInfo, 0, len(d.rules))
	for _, rule := range d.rules {
		infos = append(infos, RuleInfo{
			Name:            rule.Name,
			Category:        rule.Category,
			Prefix:          rule.Prefix,
			Confidence:      rule.Confidence,
			RequiresContext: rule.RequiresContext,
			Enabled:         d.enabled[rule.Name],
		})
	}
	return infos
}

// EnableRule enables a rule by name or every rule of a category
func (d *Detector) EnableRule(ruleName string) error {
	return d.setRule(ruleName, true)
}

// DisableRule disables a rule by name or every rule of a category
func (d *Detector) DisableRule(ruleName string) error {
	return d.setRule(ruleName, false)
}

func (d *Detector) setRule(ruleName string, on bool) error {
	d.mu.Lock()
	found := false
	for _, rule := range d.rules {
		if rule.Name == ruleName || string(rule.Category) == ruleName {
			d.enabled[rule.Name] = on
			found = true
		}
	}
	d.mu.Unlock()

	if !found {
		return fmt.Errorf("unknown rule: %s", ruleName)
	}

	if on {
		d.logger.Info("Detection rule enabled", zap.String("rule", ruleName))
	} else {
		d.logger.Info("Detection rule disabled", zap.String("rule", ruleName))
	}
	return nil
}
