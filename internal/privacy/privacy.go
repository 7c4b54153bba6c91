// Package privacy detects sensitive values in free-form text, replaces them
// with reversible [[PREFIX_N]] placeholders, restores them in responses and
// audits responses for values that came back.
package privacy

import (
	"sync"

	"github.com/raaihank/glasslm/internal/config"
	"github.com/raaihank/glasslm/internal/logger"
)

var defaultDetector = sync.OnceValue(func() *Detector {
	d, err := New(config.GetDefaults().Privacy, logger.NewNop())
	if err != nil {
		panic("privacy: default detector: " + err.Error())
	}
	return d
})

// Default returns the shared detector built from default configuration
func Default() *Detector {
	return defaultDetector()
}

// Mask masks text with the default detector
func Mask(text string) MaskResult {
	return defaultDetector().Mask(text)
}

// MaskWithRegistry masks text with the default detector and a session registry
func MaskWithRegistry(text string, registry *Registry) MaskResult {
	return defaultDetector().MaskWithRegistry(text, registry)
}

// DetectLeakage audits a response with default leakage settings
func DetectLeakage(response string, items []MaskedItem) []LeakageWarning {
	return defaultDetector().DetectLeakage(response, items)
}

// AnalyzePrivacyRisk rates a masked message with default settings
func AnalyzePrivacyRisk(maskedText string, items []MaskedItem) RiskAssessment {
	return defaultDetector().AnalyzePrivacyRisk(maskedText, items)
}
