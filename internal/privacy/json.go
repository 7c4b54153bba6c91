package privacy

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// skipKeys hold request parameters rather than user content
var skipKeys = map[string]bool{
	"model":                 true,
	"temperature":           true,
	"top_p":                 true,
	"top_k":                 true,
	"max_tokens":            true,
	"max_completion_tokens": true,
	"stream":                true,
	"n":                     true,
	"seed":                  true,
	"stop":                  true,
	"role":                  true,
	"type":                  true,
	"id":                    true,
	"tool_call_id":          true,
	"tool_choice":           true,
	"response_format":       true,
	"finish_reason":         true,
	"object":                true,
	"created":               true,
	"keep_alive":            true,
	"format":                true,
}

// MaskJSON masks every string leaf of a JSON document except parameter keys.
// Returns ok=false when body is not JSON; callers fall back to Mask.
func (d *Detector) MaskJSON(body []byte, registry *Registry) ([]byte, []MaskedItem, bool) {
	doc, ok := decodeJSON(body)
	if !ok {
		return nil, nil, false
	}
	if !d.config.Enabled {
		return body, []MaskedItem{}, true
	}

	// Detect across every leaf before rendering any of them, so a value
	// first accepted in a later field is also masked in earlier ones.
	op := d.newOperation(string(body), registry)
	var maskers []*masker
	walkStrings(doc, func(s string) string {
		maskers = append(maskers, op.detect(s))
		return s
	})
	next := 0
	doc = walkStrings(doc, func(s string) string {
		m := maskers[next]
		next++
		if m == nil {
			return s
		}
		return m.finish()
	})

	out, err := encodeJSON(doc)
	if err != nil {
		return nil, nil, false
	}

	items := op.result()
	if len(items) > 0 {
		d.logger.Debug("Sensitive values masked in JSON body",
			zap.Int("items", len(items)),
		)
	}
	return out, items, true
}

// UnmaskJSON restores originals inside JSON string leaves so that restored
// values containing quotes or newlines stay correctly escaped. Non-JSON
// input is unmasked as plain text.
func UnmaskJSON(body []byte, items []MaskedItem) []byte {
	if len(items) == 0 || !bytes.Contains(body, []byte("[[")) {
		return body
	}
	doc, ok := decodeJSON(body)
	if !ok {
		return []byte(Unmask(string(body), items))
	}

	doc = walkStrings(doc, func(s string) string { return Unmask(s, items) })
	out, err := encodeJSON(doc)
	if err != nil {
		return []byte(Unmask(string(body), items))
	}
	return out
}

// ExtractText joins every string leaf of a JSON document, for leakage checks.
// Non-JSON input is returned unchanged.
func ExtractText(body []byte) string {
	doc, ok := decodeJSON(body)
	if !ok {
		return string(body)
	}

	var parts []string
	walkStrings(doc, func(s string) string {
		parts = append(parts, s)
		return s
	})
	return strings.Join(parts, "\n")
}

func decodeJSON(body []byte) (interface{}, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return doc, true
}

func encodeJSON(doc interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// walkStrings rewrites string leaves depth first in sorted key order,
// skipping parameter keys
func walkStrings(v interface{}, fn func(string) string) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			if !skipKeys[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			val[k] = walkStrings(val[k], fn)
		}
		return val
	case []interface{}:
		for i, child := range val {
			val[i] = walkStrings(child, fn)
		}
		return val
	case string:
		return fn(val)
	default:
		return v
	}
}
