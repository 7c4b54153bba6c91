package privacy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// placeholderPattern matches tokens of the form [[PREFIX_N]]
var placeholderPattern = regexp.MustCompile(`\[\[([A-Za-z][A-Za-z0-9]*(?:_[A-Za-z0-9]+)*)_(\d+)\]\]`)

// FormatPlaceholder renders the token for a prefix and sequence number
func FormatPlaceholder(prefix string, n int) string {
	return fmt.Sprintf("[[%s_%d]]", prefix, n)
}

// ParsePlaceholder splits a token into its prefix and sequence number
func ParsePlaceholder(token string) (string, int, bool) {
	m := placeholderPattern.FindStringSubmatch(token)
	if m == nil || m[0] != token {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

func newItem(rule *DetectionRule, original string, n int, confidence Confidence) MaskedItem {
	return MaskedItem{
		ID:          fmt.Sprintf("%s_%d", strings.ToLower(rule.Prefix), n),
		Original:    original,
		Placeholder: FormatPlaceholder(rule.Prefix, n),
		Category:    rule.Category,
		Confidence:  confidence,
	}
}

// nextFree returns the first sequence number after last whose token is not taken
func nextFree(prefix string, last int, taken func(string) bool) int {
	n := last
	for {
		n++
		if taken == nil || !taken(FormatPlaceholder(prefix, n)) {
			return n
		}
	}
}

// allocator hands out placeholders for newly detected originals
type allocator interface {
	acquire(rule *DetectionRule, original string, confidence Confidence, taken func(string) bool) MaskedItem
}

// counterAllocator numbers placeholders from 1 within a single operation
type counterAllocator struct {
	counters map[string]int
}

func newCounterAllocator() *counterAllocator {
	return &counterAllocator{counters: make(map[string]int)}
}

func (a *counterAllocator) acquire(rule *DetectionRule, original string, confidence Confidence, taken func(string) bool) MaskedItem {
	n := nextFree(rule.Prefix, a.counters[rule.Prefix], taken)
	a.counters[rule.Prefix] = n
	return newItem(rule, original, n, confidence)
}

// Registry maps originals to placeholders for the lifetime of a conversation,
// so the same value keeps the same token across messages. Safe for concurrent use.
type Registry struct {
	mu            sync.Mutex
	byOriginal    map[string]MaskedItem
	byPlaceholder map[string]string
	counters      map[string]int
	order         []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byOriginal:    make(map[string]MaskedItem),
		byPlaceholder: make(map[string]string),
		counters:      make(map[string]int),
	}
}

// acquire looks up or allocates under one lock so concurrent callers never
// receive two placeholders for one original.
func (r *Registry) acquire(rule *DetectionRule, original string, confidence Confidence, taken func(string) bool) MaskedItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item, ok := r.byOriginal[original]; ok {
		return item
	}

	n := nextFree(rule.Prefix, r.counters[rule.Prefix], func(token string) bool {
		if _, used := r.byPlaceholder[token]; used {
			return true
		}
		return taken != nil && taken(token)
	})
	r.counters[rule.Prefix] = n

	item := newItem(rule, original, n, confidence)
	r.store(item)
	return item
}

func (r *Registry) store(item MaskedItem) {
	r.byOriginal[item.Original] = item
	r.byPlaceholder[item.Placeholder] = item.Original
	r.order = append(r.order, item.Original)
}

// Register adds items produced elsewhere, e.g. restored from a client.
// Items whose original or placeholder is already known are skipped.
func (r *Registry) Register(items []MaskedItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		if _, ok := r.byOriginal[item.Original]; ok {
			continue
		}
		if _, ok := r.byPlaceholder[item.Placeholder]; ok {
			continue
		}
		if prefix, n, ok := ParsePlaceholder(item.Placeholder); ok && n > r.counters[prefix] {
			r.counters[prefix] = n
		}
		r.store(item)
	}
}

// Lookup returns the item registered for an original
func (r *Registry) Lookup(original string) (MaskedItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.byOriginal[original]
	return item, ok
}

// Original resolves a placeholder back to its original
func (r *Registry) Original(placeholder string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	original, ok := r.byPlaceholder[placeholder]
	return original, ok
}

// Items returns every registered item in registration order
func (r *Registry) Items() []MaskedItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]MaskedItem, 0, len(r.order))
	for _, original := range r.order {
		items = append(items, r.byOriginal[original])
	}
	return items
}

// Len returns the number of registered originals
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Clear forgets every mapping and resets counters
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byOriginal = make(map[string]MaskedItem)
	r.byPlaceholder = make(map[string]string)
	r.counters = make(map[string]int)
	r.order = nil
}
