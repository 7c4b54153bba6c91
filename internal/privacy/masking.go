package privacy

import (
	"slices"
	"sort"
	"strings"
	"unicode/utf8"
)

// claim is a byte range of the input that will be replaced. item is -1 for
// placeholder tokens already present in the input, which are kept verbatim.
type claim struct {
	start, end int
	item       int
}

// operation holds state shared by every text masked in one request,
// so identical originals across JSON fields get one placeholder.
type operation struct {
	rules      []DetectionRule
	analyzer   *ContextAnalyzer
	alloc      allocator
	recall     []MaskedItem
	corpus     string
	present    map[string]bool
	items      []MaskedItem
	byOriginal map[string]int

	index        []occurrenceBucket
	indexedItems int
}

// occurrenceBucket groups detected originals of one byte length
type occurrenceBucket struct {
	length    int
	first     [256]bool
	originals map[string]int
}

func newOperation(rules []DetectionRule, analyzer *ContextAnalyzer, alloc allocator, corpus string) *operation {
	return &operation{
		rules:      rules,
		analyzer:   analyzer,
		alloc:      alloc,
		corpus:     corpus,
		byOriginal: make(map[string]int),
	}
}

// taken reports whether a token already appears literally in the input
func (op *operation) taken(token string) bool {
	if op.present == nil {
		op.present = make(map[string]bool)
		for _, t := range placeholderPattern.FindAllString(op.corpus, -1) {
			op.present[t] = true
		}
	}
	return op.present[token]
}

// addItem records an item once per operation and returns its index
func (op *operation) addItem(item MaskedItem) int {
	if idx, ok := op.byOriginal[item.Original]; ok {
		return idx
	}
	op.items = append(op.items, item)
	op.byOriginal[item.Original] = len(op.items) - 1
	return len(op.items) - 1
}

// result returns the items, never nil
func (op *operation) result() []MaskedItem {
	if op.items == nil {
		return []MaskedItem{}
	}
	return op.items
}

// occurrences returns the detected originals bucketed by length, longest
// first. Rebuilt only when items were added since the last call.
func (op *operation) occurrences() []occurrenceBucket {
	if op.index != nil && op.indexedItems == len(op.items) {
		return op.index
	}

	byLength := make(map[int]int)
	op.index = op.index[:0]
	for idx, item := range op.items {
		if item.Original == "" {
			continue
		}
		n := len(item.Original)
		b, ok := byLength[n]
		if !ok {
			op.index = append(op.index, occurrenceBucket{length: n, originals: make(map[string]int)})
			b = len(op.index) - 1
			byLength[n] = b
		}
		bucket := &op.index[b]
		if _, dup := bucket.originals[item.Original]; !dup {
			bucket.originals[item.Original] = idx
			bucket.first[item.Original[0]] = true
		}
	}
	sort.Slice(op.index, func(i, j int) bool {
		return op.index[i].length > op.index[j].length
	})
	op.indexedItems = len(op.items)
	return op.index
}

// maskText runs the catalog over one text and returns its masked form
func (op *operation) maskText(text string) string {
	m := op.detect(text)
	if m == nil {
		return text
	}
	return m.finish()
}

// detect claims every rule and recall match in text without rendering it.
// Returns nil for empty text.
func (op *operation) detect(text string) *masker {
	if text == "" {
		return nil
	}

	m := &masker{op: op, text: text}
	m.claimExistingPlaceholders()

	for i := range op.rules {
		m.applyRule(&op.rules[i])
	}
	if len(op.recall) > 0 {
		m.applyRecall(op.recall)
	}
	return m
}

// masker tracks claimed spans for a single text, sorted by start
type masker struct {
	op     *operation
	text   string
	claims []claim
}

// finish replaces the remaining occurrences of every item detected so far
// in the operation and renders the text.
func (m *masker) finish() string {
	m.claimRemainingOccurrences()
	return m.render()
}

// claimExistingPlaceholders protects tokens from earlier masking so that
// masking is idempotent.
func (m *masker) claimExistingPlaceholders() {
	for _, loc := range placeholderPattern.FindAllStringIndex(m.text, -1) {
		m.claims = append(m.claims, claim{start: loc[0], end: loc[1], item: -1})
	}
}

// search returns the index of the first claim ending after pos
func (m *masker) search(pos int) int {
	return sort.Search(len(m.claims), func(i int) bool {
		return m.claims[i].end > pos
	})
}

func (m *masker) overlaps(start, end int) bool {
	i := m.search(start)
	return i < len(m.claims) && m.claims[i].start < end
}

func (m *masker) claim(start, end, item int) bool {
	i := m.search(start)
	if i < len(m.claims) && m.claims[i].start < end {
		return false
	}
	m.claims = slices.Insert(m.claims, i, claim{start: start, end: end, item: item})
	return true
}

// width is the rendered length of a claim
func (m *masker) width(c claim) int {
	if c.item < 0 {
		return c.end - c.start
	}
	return len(m.op.items[c.item].Placeholder)
}

// scoringView returns the text around an unclaimed span as it will read
// once rendered: claimed spans become blanks as wide as their output, so a
// re-mask of the result scores the same window. The returned offsets locate
// the span inside the view.
func (m *masker) scoringView(start, end int) (string, int, int) {
	need := m.op.analyzer.cfg.WindowSize + 1
	i := m.search(start)
	before := m.blankedBefore(start, i-1, need)
	after := m.blankedAfter(end, i, need)
	return before + m.text[start:end] + after, len(before), len(before) + end - start
}

// blankedBefore collects at least need runes ending at pos, walking claims
// backward from claims[ci].
func (m *masker) blankedBefore(pos, ci, need int) string {
	var pieces []string
	for need > 0 && pos > 0 {
		from := 0
		if ci >= 0 {
			from = m.claims[ci].end
		}
		gap := m.text[from:pos]
		cut := len(gap)
		for cut > 0 && need > 0 {
			_, size := utf8.DecodeLastRuneInString(gap[:cut])
			cut -= size
			need--
		}
		pieces = append(pieces, gap[cut:])
		if need == 0 || ci < 0 {
			break
		}
		w := min(m.width(m.claims[ci]), need)
		pieces = append(pieces, strings.Repeat(" ", w))
		need -= w
		pos = m.claims[ci].start
		ci--
	}
	slices.Reverse(pieces)
	return strings.Join(pieces, "")
}

// blankedAfter collects at least need runes starting at pos, walking claims
// forward from claims[ci].
func (m *masker) blankedAfter(pos, ci, need int) string {
	var b strings.Builder
	for need > 0 && pos < len(m.text) {
		to := len(m.text)
		if ci < len(m.claims) {
			to = m.claims[ci].start
		}
		gap := m.text[pos:to]
		cut := 0
		for cut < len(gap) && need > 0 {
			_, size := utf8.DecodeRuneInString(gap[cut:])
			cut += size
			need--
		}
		b.WriteString(gap[:cut])
		if need == 0 || ci >= len(m.claims) {
			break
		}
		w := min(m.width(m.claims[ci]), need)
		b.WriteString(strings.Repeat(" ", w))
		need -= w
		pos = m.claims[ci].end
		ci++
	}
	return b.String()
}

func (m *masker) applyRule(rule *DetectionRule) {
	for _, loc := range rule.Pattern.FindAllStringSubmatchIndex(m.text, -1) {
		if 2*rule.Group+1 >= len(loc) {
			continue
		}
		start, end := loc[2*rule.Group], loc[2*rule.Group+1]
		if start < 0 || start == end {
			continue
		}
		value := m.text[start:end]

		if idx, ok := m.op.byOriginal[value]; ok {
			m.claim(start, end, idx)
			continue
		}
		if m.overlaps(start, end) {
			continue
		}
		if rule.Validator != nil && !rule.Validator(value) {
			continue
		}

		confidence := rule.Confidence
		if rule.RequiresContext {
			view, vs, ve := m.scoringView(start, end)
			var scored ContextResult
			if rule.Keywords != nil {
				scored = m.op.analyzer.AnalyzeWith(view, vs, ve, *rule.Keywords)
			} else {
				scored = m.op.analyzer.Analyze(view, vs, ve, rule.Category)
			}
			if scored.Confidence == ConfidenceLow {
				continue
			}
			confidence = scored.Confidence
		}

		item := m.op.alloc.acquire(rule, value, confidence, m.op.taken)
		m.claim(start, end, m.op.addItem(item))
	}
}

// applyRecall masks values remembered from earlier messages in the session,
// longest first, even where no rule fires on this text.
func (m *masker) applyRecall(known []MaskedItem) {
	sorted := make([]MaskedItem, len(known))
	copy(sorted, known)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Original) > len(sorted[j].Original)
	})

	for _, item := range sorted {
		if item.Original == "" || !strings.Contains(m.text, item.Original) {
			continue
		}
		idx, ok := m.op.byOriginal[item.Original]
		if !ok {
			if !m.hasFreeOccurrence(item.Original) {
				continue
			}
			idx = m.op.addItem(item)
		}
		m.claimOccurrences(item.Original, idx)
	}
}

// claimRemainingOccurrences replaces every other occurrence of each detected
// original, longest originals first. Each length is one pass over the text.
func (m *masker) claimRemainingOccurrences() {
	for _, bucket := range m.op.occurrences() {
		n := bucket.length
		for pos := 0; pos+n <= len(m.text); pos++ {
			if !bucket.first[m.text[pos]] {
				continue
			}
			idx, ok := bucket.originals[m.text[pos:pos+n]]
			if !ok {
				continue
			}
			if m.bounded(pos, pos+n) && m.claim(pos, pos+n, idx) {
				pos += n - 1
			}
		}
	}
}

func (m *masker) claimOccurrences(original string, idx int) {
	if original == "" {
		return
	}
	pos := 0
	for pos < len(m.text) {
		i := strings.Index(m.text[pos:], original)
		if i < 0 {
			return
		}
		start := pos + i
		end := start + len(original)
		if m.bounded(start, end) && m.claim(start, end, idx) {
			pos = end
		} else {
			pos = start + 1
		}
	}
}

func (m *masker) hasFreeOccurrence(original string) bool {
	pos := 0
	for pos < len(m.text) {
		i := strings.Index(m.text[pos:], original)
		if i < 0 {
			return false
		}
		start := pos + i
		end := start + len(original)
		if m.bounded(start, end) && !m.overlaps(start, end) {
			return true
		}
		pos = start + 1
	}
	return false
}

// bounded rejects occurrences glued to a longer word, e.g. 10.0.0.1 inside 10.0.0.15
func (m *masker) bounded(start, end int) bool {
	value := m.text[start:end]
	first, _ := utf8.DecodeRuneInString(value)
	last, _ := utf8.DecodeLastRuneInString(value)
	if isWordRune(first) && wordRuneBefore(m.text, start) {
		return false
	}
	if isWordRune(last) && wordRuneAfter(m.text, end) {
		return false
	}
	return true
}

// render rebuilds the text from the claimed spans in one pass
func (m *masker) render() string {
	var b strings.Builder
	b.Grow(len(m.text))
	last := 0
	for _, c := range m.claims {
		b.WriteString(m.text[last:c.start])
		if c.item < 0 {
			b.WriteString(m.text[c.start:c.end])
		} else {
			b.WriteString(m.op.items[c.item].Placeholder)
		}
		last = c.end
	}
	b.WriteString(m.text[last:])
	return b.String()
}
// Unmask restores originals by replacing every placeholder, in item order.
// Unknown placeholders are left untouched.
func Unmask(text string, items []MaskedItem) string {
	if text == "" || len(items) == 0 {
		return text
	}
	for _, item := range items {
		if item.Placeholder == "" {
			continue
		}
		text = strings.ReplaceAll(text, item.Placeholder, item.Original)
	}
	return text
}
