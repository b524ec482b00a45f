// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"hash/fnv"
	"regexp"
	"strconv"
)

// RedactMode selects how a Redactor replaces a match.
type RedactMode int

const (
	// RedactMask replaces a match with a placeholder such as "[EMAIL]".
	RedactMask RedactMode = iota
	// RedactHash replaces a match with a placeholder carrying a short hash,
	// so equal values stay correlatable across spans.
	RedactHash
)

// PIIKind names a category of personal data.
type PIIKind string

const (
	PIIEmail      PIIKind = "email"
	PIIPhone      PIIKind = "phone"
	PIISSN        PIIKind = "ssn"
	PIICreditCard PIIKind = "credit_card"
	PIIIPAddress  PIIKind = "ip_address"
)

type piiRule struct {
	kind PIIKind
	re   *regexp.Regexp
	mask string
}

// Order matters: card numbers and SSNs overlap with phone numbers.
var defaultPIIRules = []piiRule{
	{PIICreditCard, regexp.MustCompile(`\b[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}[-\s]?[0-9]{4}\b`), "[CREDIT_CARD]"},
	{PIISSN, regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`), "[SSN]"},
	{PIIEmail, regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{PIIIPAddress, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`), "[IP_ADDRESS]"},
	{PIIPhone, regexp.MustCompile(`(?:\+?[0-9]{1,3}[-.\s])?\(?[0-9]{3}\)?[-.\s][0-9]{3}[-.\s][0-9]{4}\b`), "[PHONE]"},
}

// Redactor masks personal data in span payloads and error messages before
// they are queued for persistence. Only string values are inspected; keys and
// numbers pass through.
type Redactor struct {
	mode  RedactMode
	rules []piiRule
}

// RedactorOption configures a Redactor.
type RedactorOption func(*Redactor)

// WithPIIKinds keeps only the given built-in kinds.
func WithPIIKinds(kinds ...PIIKind) RedactorOption {
	return func(r *Redactor) {
		keep := make(map[PIIKind]bool, len(kinds))
		for _, k := range kinds {
			keep[k] = true
		}
		rules := r.rules[:0:0]
		for _, rule := range r.rules {
			if keep[rule.kind] {
				rules = append(rules, rule)
			}
		}
		r.rules = rules
	}
}

// WithPattern adds a custom rule. An invalid pattern is ignored.
func WithPattern(kind PIIKind, pattern, mask string) RedactorOption {
	return func(r *Redactor) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return
		}
		r.rules = append(r.rules, piiRule{kind: kind, re: re, mask: mask})
	}
}

// NewRedactor creates a redactor with the built-in rules.
func NewRedactor(mode RedactMode, opts ...RedactorOption) *Redactor {
	r := &Redactor{mode: mode, rules: append([]piiRule(nil), defaultPIIRules...)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// String returns s with every match replaced.
func (r *Redactor) String(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			return r.replacement(rule, match)
		})
	}
	return s
}

// Payload redacts a JSON-normalized payload in place and returns it.
func (r *Redactor) Payload(p map[string]any) map[string]any {
	if r == nil {
		return p
	}
	for k, v := range p {
		p[k] = r.value(v)
	}
	return p
}

func (r *Redactor) value(v any) any {
	switch x := v.(type) {
	case string:
		return r.String(x)
	case map[string]any:
		return r.Payload(x)
	case []any:
		for i := range x {
			x[i] = r.value(x[i])
		}
		return x
	default:
		return v
	}
}

func (r *Redactor) replacement(rule piiRule, match string) string {
	if r.mode != RedactHash {
		return rule.mask
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(match))
	return rule.mask[:len(rule.mask)-1] + "_" + strconv.FormatUint(uint64(h.Sum32()), 16) + "]"
}
