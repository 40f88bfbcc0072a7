// ABOUTME: Per-category field rules and create/update validation
// ABOUTME: Validation collects every violation before returning

package record

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
	kindArray
)

func (k fieldKind) String() string {
	switch k {
	case kindNumber:
		return "number"
	case kindBool:
		return "boolean"
	case kindArray:
		return "array"
	default:
		return "string"
	}
}

type fieldRule struct {
	name     string
	kind     fieldKind
	required bool
	min, max *float64
	oneOf    []string
	pattern  *regexp.Regexp
	email    bool
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

func bounded(lo, hi float64) (*float64, *float64) { return &lo, &hi }

func numberIn(name string, lo, hi float64) fieldRule {
	min, max := bounded(lo, hi)
	return fieldRule{name: name, kind: kindNumber, min: min, max: max}
}

func str(name string) fieldRule      { return fieldRule{name: name, kind: kindString} }
func required(name string) fieldRule { return fieldRule{name: name, kind: kindString, required: true} }
func phone(name string, req bool) fieldRule {
	return fieldRule{name: name, kind: kindString, required: req, pattern: e164}
}

var schemas = map[Category][]fieldRule{
	CategoryAgents: {
		required("name"),
		required("voice"),
		numberIn("temperature", 0, 1),
		numberIn("interruption_sensitivity", 0, 1),
		str("greeting"),
		str("knowledge_base_id"),
	},
	CategoryKnowledgeBases: {
		required("name"),
		str("content"),
		str("description"),
	},
	CategoryConversationFlows: {
		required("name"),
		str("agent_id"),
		{name: "steps", kind: kindArray},
	},
	CategoryPhoneNumbers: {
		phone("number", true),
		str("agent_id"),
		str("label"),
	},
	CategoryVideoSummaries: {
		required("title"),
		str("video_id"),
		str("status"),
		str("script"),
	},
	CategoryFeedbackSubmissions: {
		required("message"),
		numberIn("rating", 1, 5),
	},
	CategoryDataExports: {
		{name: "format", kind: kindString, required: true, oneOf: []string{"csv", "json"}},
		str("status"),
	},
	CategoryActivityFeed: {
		required("action"),
		str("detail"),
	},
	CategoryCalls: {
		required("agent_id"),
		phone("to_number", true),
		phone("from_number", false),
		str("status"),
		str("provider_call_id"),
	},
	CategoryTranslations: {
		required("text"),
		required("target_locale"),
		str("source_locale"),
		str("output"),
	},
	CategoryBusinessCards: {
		required("name"),
		{name: "email", kind: kindString, email: true},
		str("title"),
		str("company"),
		str("cid"),
	},
}

// RequiredFields lists the required field names for a category.
func RequiredFields(c Category) []string {
	var out []string
	for _, r := range schemas[c] {
		if r.required {
			out = append(out, r.name)
		}
	}
	return out
}

// ValidateCreate checks a full field set for a new record.
func ValidateCreate(c Category, fields map[string]any) error {
	rules, ok := schemas[c]
	if !ok {
		return NewValidationError(Violation{Field: "category", Message: fmt.Sprintf("unknown category %q", c)})
	}

	var violations []Violation
	for _, rule := range rules {
		v, present := fields[rule.name]
		if !present || v == nil || isBlank(v) {
			if rule.required {
				violations = append(violations, Violation{Field: rule.name, Message: "is required"})
			}
			continue
		}
		if msg := rule.check(v); msg != "" {
			violations = append(violations, Violation{Field: rule.name, Message: msg})
		}
	}
	violations = append(violations, reservedViolations(fields)...)

	if len(violations) > 0 {
		return NewValidationError(violations...)
	}
	return nil
}

// ValidateUpdate checks only the fields present in patch.
func ValidateUpdate(c Category, patch map[string]any) error {
	rules, ok := schemas[c]
	if !ok {
		return NewValidationError(Violation{Field: "category", Message: fmt.Sprintf("unknown category %q", c)})
	}
	if len(patch) == 0 {
		return NewValidationError(Violation{Field: "fields", Message: "no fields to update"})
	}

	byName := make(map[string]fieldRule, len(rules))
	for _, r := range rules {
		byName[r.name] = r
	}

	var violations []Violation
	for name, v := range patch {
		rule, known := byName[name]
		if !known {
			continue
		}
		if v == nil || isBlank(v) {
			if rule.required {
				violations = append(violations, Violation{Field: name, Message: "cannot be cleared"})
			}
			continue
		}
		if msg := rule.check(v); msg != "" {
			violations = append(violations, Violation{Field: name, Message: msg})
		}
	}
	violations = append(violations, reservedViolations(patch)...)

	if len(violations) > 0 {
		return NewValidationError(violations...)
	}
	return nil
}

func reservedViolations(fields map[string]any) []Violation {
	var out []Violation
	for k := range fields {
		// id and created_at may be supplied on create; the rest are server-owned
		if k == KeyOwnerID || k == KeyCategory || k == KeyVersion || k == KeyUpdatedAt {
			out = append(out, Violation{Field: k, Message: "is read-only"})
		}
	}
	return out
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func (r fieldRule) check(v any) string {
	switch r.kind {
	case kindString:
		s, ok := v.(string)
		if !ok {
			return "must be a string"
		}
		if len(r.oneOf) > 0 && !contains(r.oneOf, s) {
			return "must be one of " + strings.Join(r.oneOf, ", ")
		}
		if r.pattern != nil && !r.pattern.MatchString(s) {
			return "must be an E.164 phone number"
		}
		if r.email {
			if _, err := mail.ParseAddress(s); err != nil {
				return "must be a valid email address"
			}
		}
	case kindNumber:
		n, ok := toFloat(v)
		if !ok {
			return "must be a number"
		}
		if r.min != nil && n < *r.min {
			return fmt.Sprintf("must be between %g and %g", *r.min, *r.max)
		}
		if r.max != nil && n > *r.max {
			return fmt.Sprintf("must be between %g and %g", *r.min, *r.max)
		}
	case kindBool:
		if _, ok := v.(bool); !ok {
			return "must be a boolean"
		}
	case kindArray:
		if _, ok := v.([]any); !ok {
			return "must be an array"
		}
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
