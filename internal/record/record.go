// ABOUTME: Record, Category and Owner types shared by every storage layer
// ABOUTME: Records serialize as a flat JSON object with reserved metadata keys

package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Category is a fixed namespace for a kind of record.
type Category string

const (
	CategoryAgents              Category = "agents"
	CategoryKnowledgeBases      Category = "knowledge_bases"
	CategoryConversationFlows   Category = "conversation_flows"
	CategoryPhoneNumbers        Category = "phone_numbers"
	CategoryVideoSummaries      Category = "video_summaries"
	CategoryFeedbackSubmissions Category = "feedback_submissions"
	CategoryDataExports         Category = "data_exports"
	CategoryActivityFeed        Category = "activity_feed"
	CategoryCalls               Category = "calls"
	CategoryTranslations        Category = "translations"
	CategoryBusinessCards       Category = "business_cards"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryAgents,
	CategoryKnowledgeBases,
	CategoryConversationFlows,
	CategoryPhoneNumbers,
	CategoryVideoSummaries,
	CategoryFeedbackSubmissions,
	CategoryDataExports,
	CategoryActivityFeed,
	CategoryCalls,
	CategoryTranslations,
	CategoryBusinessCards,
}

// ParseCategory returns the Category named s, or an error if it is unknown.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the compiled-in categories.
func (c Category) Valid() bool {
	_, ok := schemas[c]
	return ok
}

// Collection is the remote table name backing the category.
func (c Category) Collection() string {
	return string(c)
}

// String implements fmt.Stringer.
func (c Category) String() string {
	return string(c)
}

// Owner is the identity that exclusively holds a record.
type Owner struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// DemoOwner is used when no authenticated owner can be resolved.
// Data written under it is never merged into a real owner's data.
var DemoOwner = Owner{ID: "demo-user", Email: "demo@blvckwall.ai"}

// IsDemo reports whether o is the fallback demo identity.
func (o Owner) IsDemo() bool {
	return o.ID == DemoOwner.ID
}

// Reserved JSON keys carrying record metadata.
const (
	KeyID        = "id"
	KeyOwnerID   = "owner_id"
	KeyCategory  = "category"
	KeyCreatedAt = "created_at"
	KeyUpdatedAt = "updated_at"
	KeyVersion   = "version"
)

var reservedKeys = map[string]bool{
	KeyID:        true,
	KeyOwnerID:   true,
	KeyCategory:  true,
	KeyCreatedAt: true,
	KeyUpdatedAt: true,
	KeyVersion:   true,
}

// IsReserved reports whether key holds record metadata rather than a field.
func IsReserved(key string) bool {
	return reservedKeys[key]
}

// Record is a single owned item within a category.
type Record struct {
	ID        string
	OwnerID   string
	Category  Category
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
	Fields    map[string]any
}

// Filter narrows a list call. Fields are matched by equality on their
// string form; Limit <= 0 means no limit.
type Filter struct {
	Fields map[string]string
	Limit  int
}

// Matches reports whether r satisfies every field filter.
func (f Filter) Matches(r *Record) bool {
	for k, want := range f.Fields {
		v, ok := r.Fields[k]
		if !ok {
			return false
		}
		if fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

// Apply filters and truncates records, preserving order.
func (f Filter) Apply(records []*Record) []*Record {
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if !f.Matches(r) {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// SortNewestFirst orders records by CreatedAt descending, breaking ties by ID.
func SortNewestFirst(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

// FromFields builds a new record for ownerID from a flat field map. A
// client-supplied id or created_at is kept; other reserved keys are dropped.
func FromFields(ownerID string, c Category, fields map[string]any) (*Record, error) {
	r := &Record{OwnerID: ownerID, Category: c, Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		switch k {
		case KeyID:
			s, ok := v.(string)
			if v != nil && !ok {
				return nil, NewValidationError(Violation{Field: KeyID, Message: "must be a string"})
			}
			r.ID = s
		case KeyCreatedAt:
			t, err := parseTime(v)
			if err != nil {
				return nil, NewValidationError(Violation{Field: KeyCreatedAt, Message: "must be an RFC 3339 timestamp"})
			}
			r.CreatedAt = t.UTC()
		default:
			if !IsReserved(k) {
				r.Fields[k] = v
			}
		}
	}
	return r, nil
}

// Clone returns a deep-enough copy: the Fields map is copied, values are shared.
func (r *Record) Clone() *Record {
	c := *r
	c.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	return &c
}

// Merge applies patch to the record's fields. A nil value removes the field.
func (r *Record) Merge(patch map[string]any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if IsReserved(k) {
			continue
		}
		if v == nil {
			delete(r.Fields, k)
			continue
		}
		r.Fields[k] = v
	}
}

// MarshalJSON flattens metadata and fields into one object.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+6)
	for k, v := range r.Fields {
		if IsReserved(k) {
			continue
		}
		m[k] = v
	}
	m[KeyID] = r.ID
	if r.OwnerID != "" {
		m[KeyOwnerID] = r.OwnerID
	}
	if r.Category != "" {
		m[KeyCategory] = string(r.Category)
	}
	if !r.CreatedAt.IsZero() {
		m[KeyCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !r.UpdatedAt.IsZero() {
		m[KeyUpdatedAt] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	m[KeyVersion] = r.Version
	return json.Marshal(m)
}

// UnmarshalJSON splits a flat object back into metadata and fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	*r = Record{Fields: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case KeyID:
			r.ID, _ = v.(string)
		case KeyOwnerID:
			r.OwnerID, _ = v.(string)
		case KeyCategory:
			s, _ := v.(string)
			r.Category = Category(s)
		case KeyCreatedAt:
			t, err := parseTime(v)
			if err != nil {
				return fmt.Errorf("parsing created_at: %w", err)
			}
			r.CreatedAt = t
		case KeyUpdatedAt:
			t, err := parseTime(v)
			if err != nil {
				return fmt.Errorf("parsing updated_at: %w", err)
			}
			r.UpdatedAt = t
		case KeyVersion:
			if n, ok := v.(float64); ok {
				r.Version = int(n)
			}
		default:
			r.Fields[k] = v
		}
	}
	return nil
}

func parseTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
