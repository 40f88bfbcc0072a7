// ABOUTME: Tests for record serialization, filtering, validation and error kinds
// ABOUTME: Covers the flat JSON form and complete violation reporting

package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_JSONFlattensMetadata(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Record{
		ID:        "rec-1",
		OwnerID:   "u1",
		Category:  CategoryAgents,
		CreatedAt: created,
		Version:   2,
		Fields:    map[string]any{"name": "Dr. Smith", "temperature": 0.7},
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "rec-1", flat["id"])
	assert.Equal(t, "Dr. Smith", flat["name"])
	assert.Equal(t, "2026-03-01T12:00:00Z", flat["created_at"])

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r.ID, back.ID)
	assert.Equal(t, r.OwnerID, back.OwnerID)
	assert.Equal(t, r.Category, back.Category)
	assert.True(t, r.CreatedAt.Equal(back.CreatedAt))
	assert.Equal(t, 2, back.Version)
	assert.Equal(t, r.Fields, back.Fields)
}

func TestRecord_MergeIgnoresReservedAndDeletesNil(t *testing.T) {
	r := &Record{ID: "a", Fields: map[string]any{"name": "x", "greeting": "hi"}}
	r.Merge(map[string]any{"name": "y", "greeting": nil, "id": "hijack"})

	assert.Equal(t, "a", r.ID)
	assert.Equal(t, map[string]any{"name": "y"}, r.Fields)
}

func TestFromFields(t *testing.T) {
	r, err := FromFields("u1", CategoryAgents, map[string]any{
		"id":         "client-id",
		"created_at": "2026-01-02T03:04:05Z",
		"owner_id":   "someone-else",
		"name":       "Dr. Smith",
	})
	require.NoError(t, err)
	assert.Equal(t, "client-id", r.ID)
	assert.Equal(t, "u1", r.OwnerID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), r.CreatedAt)
	assert.Equal(t, map[string]any{"name": "Dr. Smith"}, r.Fields)

	_, err = FromFields("u1", CategoryAgents, map[string]any{"created_at": "yesterday"})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestFilter_ApplyMatchesAndLimits(t *testing.T) {
	records := []*Record{
		{ID: "1", Fields: map[string]any{"voice": "ava"}},
		{ID: "2", Fields: map[string]any{"voice": "leo"}},
		{ID: "3", Fields: map[string]any{"voice": "ava"}},
		{ID: "4", Fields: map[string]any{"voice": "ava"}},
	}

	got := Filter{Fields: map[string]string{"voice": "ava"}, Limit: 2}.Apply(records)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Now().UTC()
	records := []*Record{
		{ID: "old", CreatedAt: base.Add(-time.Hour)},
		{ID: "new", CreatedAt: base},
		{ID: "mid", CreatedAt: base.Add(-time.Minute)},
	}
	SortNewestFirst(records)
	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, "mid", records[1].ID)
	assert.Equal(t, "old", records[2].ID)
}

func TestValidateCreate_ReportsEveryMissingField(t *testing.T) {
	err := ValidateCreate(CategoryAgents, map[string]any{"temperature": 0.7})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"name", "voice"}, verr.Fields())
}

func TestValidateCreate(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		fields   map[string]any
		want     []string
	}{
		{
			name:     "valid agent",
			category: CategoryAgents,
			fields:   map[string]any{"name": "Dr. Smith", "voice": "ava", "temperature": 0.7},
		},
		{
			name:     "temperature out of range",
			category: CategoryAgents,
			fields:   map[string]any{"name": "a", "voice": "b", "temperature": 1.5},
			want:     []string{"temperature"},
		},
		{
			name:     "blank required string",
			category: CategoryKnowledgeBases,
			fields:   map[string]any{"name": "   "},
			want:     []string{"name"},
		},
		{
			name:     "bad phone number",
			category: CategoryPhoneNumbers,
			fields:   map[string]any{"number": "555-1234"},
			want:     []string{"number"},
		},
		{
			name:     "export format enum",
			category: CategoryDataExports,
			fields:   map[string]any{"format": "xml"},
			want:     []string{"format"},
		},
		{
			name:     "card email",
			category: CategoryBusinessCards,
			fields:   map[string]any{"name": "Ada", "email": "not-an-email"},
			want:     []string{"email"},
		},
		{
			name:     "read-only owner",
			category: CategoryActivityFeed,
			fields:   map[string]any{"action": "login", "owner_id": "someone-else"},
			want:     []string{"owner_id"},
		},
		{
			name:     "wrong type",
			category: CategoryFeedbackSubmissions,
			fields:   map[string]any{"message": "great", "rating": "five"},
			want:     []string{"rating"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCreate(tt.category, tt.fields)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.want, verr.Fields())
		})
	}
}

func TestValidateUpdate(t *testing.T) {
	assert.NoError(t, ValidateUpdate(CategoryAgents, map[string]any{"greeting": "hello"}))

	err := ValidateUpdate(CategoryAgents, map[string]any{"name": "", "temperature": -1.0})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"name", "temperature"}, verr.Fields())

	assert.ErrorIs(t, ValidateUpdate(CategoryAgents, nil), ErrValidation)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("knowledge_bases")
	require.NoError(t, err)
	assert.Equal(t, CategoryKnowledgeBases, c)

	_, err = ParseCategory("users")
	assert.Error(t, err)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "validation", Kind(NewValidationError(Violation{Field: "x", Message: "bad"})))
	assert.Equal(t, "not_found", Kind(fmt.Errorf("get: %w", ErrNotFound)))
	assert.Equal(t, "store_unavailable", Kind(Unavailable("remote", errors.New("dial tcp: refused"))))
	assert.Equal(t, "rate_limited", Kind(&RateLimitedError{RetryAfter: time.Second}))
	assert.Equal(t, "internal", Kind(errors.New("boom")))
}
