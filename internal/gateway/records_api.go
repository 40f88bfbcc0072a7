// ABOUTME: Owner-scoped record CRUD over HTTP for every category
// ABOUTME: Validates before writing and audits every mutation

package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blvckwall/blvckwall-gateway/internal/auth"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
	"github.com/blvckwall/blvckwall-gateway/internal/store"
)

// ListRecordsResponse is the JSON response for GET /api/records/{category}.
type ListRecordsResponse struct {
	Category record.Category  `json:"category"`
	Records  []*record.Record `json:"records"`
}

func (g *Gateway) registerRecordRoutes(mux *http.ServeMux) {
	requireAuth := auth.HTTPAuthMiddleware(g.store, g.issuer)

	mux.Handle("GET /api/records/{category}", requireAuth(http.HandlerFunc(g.handleListRecords)))
	mux.Handle("POST /api/records/{category}", requireAuth(http.HandlerFunc(g.handleCreateRecord)))
	mux.Handle("GET /api/records/{category}/{id}", requireAuth(http.HandlerFunc(g.handleGetRecord)))
	mux.Handle("PATCH /api/records/{category}/{id}", requireAuth(http.HandlerFunc(g.handleUpdateRecord)))
	mux.Handle("DELETE /api/records/{category}/{id}", requireAuth(http.HandlerFunc(g.handleDeleteRecord)))
	mux.Handle("GET /api/records/knowledge_bases/{id}/preview", requireAuth(http.HandlerFunc(g.handlePreviewKnowledgeBase)))
	mux.Handle("GET /api/audit", requireAuth(http.HandlerFunc(g.handleListAudit)))
}

// pathCategory parses the {category} path value.
func pathCategory(r *http.Request) (record.Category, error) {
	c, err := record.ParseCategory(r.PathValue("category"))
	if err != nil {
		return "", record.NewValidationError(record.Violation{Field: "category", Message: err.Error()})
	}
	return c, nil
}

// parseFilter turns query parameters into a Filter. limit is reserved; every
// other parameter is an equality filter on a field.
func parseFilter(r *http.Request) (record.Filter, error) {
	var f record.Filter
	q := r.URL.Query()
	for key, values := range q {
		if key == "limit" {
			n, err := strconv.Atoi(values[0])
			if err != nil || n < 0 {
				return f, record.NewValidationError(record.Violation{Field: "limit", Message: "must be a non-negative integer"})
			}
			f.Limit = n
			continue
		}
		if f.Fields == nil {
			f.Fields = make(map[string]string)
		}
		f.Fields[key] = values[0]
	}
	return f, nil
}

// startSpan opens a span for a record operation on the caller's data.
func (g *Gateway) startSpan(r *http.Request, op string, c record.Category) (*http.Request, trace.Span) {
	ctx, span := g.tracer.Start(r.Context(), "gateway."+op,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("record.category", string(c))),
	)
	return r.WithContext(ctx), span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, record.Kind(err))
	}
	span.End()
}

// handleListRecords handles GET /api/records/{category}.
func (g *Gateway) handleListRecords(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustFromContext(r.Context()).Owner

	c, err := pathCategory(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	r, span := g.startSpan(r, "list", c)
	records, err := g.store.ListRecords(r.Context(), owner.ID, c, f)
	endSpan(span, err)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*record.Record{}
	}

	writeJSON(w, http.StatusOK, ListRecordsResponse{Category: c, Records: records})
}

// handleGetRecord handles GET /api/records/{category}/{id}.
func (g *Gateway) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustFromContext(r.Context()).Owner

	c, err := pathCategory(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	r, span := g.startSpan(r, "get", c)
	rec, err := g.store.GetRecord(r.Context(), owner.ID, c, r.PathValue("id"))
	endSpan(span, err)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleCreateRecord handles POST /api/records/{category}. The server
// assigns id and created_at unless the body supplies them.
func (g *Gateway) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustFromContext(r.Context()).Owner

	c, err := pathCategory(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	fields, err := decodeFields(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := record.ValidateCreate(c, fields); err != nil {
		g.writeError(w, r, err)
		return
	}

	rec, err := record.FromFields(owner.ID, c, fields)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	r, span := g.startSpan(r, "create", c)
	err = g.insertRecord(r, rec)
	endSpan(span, err)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	g.auditRecord(r.Context(), store.AuditCreateRecord, rec, nil)
	writeJSON(w, http.StatusCreated, rec)
}

// insertRecord stores rec, reporting a reused id as a validation failure.
func (g *Gateway) insertRecord(r *http.Request, rec *record.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = g.now().UTC()
	}
	err := g.store.InsertRecord(r.Context(), rec)
	if errors.Is(err, store.ErrDuplicateRecord) {
		return record.NewValidationError(record.Violation{Field: record.KeyID, Message: "already exists"})
	}
	return err
}

// handleUpdateRecord handles PATCH /api/records/{category}/{id}.
func (g *Gateway) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustFromContext(r.Context()).Owner

	c, err := pathCategory(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	patch, err := decodeFields(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := record.ValidateUpdate(c, patch); err != nil {
		g.writeError(w, r, err)
		return
	}

	r, span := g.startSpan(r, "update", c)
	rec, err := g.store.UpdateRecord(r.Context(), owner.ID, c, r.PathValue("id"), patch)
	endSpan(span, err)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	g.auditRecord(r.Context(), store.AuditUpdateRecord, rec, map[string]any{"version": rec.Version})
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteRecord handles DELETE /api/records/{category}/{id}.
func (g *Gateway) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustFromContext(r.Context()).Owner

	c, err := pathCategory(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")

	r, span := g.startSpan(r, "delete", c)
	err = g.store.DeleteRecord(r.Context(), owner.ID, c, id)
	endSpan(span, err)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	g.auditRecord(r.Context(), store.AuditDeleteRecord, &record.Record{ID: id, OwnerID: owner.ID, Category: c}, nil)
	w.WriteHeader(http.StatusNoContent)
}
