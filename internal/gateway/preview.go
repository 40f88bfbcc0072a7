// ABOUTME: Knowledge-base preview: renders a knowledge base's markdown content to HTML
// ABOUTME: Raw HTML in the source is dropped by the renderer

package gateway

import (
	"bytes"
	"net/http"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/blvckwall/blvckwall-gateway/internal/auth"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
)

// newMarkdown returns the renderer used for previews. The default goldmark
// renderer omits raw HTML.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(goldmark.WithExtensions(extension.GFM))
}

// renderPreview converts a knowledge base's content to an HTML fragment.
func (g *Gateway) renderPreview(rec *record.Record) ([]byte, error) {
	content, _ := rec.Fields["content"].(string)
	var buf bytes.Buffer
	if name, ok := rec.Fields["name"].(string); ok && name != "" {
		content = "# " + name + "\n\n" + content
	}
	if err := g.markdown.Convert([]byte(content), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handlePreviewKnowledgeBase handles GET /api/records/knowledge_bases/{id}/preview.
func (g *Gateway) handlePreviewKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	owner := auth.MustFromContext(r.Context()).Owner

	rec, err := g.store.GetRecord(r.Context(), owner.ID, record.CategoryKnowledgeBases, r.PathValue("id"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	html, err := g.renderPreview(rec)
	if err != nil {
		g.logger.Error("failed to convert markdown", "id", rec.ID, "error", err)
		g.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}
