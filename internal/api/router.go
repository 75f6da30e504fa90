// Package api exposes the document assistant over HTTP and MCP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/docent/internal/assistant"
	"github.com/kalambet/docent/internal/dates"
	"github.com/kalambet/docent/internal/ingest"
	"github.com/kalambet/docent/internal/proxy"
	"github.com/kalambet/docent/internal/retrieval"
	"github.com/kalambet/docent/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxImportBodySize  = 15 << 20 // base64 of a 10MB PDF
)

// Answerer produces assistant answers.
type Answerer interface {
	GenerateResponse(ctx context.Context, req assistant.Request, onPartial assistant.PartialFunc) assistant.Result
}

// Importer stores uploaded documents.
type Importer interface {
	Import(ctx context.Context, req ingest.Request) (storage.Document, error)
}

// Deps are the collaborators of the HTTP handler. Importer may be nil when
// the configured store is read-only.
type Deps struct {
	Assistant Answerer
	Snapshots assistant.SnapshotSource
	Importer  Importer
	Token     string
	RateLimit float64
	RateBurst int
	// Now is the clock used to resolve date expressions. Defaults to time.Now.
	Now func() time.Time
}

// NewHandler returns the docent HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(RateLimit(deps.RateLimit, deps.RateBurst))

		r.Post("/assistant/chat", handleChat(deps))
		r.Get("/documents/search", handleSearch(deps))
		r.Post("/documents", handleImport(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ChatRequest is the body of POST /v1/assistant/chat.
type ChatRequest struct {
	Message string          `json:"message"`
	History []proxy.Message `json:"history"`
	Stream  bool            `json:"stream"`
}

// ChatEvent is one server-sent event of a streamed answer.
type ChatEvent struct {
	Type      string                   `json:"type"` // "partial" or "final"
	Text      string                   `json:"text"`
	Documents []retrieval.SearchResult `json:"documents"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		viewer := viewerFromRequest(r)
		if viewer.TenantID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", HeaderTenant)
			return
		}

		areq := assistant.Request{Message: req.Message, History: req.History, Viewer: viewer}
		if req.Stream {
			streamResponse(w, r, deps.Assistant, areq)
			return
		}

		res := deps.Assistant.GenerateResponse(r.Context(), areq, nil)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

// streamResponse writes every progressive update as a "partial" event, then
// the result as a "final" event, then the [DONE] marker.
func streamResponse(w http.ResponseWriter, r *http.Request, a Answerer, req assistant.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(ev ChatEvent) {
		payload, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("failed to marshal stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	res := a.GenerateResponse(r.Context(), req, func(text string, _ []retrieval.SearchResult) {
		send(ChatEvent{Type: "partial", Text: text, Documents: []retrieval.SearchResult{}})
	})
	send(ChatEvent{Type: "final", Text: res.Text, Documents: res.Documents})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// SearchResponse is the body returned by GET /v1/documents/search.
type SearchResponse struct {
	Query     string                   `json:"query,omitempty"`
	Range     *SearchRange             `json:"range,omitempty"`
	Total     int                      `json:"total"`
	Documents []retrieval.SearchResult `json:"documents"`
}

type SearchRange struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	resolver := dates.NewResolver(deps.Now)
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		when := strings.TrimSpace(r.URL.Query().Get("when"))
		if q == "" && when == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of q or when is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		viewer := viewerFromRequest(r)
		if viewer.TenantID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", HeaderTenant)
			return
		}

		var rng dates.Range
		if when != "" {
			var ok bool
			if rng, ok = resolver.Resolve(when); !ok {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unrecognized date expression %q", when)
				return
			}
		}

		scope := viewer.Scope()
		snap, err := deps.Snapshots.Snapshot(r.Context(), scope)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load documents: %v", err)
			return
		}
		ix := retrieval.NewIndex(snap, scope)

		resp := SearchResponse{Query: q}
		var docs []retrieval.SearchResult
		switch {
		case when != "":
			resp.Range = &SearchRange{Label: rng.Label, Start: rng.Start, End: rng.End}
			docs = ix.SearchByDateRange(rng)
			if q != "" {
				docs = intersect(docs, ix.SearchByKeyword(q))
			}
		default:
			docs = ix.SearchByKeyword(q)
		}

		resp.Total = len(docs)
		if len(docs) > limit {
			docs = docs[:limit]
		}
		resp.Documents = docs

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// intersect keeps the results of a that also appear in b, in a's order.
func intersect(a, b []retrieval.SearchResult) []retrieval.SearchResult {
	ids := make(map[string]bool, len(b))
	for _, d := range b {
		ids[d.ID] = true
	}
	out := []retrieval.SearchResult{}
	for _, d := range a {
		if ids[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

// ImportRequest is the body of POST /v1/documents. Content is a
// base64-encoded PDF; Text may be sent instead for already-extracted text.
type ImportRequest struct {
	Title           string `json:"title"`
	DepartmentID    string `json:"departmentId"`
	CategoryID      string `json:"categoryId"`
	StorageLocation string `json:"storageLocation"`
	ExpiresAt       string `json:"expiresAt"`
	Text            string `json:"text"`
	Content         string `json:"content"`
}

func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Importer == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "document import requires the sqlite storage backend")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" && req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of text or content is required")
			return
		}

		viewer := viewerFromRequest(r)
		ireq := ingest.Request{
			TenantID:        viewer.TenantID,
			DepartmentID:    req.DepartmentID,
			CategoryID:      req.CategoryID,
			Title:           req.Title,
			UploadedBy:      viewer.UserID,
			StorageLocation: req.StorageLocation,
			Text:            req.Text,
		}
		if ireq.DepartmentID == "" {
			ireq.DepartmentID = viewer.DepartmentID
		}
		scope := viewer.Scope()
		if ireq.DepartmentID != "" && !scope.Allows(ireq.TenantID, ireq.DepartmentID) {
			httpError(w, http.StatusForbidden, "permission_error", "department %q is not accessible", ireq.DepartmentID)
			return
		}
		if ireq.CategoryID != "" && deps.Snapshots != nil {
			snap, err := deps.Snapshots.Snapshot(r.Context(), scope)
			if err != nil {
				slog.Error("loading snapshot for import failed", "tenant", scope.TenantID, "error", err)
				httpError(w, http.StatusInternalServerError, "api_error", "failed to check category")
				return
			}
			if cat, ok := snap.Category(ireq.CategoryID); !ok || cat.DepartmentID != ireq.DepartmentID {
				httpError(w, http.StatusForbidden, "permission_error", "category %q is not in department %q", ireq.CategoryID, ireq.DepartmentID)
				return
			}
		}
		if req.ExpiresAt != "" {
			t, err := parseExpiry(req.ExpiresAt)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid expiresAt: %v", err)
				return
			}
			ireq.ExpiresAt = &t
		}
		if req.Content != "" {
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			ireq.PDF = decoded
		}

		doc, err := deps.Importer.Import(r.Context(), ireq)
		if errors.Is(err, ingest.ErrInvalidRequest) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "api_error", "failed to import document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":             doc.ID,
			"title":          doc.Title,
			"extractedChars": len([]rune(doc.ExtractedText)),
		})
	}
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
