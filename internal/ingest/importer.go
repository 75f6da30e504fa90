// Package ingest turns uploaded files into stored documents.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docent/internal/storage"
)

// DocumentSaver persists a document.
type DocumentSaver interface {
	SaveDocument(ctx context.Context, d storage.Document) error
}

// Request describes one document to import. Text wins over PDF when both
// are set.
type Request struct {
	TenantID        string
	DepartmentID    string
	CategoryID      string
	Title           string
	UploadedBy      string
	StorageLocation string
	ExpiresAt       *time.Time
	Text            string
	PDF             []byte
}

func (r Request) validate() error {
	var missing []string
	if r.TenantID == "" {
		missing = append(missing, "tenant")
	}
	if r.DepartmentID == "" {
		missing = append(missing, "department")
	}
	if strings.TrimSpace(r.Title) == "" {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// ErrInvalidRequest is returned for requests missing required fields.
var ErrInvalidRequest = errors.New("invalid import request")

// Importer extracts text and saves documents.
type Importer struct {
	store  DocumentSaver
	now    func() time.Time
	logger *slog.Logger
}

func NewImporter(store DocumentSaver) *Importer {
	return &Importer{store: store, now: time.Now, logger: slog.Default()}
}

// Import stores req as a new document and returns it. A PDF without a text
// layer is still imported, with empty extracted text.
func (im *Importer) Import(ctx context.Context, req Request) (storage.Document, error) {
	if err := req.validate(); err != nil {
		return storage.Document{}, err
	}

	text := req.Text
	if text == "" && len(req.PDF) > 0 {
		var err error
		text, err = ExtractPDFBytes(req.PDF)
		switch {
		case errors.Is(err, ErrNoText):
			im.logger.Warn("imported pdf has no text layer", "title", req.Title)
		case err != nil:
			return storage.Document{}, err
		}
	}

	doc := storage.Document{
		ID:              uuid.New().String(),
		TenantID:        req.TenantID,
		Title:           strings.TrimSpace(req.Title),
		DepartmentID:    req.DepartmentID,
		CategoryID:      req.CategoryID,
		UploadedAt:      im.now().UTC(),
		UploadedBy:      req.UploadedBy,
		ExtractedText:   text,
		StorageLocation: req.StorageLocation,
		ExpiresAt:       req.ExpiresAt,
	}
	if err := im.store.SaveDocument(ctx, doc); err != nil {
		return storage.Document{}, fmt.Errorf("saving document: %w", err)
	}
	im.logger.Debug("document imported", "id", doc.ID, "tenant", doc.TenantID, "chars", len(text))
	return doc, nil
}
