package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/docent/internal/storage"
)

type mockSaver struct {
	saved  []storage.Document
	saveFn func(d storage.Document) error
}

func (m *mockSaver) SaveDocument(_ context.Context, d storage.Document) error {
	if m.saveFn != nil {
		return m.saveFn(d)
	}
	m.saved = append(m.saved, d)
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
}

func TestImport_Text(t *testing.T) {
	saver := &mockSaver{}
	im := NewImporter(saver)
	im.now = fixedClock

	doc, err := im.Import(context.Background(), Request{
		TenantID:     "t1",
		DepartmentID: "d1",
		CategoryID:   "c1",
		Title:        "  임대차 계약서 ",
		UploadedBy:   "u1",
		Text:         "계약 기간 2년",
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if doc.ID == "" {
		t.Error("expected generated id")
	}
	if doc.Title != "임대차 계약서" {
		t.Errorf("Title = %q, want trimmed", doc.Title)
	}
	if !doc.UploadedAt.Equal(fixedClock()) {
		t.Errorf("UploadedAt = %v", doc.UploadedAt)
	}
	if doc.ExtractedText != "계약 기간 2년" {
		t.Errorf("ExtractedText = %q", doc.ExtractedText)
	}
	if len(saver.saved) != 1 || saver.saved[0].ID != doc.ID {
		t.Fatalf("saved = %+v", saver.saved)
	}
}

func TestImport_PDF(t *testing.T) {
	saver := &mockSaver{}
	im := NewImporter(saver)

	doc, err := im.Import(context.Background(), Request{
		TenantID: "t1", DepartmentID: "d1", Title: "budget",
		PDF: buildPDF("BT /F1 12 Tf 72 712 Td (Quarterly budget) Tj ET"),
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if doc.ExtractedText == "" {
		t.Error("expected text extracted from pdf")
	}
}

func TestImport_ScannedPDFStillImported(t *testing.T) {
	saver := &mockSaver{}
	im := NewImporter(saver)

	doc, err := im.Import(context.Background(), Request{
		TenantID: "t1", DepartmentID: "d1", Title: "scan",
		PDF: buildPDF("0 0 m 100 100 l S"),
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if doc.ExtractedText != "" {
		t.Errorf("ExtractedText = %q, want empty", doc.ExtractedText)
	}
	if len(saver.saved) != 1 {
		t.Errorf("saved %d documents, want 1", len(saver.saved))
	}
}

func TestImport_BrokenPDF(t *testing.T) {
	saver := &mockSaver{}
	im := NewImporter(saver)

	_, err := im.Import(context.Background(), Request{
		TenantID: "t1", DepartmentID: "d1", Title: "broken", PDF: []byte("garbage"),
	})
	if err == nil {
		t.Fatal("expected error for broken pdf")
	}
	if len(saver.saved) != 0 {
		t.Error("nothing should be saved")
	}
}

func TestImport_MissingFields(t *testing.T) {
	im := NewImporter(&mockSaver{})

	_, err := im.Import(context.Background(), Request{Title: " "})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestImport_SaveError(t *testing.T) {
	boom := errors.New("disk full")
	im := NewImporter(&mockSaver{saveFn: func(storage.Document) error { return boom }})

	_, err := im.Import(context.Background(), Request{TenantID: "t1", DepartmentID: "d1", Title: "x", Text: "y"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped save error", err)
	}
}

func TestImport_SQLiteRoundTrip(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc, err := NewImporter(store).Import(context.Background(), Request{
		TenantID: "t1", DepartmentID: "d1", Title: "보험 증권", Text: "policy", ExpiresAt: &expires,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	got, err := store.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != "보험 증권" || got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("got %+v", got)
	}
}
