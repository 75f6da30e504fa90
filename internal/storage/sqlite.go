package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed document catalog. It implements the snapshot
// and report queries over departments, categories, documents and shares.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "docent.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection serializes writers; readers wait on busy_timeout.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Writers ---

func (s *Store) SaveDepartment(ctx context.Context, d Department) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, tenant_id, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET tenant_id = excluded.tenant_id, name = excluded.name`,
		d.ID, d.TenantID, d.Name,
	)
	if err != nil {
		return fmt.Errorf("saving department %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) SaveCategory(ctx context.Context, c Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, tenant_id, department_id, parent_id, name, storage_location, nfc_tag_id, nfc_registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id, department_id = excluded.department_id,
			parent_id = excluded.parent_id, name = excluded.name,
			storage_location = excluded.storage_location, nfc_tag_id = excluded.nfc_tag_id,
			nfc_registered_at = excluded.nfc_registered_at`,
		c.ID, c.TenantID, c.DepartmentID, c.ParentID, c.Name, c.StorageLocation,
		c.NFCTagID, formatNullTime(c.NFCRegisteredAt),
	)
	if err != nil {
		return fmt.Errorf("saving category %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) SaveDocument(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, title, department_id, category_id, uploaded_at, uploaded_by, extracted_text, storage_location, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id, title = excluded.title,
			department_id = excluded.department_id, category_id = excluded.category_id,
			uploaded_at = excluded.uploaded_at, uploaded_by = excluded.uploaded_by,
			extracted_text = excluded.extracted_text, storage_location = excluded.storage_location,
			expires_at = excluded.expires_at`,
		d.ID, d.TenantID, d.Title, d.DepartmentID, d.CategoryID, formatTime(d.UploadedAt),
		d.UploadedBy, d.ExtractedText, d.StorageLocation, formatNullTime(d.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", d.ID, err)
	}
	return nil
}

// SaveShare records a share. It returns ErrNotFound if the document does
// not exist.
func (s *Store) SaveShare(ctx context.Context, sh Share) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, sh.DocumentID).Scan(&exists); err != nil {
		return fmt.Errorf("checking document %s: %w", sh.DocumentID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shares (document_id, shared_by, shared_with, shared_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id, shared_by, shared_with) DO UPDATE SET shared_at = excluded.shared_at`,
		sh.DocumentID, sh.SharedBy, sh.SharedWith, formatTime(sh.SharedAt),
	)
	if err != nil {
		return fmt.Errorf("saving share of %s: %w", sh.DocumentID, err)
	}
	return nil
}

// LoadDataset writes every record of ds. Existing rows with the same ids
// are updated. Documents are written before shares so share references
// resolve.
func (s *Store) LoadDataset(ctx context.Context, ds *Dataset) error {
	for _, d := range ds.Departments {
		if err := s.SaveDepartment(ctx, d); err != nil {
			return err
		}
	}
	for _, c := range ds.Categories {
		if err := s.SaveCategory(ctx, c); err != nil {
			return err
		}
	}
	for _, d := range ds.Documents {
		if err := s.SaveDocument(ctx, d); err != nil {
			return err
		}
	}
	for _, sh := range ds.Shares {
		if err := s.SaveShare(ctx, sh); err != nil {
			return fmt.Errorf("saving share of %s: %w", sh.DocumentID, err)
		}
	}
	return nil
}

// GetDocument returns a document by id regardless of scope.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return d, err
}

// --- Readers ---

const documentColumns = `id, tenant_id, title, department_id, category_id, uploaded_at, uploaded_by, extracted_text, storage_location, expires_at`

const categoryColumns = `id, tenant_id, department_id, parent_id, name, storage_location, nfc_tag_id, nfc_registered_at`

// Snapshot loads every document, category and department visible within
// scope. Documents keep upload order.
func (s *Store) Snapshot(ctx context.Context, scope Scope) (*Snapshot, error) {
	if scope.TenantID == "" || len(scope.DepartmentIDs) == 0 {
		return NewSnapshot(nil, nil, nil), nil
	}
	in, args := inClause(scope)

	docs, err := s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = ? AND department_id IN `+in+` ORDER BY uploaded_at, id`,
		args...)
	if err != nil {
		return nil, err
	}
	cats, err := s.queryCategories(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE tenant_id = ? AND department_id IN `+in+` ORDER BY name, id`,
		args...)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name FROM departments WHERE tenant_id = ? AND id IN `+in+` ORDER BY name, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying departments: %w", err)
	}
	defer rows.Close()
	var depts []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Name); err != nil {
			return nil, fmt.Errorf("scanning department: %w", err)
		}
		depts = append(depts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating departments: %w", err)
	}

	return NewSnapshot(docs, cats, depts), nil
}

// ExpiringDocuments returns scoped documents expiring within [from, to],
// soonest first. A zero from leaves the window open at the start, which
// includes already expired documents.
func (s *Store) ExpiringDocuments(ctx context.Context, scope Scope, from, to time.Time) ([]Document, error) {
	if scope.TenantID == "" || len(scope.DepartmentIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(scope)
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE tenant_id = ? AND department_id IN ` + in + ` AND expires_at IS NOT NULL AND expires_at <= ?`
	args = append(args, formatTime(to))
	if !from.IsZero() {
		query += ` AND expires_at >= ?`
		args = append(args, formatTime(from))
	}
	query += ` ORDER BY expires_at, id`
	return s.queryDocuments(ctx, query, args...)
}

// SharedDocuments returns documents of the scope's tenant shared with or by
// userID, newest share first.
func (s *Store) SharedDocuments(ctx context.Context, scope Scope, userID string, dir ShareDirection) ([]SharedDocument, error) {
	if scope.TenantID == "" {
		return nil, nil
	}
	party := "sh.shared_with"
	if dir == SharedByMe {
		party = "sh.shared_by"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.tenant_id, d.title, d.department_id, d.category_id, d.uploaded_at, d.uploaded_by,
		       d.extracted_text, d.storage_location, d.expires_at,
		       sh.shared_by, sh.shared_with, sh.shared_at
		FROM shares sh JOIN documents d ON d.id = sh.document_id
		WHERE d.tenant_id = ? AND `+party+` = ?
		ORDER BY sh.shared_at DESC, d.id`,
		scope.TenantID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying shares: %w", err)
	}
	defer rows.Close()

	var out []SharedDocument
	for rows.Next() {
		var (
			sd                   SharedDocument
			uploadedAt, sharedAt string
			expiresAt            sql.NullString
		)
		d := &sd.Document
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Title, &d.DepartmentID, &d.CategoryID, &uploadedAt,
			&d.UploadedBy, &d.ExtractedText, &d.StorageLocation, &expiresAt,
			&sd.Share.SharedBy, &sd.Share.SharedWith, &sharedAt); err != nil {
			return nil, fmt.Errorf("scanning share: %w", err)
		}
		if err := parseDocumentTimes(d, uploadedAt, expiresAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, sharedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing shared_at: %w", err)
		}
		sd.Share.DocumentID = d.ID
		sd.Share.SharedAt = t
		out = append(out, sd)
	}
	return out, rows.Err()
}

// CategoriesByNFC returns scoped categories with (registered) or without an
// NFC tag, ordered by name. Document counts are filled in.
func (s *Store) CategoriesByNFC(ctx context.Context, scope Scope, registered bool) ([]Category, error) {
	if scope.TenantID == "" || len(scope.DepartmentIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(scope)
	cond := "c.nfc_tag_id = ''"
	if registered {
		cond = "c.nfc_tag_id <> ''"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.tenant_id, c.department_id, c.parent_id, c.name, c.storage_location, c.nfc_tag_id, c.nfc_registered_at,
		       (SELECT COUNT(*) FROM documents d WHERE d.category_id = c.id)
		FROM categories c
		WHERE c.tenant_id = ? AND c.department_id IN `+in+` AND `+cond+`
		ORDER BY c.name, c.id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var (
			c            Category
			registeredAt sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DepartmentID, &c.ParentID, &c.Name, &c.StorageLocation,
			&c.NFCTagID, &registeredAt, &c.DocumentCount); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		if c.NFCRegisteredAt, err = parseNullTime(registeredAt); err != nil {
			return nil, fmt.Errorf("parsing nfc_registered_at: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) queryCategories(ctx context.Context, query string, args ...any) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var (
			c            Category
			registeredAt sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DepartmentID, &c.ParentID, &c.Name, &c.StorageLocation,
			&c.NFCTagID, &registeredAt); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		if c.NFCRegisteredAt, err = parseNullTime(registeredAt); err != nil {
			return nil, fmt.Errorf("parsing nfc_registered_at: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (Document, error) {
	var (
		d          Document
		uploadedAt string
		expiresAt  sql.NullString
	)
	if err := r.Scan(&d.ID, &d.TenantID, &d.Title, &d.DepartmentID, &d.CategoryID, &uploadedAt,
		&d.UploadedBy, &d.ExtractedText, &d.StorageLocation, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("scanning document: %w", err)
	}
	if err := parseDocumentTimes(&d, uploadedAt, expiresAt); err != nil {
		return Document{}, err
	}
	return d, nil
}

func parseDocumentTimes(d *Document, uploadedAt string, expiresAt sql.NullString) error {
	t, err := time.Parse(time.RFC3339Nano, uploadedAt)
	if err != nil {
		return fmt.Errorf("parsing uploaded_at of %s: %w", d.ID, err)
	}
	d.UploadedAt = t
	if d.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return fmt.Errorf("parsing expires_at of %s: %w", d.ID, err)
	}
	return nil
}

// inClause renders "(?, ?, ...)" for the scope's departments. The returned
// args start with the tenant id.
func inClause(scope Scope) (string, []any) {
	args := make([]any, 0, len(scope.DepartmentIDs)+1)
	args = append(args, scope.TenantID)
	for _, id := range scope.DepartmentIDs {
		args = append(args, id)
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(scope.DepartmentIDs)), ", ") + ")", args
}

// Times are stored as fixed-width UTC RFC3339 strings so that text
// comparison in SQL matches chronological order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
