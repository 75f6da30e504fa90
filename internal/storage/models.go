package storage

import (
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Department struct {
	ID            string `yaml:"id"`
	TenantID      string `yaml:"tenant_id"`
	Name          string `yaml:"name"`
	DocumentCount int    `yaml:"-"`
}

type Category struct {
	ID              string     `yaml:"id"`
	TenantID        string     `yaml:"tenant_id"`
	DepartmentID    string     `yaml:"department_id"`
	ParentID        string     `yaml:"parent_id"`
	Name            string     `yaml:"name"`
	StorageLocation string     `yaml:"storage_location"`
	NFCTagID        string     `yaml:"nfc_tag_id"`
	NFCRegisteredAt *time.Time `yaml:"nfc_registered_at"`
	DocumentCount   int        `yaml:"-"`
}

// HasNFCTag reports whether an NFC tag is linked to the category.
func (c Category) HasNFCTag() bool {
	return c.NFCTagID != ""
}

type Document struct {
	ID              string     `yaml:"id"`
	TenantID        string     `yaml:"tenant_id"`
	Title           string     `yaml:"title"`
	DepartmentID    string     `yaml:"department_id"`
	CategoryID      string     `yaml:"category_id"` // leaf (sub)category
	UploadedAt      time.Time  `yaml:"uploaded_at"`
	UploadedBy      string     `yaml:"uploaded_by"`
	ExtractedText   string     `yaml:"extracted_text"`
	StorageLocation string     `yaml:"storage_location"`
	ExpiresAt       *time.Time `yaml:"expires_at"`
}

type Share struct {
	DocumentID string    `yaml:"document_id"`
	SharedBy   string    `yaml:"shared_by"`
	SharedWith string    `yaml:"shared_with"`
	SharedAt   time.Time `yaml:"shared_at"`
}

// ShareDirection selects shares relative to a user.
type ShareDirection int

const (
	SharedWithMe ShareDirection = iota
	SharedByMe
)

// SharedDocument is a document joined with the share that exposes it.
type SharedDocument struct {
	Document Document
	Share    Share
}

// Scope is the visibility boundary for one caller: a tenant and the set of
// departments the caller may read. The permission set is resolved upstream.
type Scope struct {
	TenantID      string
	DepartmentIDs []string
}

// Allows reports whether a document in the given tenant and department is
// visible within the scope.
func (s Scope) Allows(tenantID, departmentID string) bool {
	if s.TenantID == "" || tenantID != s.TenantID {
		return false
	}
	return slices.Contains(s.DepartmentIDs, departmentID)
}

// Snapshot is a read-only view of the documents, categories and departments
// visible within one Scope. It is built per request and never mutated.
type Snapshot struct {
	Documents   []Document
	Categories  []Category
	Departments []Department

	categoryByID   map[string]Category
	departmentByID map[string]Department
}

// NewSnapshot builds a Snapshot and its lookup tables. Document counts on
// categories and departments are computed from docs.
func NewSnapshot(docs []Document, cats []Category, depts []Department) *Snapshot {
	s := &Snapshot{
		Documents:      docs,
		Categories:     make([]Category, len(cats)),
		Departments:    make([]Department, len(depts)),
		categoryByID:   make(map[string]Category, len(cats)),
		departmentByID: make(map[string]Department, len(depts)),
	}

	catCounts := make(map[string]int)
	deptCounts := make(map[string]int)
	for _, d := range docs {
		catCounts[d.CategoryID]++
		deptCounts[d.DepartmentID]++
	}

	for i, c := range cats {
		c.DocumentCount = catCounts[c.ID]
		s.Categories[i] = c
		s.categoryByID[c.ID] = c
	}
	for i, d := range depts {
		d.DocumentCount = deptCounts[d.ID]
		s.Departments[i] = d
		s.departmentByID[d.ID] = d
	}
	return s
}

// Category returns the category with the given id.
func (s *Snapshot) Category(id string) (Category, bool) {
	c, ok := s.categoryByID[id]
	return c, ok
}

// Department returns the department with the given id.
func (s *Snapshot) Department(id string) (Department, bool) {
	d, ok := s.departmentByID[id]
	return d, ok
}

// Dataset is the full, unscoped content of a store. It is the unit loaded
// from YAML seed files and written into SQLite.
type Dataset struct {
	Departments []Department `yaml:"departments"`
	Categories  []Category   `yaml:"categories"`
	Documents   []Document   `yaml:"documents"`
	Shares      []Share      `yaml:"shares"`
}
