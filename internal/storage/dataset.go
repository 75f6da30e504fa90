package storage

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReadDataset parses a YAML dataset file.
func ReadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if err := ds.validate(); err != nil {
		return nil, fmt.Errorf("validating dataset %s: %w", path, err)
	}
	return &ds, nil
}

func (d *Dataset) validate() error {
	seen := make(map[string]bool, len(d.Documents))
	for i, doc := range d.Documents {
		if doc.ID == "" {
			return fmt.Errorf("document %d: missing id", i)
		}
		if doc.TenantID == "" {
			return fmt.Errorf("document %s: missing tenant_id", doc.ID)
		}
		if seen[doc.ID] {
			return fmt.Errorf("document %s: duplicate id", doc.ID)
		}
		seen[doc.ID] = true
	}
	for i, c := range d.Categories {
		if c.ID == "" {
			return fmt.Errorf("category %d: missing id", i)
		}
	}
	for i, dept := range d.Departments {
		if dept.ID == "" {
			return fmt.Errorf("department %d: missing id", i)
		}
	}
	return nil
}

// snapshot filters the dataset to the scope.
func (d *Dataset) snapshot(scope Scope) *Snapshot {
	var docs []Document
	for _, doc := range d.Documents {
		if scope.Allows(doc.TenantID, doc.DepartmentID) {
			docs = append(docs, doc)
		}
	}
	var cats []Category
	for _, c := range d.Categories {
		if scope.Allows(c.TenantID, c.DepartmentID) {
			cats = append(cats, c)
		}
	}
	var depts []Department
	for _, dept := range d.Departments {
		if scope.Allows(dept.TenantID, dept.ID) {
			depts = append(depts, dept)
		}
	}
	return NewSnapshot(docs, cats, depts)
}

// expiring returns scoped documents whose expiry falls in [from, to]. A
// zero from leaves the window open at the start. Results are ordered by
// expiry, soonest first.
func (d *Dataset) expiring(scope Scope, from, to time.Time) []Document {
	var out []Document
	for _, doc := range d.Documents {
		if doc.ExpiresAt == nil || !scope.Allows(doc.TenantID, doc.DepartmentID) {
			continue
		}
		exp := *doc.ExpiresAt
		if (!from.IsZero() && exp.Before(from)) || exp.After(to) {
			continue
		}
		out = append(out, doc)
	}
	slices.SortStableFunc(out, func(a, b Document) int {
		return a.ExpiresAt.Compare(*b.ExpiresAt)
	})
	return out
}

// shared returns documents in the scope's tenant shared with or by userID,
// newest share first.
func (d *Dataset) shared(scope Scope, userID string, dir ShareDirection) []SharedDocument {
	byID := make(map[string]Document, len(d.Documents))
	for _, doc := range d.Documents {
		byID[doc.ID] = doc
	}

	var out []SharedDocument
	for _, sh := range d.Shares {
		party := sh.SharedWith
		if dir == SharedByMe {
			party = sh.SharedBy
		}
		if party != userID {
			continue
		}
		doc, ok := byID[sh.DocumentID]
		if !ok || scope.TenantID == "" || doc.TenantID != scope.TenantID {
			continue
		}
		out = append(out, SharedDocument{Document: doc, Share: sh})
	}
	slices.SortStableFunc(out, func(a, b SharedDocument) int {
		return b.Share.SharedAt.Compare(a.Share.SharedAt)
	})
	return out
}

// categoriesByNFC returns scoped categories with (registered) or without an
// NFC tag, ordered by name.
func (d *Dataset) categoriesByNFC(scope Scope, registered bool) []Category {
	snap := d.snapshot(scope)
	var out []Category
	for _, c := range snap.Categories {
		if c.HasNFCTag() == registered {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b Category) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
