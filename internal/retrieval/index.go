package retrieval

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/docent/internal/dates"
	"github.com/kalambet/docent/internal/storage"
)

// SearchResult is a document denormalized for display. The remote service
// returns the same shape after its delimiter.
type SearchResult struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	CategoryName     string    `json:"categoryName"`
	DepartmentName   string    `json:"departmentName"`
	StorageLocation  string    `json:"storageLocation"`
	UploadDate       time.Time `json:"uploadDate"`
	SubcategoryID    string    `json:"subcategoryId,omitempty"`
	ParentCategoryID string    `json:"parentCategoryId,omitempty"`
}

// DepartmentStat is the number of visible documents in one department.
type DepartmentStat struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Documents int    `json:"documents"`
}

// CategoryStat is the number of visible documents in one category.
type CategoryStat struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DepartmentName  string `json:"departmentName"`
	StorageLocation string `json:"storageLocation"`
	Documents       int    `json:"documents"`
}

type entry struct {
	doc    storage.Document
	result SearchResult
	title  string // lowercased
	text   string // lowercased
}

// Index answers keyword and date-range queries over one viewer's snapshot.
// Results are denormalized when the index is built. An Index is immutable
// and safe for concurrent use.
type Index struct {
	entries []entry
	depts   []storage.Department
	cats    []storage.Category
	snap    *storage.Snapshot
}

// NewIndex builds an index over the documents in snap that scope allows. A
// scope without a tenant yields an empty index.
func NewIndex(snap *storage.Snapshot, scope storage.Scope) *Index {
	ix := &Index{snap: snap}
	if snap == nil || scope.TenantID == "" {
		return ix
	}

	for _, d := range snap.Documents {
		if !scope.Allows(d.TenantID, d.DepartmentID) {
			continue
		}
		ix.entries = append(ix.entries, entry{
			doc:    d,
			result: ix.denormalize(d),
			title:  strings.ToLower(d.Title),
			text:   strings.ToLower(d.ExtractedText),
		})
	}
	for _, d := range snap.Departments {
		if scope.Allows(d.TenantID, d.ID) {
			ix.depts = append(ix.depts, d)
		}
	}
	for _, c := range snap.Categories {
		if scope.Allows(c.TenantID, c.DepartmentID) {
			ix.cats = append(ix.cats, c)
		}
	}
	return ix
}

func (ix *Index) denormalize(d storage.Document) SearchResult {
	r := SearchResult{
		ID:              d.ID,
		Title:           d.Title,
		UploadDate:      d.UploadedAt,
		StorageLocation: d.StorageLocation,
		SubcategoryID:   d.CategoryID,
	}
	if dept, ok := ix.snap.Department(d.DepartmentID); ok {
		r.DepartmentName = dept.Name
	}
	cat, ok := ix.snap.Category(d.CategoryID)
	if !ok {
		return r
	}
	r.CategoryName = cat.Name
	r.ParentCategoryID = cat.ParentID
	if r.StorageLocation == "" {
		r.StorageLocation = cat.StorageLocation
	}
	if r.StorageLocation == "" && cat.ParentID != "" {
		if parent, ok := ix.snap.Category(cat.ParentID); ok {
			r.StorageLocation = parent.StorageLocation
		}
	}
	return r
}

// Count returns the number of visible documents.
func (ix *Index) Count() int {
	return len(ix.entries)
}

// SearchByKeyword returns documents whose title or extracted text contains
// query, ignoring case. Snapshot order is kept. An empty query returns
// nothing.
func (ix *Index) SearchByKeyword(query string) []SearchResult {
	return ix.SearchByKeywords(query)
}

// SearchByKeywords returns documents matching any of the keywords, in
// snapshot order. Empty keywords are ignored.
func (ix *Index) SearchByKeywords(keywords ...string) []SearchResult {
	var terms []string
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			terms = append(terms, k)
		}
	}
	if len(terms) == 0 {
		return []SearchResult{}
	}

	out := []SearchResult{}
	for _, e := range ix.entries {
		for _, t := range terms {
			if strings.Contains(e.title, t) || strings.Contains(e.text, t) {
				out = append(out, e.result)
				break
			}
		}
	}
	return out
}

// SearchByDateRange returns documents uploaded within r, newest first.
// Documents with equal upload times keep snapshot order.
func (ix *Index) SearchByDateRange(r dates.Range) []SearchResult {
	out := []SearchResult{}
	for _, e := range ix.entries {
		if r.Contains(e.doc.UploadedAt) {
			out = append(out, e.result)
		}
	}
	slices.SortStableFunc(out, func(a, b SearchResult) int {
		return b.UploadDate.Compare(a.UploadDate)
	})
	return out
}

// DepartmentStats returns per-department document counts in snapshot order.
func (ix *Index) DepartmentStats() []DepartmentStat {
	counts := make(map[string]int)
	for _, e := range ix.entries {
		counts[e.doc.DepartmentID]++
	}
	out := make([]DepartmentStat, 0, len(ix.depts))
	for _, d := range ix.depts {
		out = append(out, DepartmentStat{ID: d.ID, Name: d.Name, Documents: counts[d.ID]})
	}
	return out
}

// CategoryStats returns per-category document counts in snapshot order.
func (ix *Index) CategoryStats() []CategoryStat {
	counts := make(map[string]int)
	for _, e := range ix.entries {
		counts[e.doc.CategoryID]++
	}
	out := make([]CategoryStat, 0, len(ix.cats))
	for _, c := range ix.cats {
		st := CategoryStat{ID: c.ID, Name: c.Name, StorageLocation: c.StorageLocation, Documents: counts[c.ID]}
		if d, ok := ix.snap.Department(c.DepartmentID); ok {
			st.DepartmentName = d.Name
		}
		out = append(out, st)
	}
	return out
}

// Visible keeps the results whose ids are documents in this index, in
// their original order.
func (ix *Index) Visible(results []SearchResult) []SearchResult {
	ids := make(map[string]bool, len(ix.entries))
	for _, e := range ix.entries {
		ids[e.doc.ID] = true
	}
	out := []SearchResult{}
	for _, r := range results {
		if ids[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// uploadDateLayouts are the formats accepted for uploadDate in remote
// payloads, tried in order.
var uploadDateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}

type wireResult struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	CategoryName     string `json:"categoryName"`
	DepartmentName   string `json:"departmentName"`
	StorageLocation  string `json:"storageLocation"`
	UploadDate       string `json:"uploadDate"`
	SubcategoryID    string `json:"subcategoryId"`
	ParentCategoryID string `json:"parentCategoryId"`
}

// ParseResults decodes a JSON array of search results. Upload dates may be
// RFC 3339 timestamps or plain dates; an unparseable date is left zero.
func ParseResults(data []byte) ([]SearchResult, error) {
	var wire []wireResult
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	out := make([]SearchResult, 0, len(wire))
	for _, w := range wire {
		r := SearchResult{
			ID:               w.ID,
			Title:            w.Title,
			CategoryName:     w.CategoryName,
			DepartmentName:   w.DepartmentName,
			StorageLocation:  w.StorageLocation,
			SubcategoryID:    w.SubcategoryID,
			ParentCategoryID: w.ParentCategoryID,
		}
		for _, layout := range uploadDateLayouts {
			if t, err := time.Parse(layout, w.UploadDate); err == nil {
				r.UploadDate = t
				break
			}
		}
		out = append(out, r)
	}
	return out, nil
}
