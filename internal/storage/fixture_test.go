package storage

import "time"

var fixtureNow = time.Date(2024, time.May, 15, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

// fixtureDataset has two tenants. Tenant t1 has departments d1 and d2;
// tenant t2 has d3 and reuses the same category names.
func fixtureDataset() Dataset {
	return Dataset{
		Departments: []Department{
			{ID: "d1", TenantID: "t1", Name: "총무팀"},
			{ID: "d2", TenantID: "t1", Name: "인사팀"},
			{ID: "d3", TenantID: "t2", Name: "외부팀"},
		},
		Categories: []Category{
			{ID: "c1", TenantID: "t1", DepartmentID: "d1", Name: "계약서", StorageLocation: "A동 3층 캐비닛", NFCTagID: "tag-1", NFCRegisteredAt: timePtr(fixtureNow.AddDate(0, -1, 0))},
			{ID: "c1a", TenantID: "t1", DepartmentID: "d1", ParentID: "c1", Name: "임대차 계약"},
			{ID: "c2", TenantID: "t1", DepartmentID: "d2", Name: "인사기록", StorageLocation: "B동 1층"},
			{ID: "c3", TenantID: "t2", DepartmentID: "d3", Name: "계약서"},
		},
		Documents: []Document{
			{ID: "doc1", TenantID: "t1", Title: "사무실 임대차 계약서", DepartmentID: "d1", CategoryID: "c1a", UploadedAt: fixtureNow.AddDate(0, 0, -10), UploadedBy: "u1", ExtractedText: "임대 기간 2년", ExpiresAt: timePtr(fixtureNow.AddDate(0, 0, 5))},
			{ID: "doc2", TenantID: "t1", Title: "복사기 리스 계약서", DepartmentID: "d1", CategoryID: "c1", UploadedAt: fixtureNow.AddDate(0, 0, -2), UploadedBy: "u2", ExpiresAt: timePtr(fixtureNow.AddDate(0, 0, -1))},
			{ID: "doc3", TenantID: "t1", Title: "2024 인사평가", DepartmentID: "d2", CategoryID: "c2", UploadedAt: fixtureNow.AddDate(0, 0, -1), UploadedBy: "u1", ExpiresAt: timePtr(fixtureNow.AddDate(0, 0, 20))},
			{ID: "doc4", TenantID: "t2", Title: "타사 계약서", DepartmentID: "d3", CategoryID: "c3", UploadedAt: fixtureNow, UploadedBy: "x1", ExpiresAt: timePtr(fixtureNow.AddDate(0, 0, 3))},
		},
		Shares: []Share{
			{DocumentID: "doc1", SharedBy: "u2", SharedWith: "u1", SharedAt: fixtureNow.Add(-2 * time.Hour)},
			{DocumentID: "doc3", SharedBy: "u2", SharedWith: "u1", SharedAt: fixtureNow.Add(-time.Hour)},
			{DocumentID: "doc2", SharedBy: "u1", SharedWith: "u3", SharedAt: fixtureNow.Add(-3 * time.Hour)},
			{DocumentID: "doc4", SharedBy: "x1", SharedWith: "u1", SharedAt: fixtureNow},
		},
	}
}

var scopeT1All = Scope{TenantID: "t1", DepartmentIDs: []string{"d1", "d2"}}

func documentIDs(docs []Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}
