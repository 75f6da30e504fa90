package dates

import (
	"testing"
	"time"
)

var kst = time.FixedZone("KST", 9*60*60)

// Wednesday, 15 May 2024 14:30 KST.
var fixedNow = time.Date(2024, time.May, 15, 14, 30, 0, 0, kst)

func fixedResolver(now time.Time) *Resolver {
	return NewResolver(func() time.Time { return now })
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, kst)
}

func endOf(y int, m time.Month, d int) time.Time {
	return day(y, m, d).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func TestResolve_Phrases(t *testing.T) {
	tests := []struct {
		text      string
		wantStart time.Time
		wantEnd   time.Time
		wantLabel string
	}{
		{"오늘 올린 문서", day(2024, 5, 15), endOf(2024, 5, 15), "오늘"},
		{"어제 문서 보여줘", day(2024, 5, 14), endOf(2024, 5, 14), "어제"},
		{"그저께 업로드", day(2024, 5, 13), endOf(2024, 5, 13), "그저께"},
		{"3일 전에 올린 문서", day(2024, 5, 12), endOf(2024, 5, 12), "3일 전"},
		{"이번 주 등록 문서", day(2024, 5, 13), fixedNow, "이번 주"},
		{"지난주 문서", day(2024, 5, 6), endOf(2024, 5, 12), "지난주"},
		{"2주 전 문서", day(2024, 4, 29), endOf(2024, 5, 5), "2주 전"},
		{"이번달 문서", day(2024, 5, 1), fixedNow, "이번달"},
		{"지난 달 업로드", day(2024, 4, 1), endOf(2024, 4, 30), "지난 달"},
		{"3개월 전 문서", day(2024, 2, 1), endOf(2024, 2, 29), "3개월 전"},
		{"올해 올린 문서", day(2024, 1, 1), fixedNow, "올해"},
		{"작년 문서", day(2023, 1, 1), endOf(2023, 12, 31), "작년"},
		{"2년 전 문서", day(2022, 1, 1), endOf(2022, 12, 31), "2년 전"},
		{"3월 5일 문서", day(2024, 3, 5), endOf(2024, 3, 5), "3월 5일"},
		{"Documents from LAST WEEK", day(2024, 5, 6), endOf(2024, 5, 12), "last week"},
	}

	r := fixedResolver(fixedNow)
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := r.Resolve(tt.text)
			if !ok {
				t.Fatalf("Resolve(%q) matched nothing", tt.text)
			}
			if !got.Start.Equal(tt.wantStart) {
				t.Errorf("Start = %v, want %v", got.Start, tt.wantStart)
			}
			if !got.End.Equal(tt.wantEnd) {
				t.Errorf("End = %v, want %v", got.End, tt.wantEnd)
			}
			if got.Label != tt.wantLabel {
				t.Errorf("Label = %q, want %q", got.Label, tt.wantLabel)
			}
			if got.End.Before(got.Start) {
				t.Errorf("End %v is before Start %v", got.End, got.Start)
			}
		})
	}
}

func TestResolve_NoMatch(t *testing.T) {
	r := fixedResolver(fixedNow)
	if got, ok := r.Resolve("없는 표현"); ok {
		t.Errorf("Resolve() = %+v, want no match", got)
	}
}

func TestResolve_FirstMatchWins(t *testing.T) {
	r := fixedResolver(fixedNow)
	got, ok := r.Resolve("어제랑 오늘 올린 문서")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Label != "오늘" {
		t.Errorf("Label = %q, want 오늘 (today has priority over yesterday)", got.Label)
	}
}

func TestResolve_MonthDayInFutureRollsBack(t *testing.T) {
	r := fixedResolver(fixedNow)
	got, ok := r.Resolve("12월 25일에 올린 문서")
	if !ok {
		t.Fatal("expected a match")
	}
	if !got.Start.Equal(day(2023, 12, 25)) {
		t.Errorf("Start = %v, want 2023-12-25", got.Start)
	}
}

func TestResolve_MonthDayToday(t *testing.T) {
	r := fixedResolver(fixedNow)
	got, ok := r.Resolve("5월 15일 문서")
	if !ok {
		t.Fatal("expected a match")
	}
	if !got.Start.Equal(day(2024, 5, 15)) {
		t.Errorf("Start = %v, want 2024-05-15 (today is not in the future)", got.Start)
	}
}

func TestResolve_InvalidMonthDay(t *testing.T) {
	r := fixedResolver(fixedNow)
	for _, text := range []string{"2월 30일 문서", "13월 1일 문서", "4월 0일 문서"} {
		if got, ok := r.Resolve(text); ok {
			t.Errorf("Resolve(%q) = %+v, want no match", text, got)
		}
	}
}

func TestResolve_ThisWeekOnSundayStartsMonday(t *testing.T) {
	sunday := time.Date(2024, time.May, 19, 9, 0, 0, 0, kst)
	r := fixedResolver(sunday)
	got, ok := r.Resolve("이번 주 문서")
	if !ok {
		t.Fatal("expected a match")
	}
	if !got.Start.Equal(day(2024, 5, 13)) {
		t.Errorf("Start = %v, want Monday 2024-05-13", got.Start)
	}
	if !got.End.Equal(sunday) {
		t.Errorf("End = %v, want now", got.End)
	}
}

func TestResolve_ThisWeekOnMonday(t *testing.T) {
	monday := time.Date(2024, time.May, 13, 0, 0, 0, 0, kst)
	r := fixedResolver(monday)
	got, ok := r.Resolve("이번주")
	if !ok {
		t.Fatal("expected a match")
	}
	if !got.Start.Equal(monday) || !got.End.Equal(monday) {
		t.Errorf("range = [%v, %v], want a single instant at Monday 00:00", got.Start, got.End)
	}
}

func TestResolve_LastMonthAcrossYear(t *testing.T) {
	jan := time.Date(2024, time.January, 10, 12, 0, 0, 0, kst)
	r := fixedResolver(jan)
	got, ok := r.Resolve("지난달 문서")
	if !ok {
		t.Fatal("expected a match")
	}
	if !got.Start.Equal(day(2023, 12, 1)) || !got.End.Equal(endOf(2023, 12, 31)) {
		t.Errorf("range = [%v, %v], want December 2023", got.Start, got.End)
	}
}

func TestRange_Contains(t *testing.T) {
	r := Range{Start: day(2024, 5, 1), End: endOf(2024, 5, 1)}
	if !r.Contains(day(2024, 5, 1)) {
		t.Error("start should be contained")
	}
	if !r.Contains(endOf(2024, 5, 1)) {
		t.Error("end should be contained")
	}
	if r.Contains(day(2024, 5, 2)) {
		t.Error("next day should not be contained")
	}
}

func TestHasExpression(t *testing.T) {
	if !HasExpression("최근 5일 전 문서") {
		t.Error("HasExpression(5일 전) = false, want true")
	}
	if HasExpression("계약서 어디 있어?") {
		t.Error("HasExpression() = true for text without a date")
	}
}

func TestResolver_HasExpressionUsesClock(t *testing.T) {
	leap := NewResolver(func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) })
	common := NewResolver(func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) })
	if !leap.HasExpression("2월 29일") {
		t.Error("HasExpression(2월 29일) in 2024 = false, want true")
	}
	if common.HasExpression("2월 29일") {
		t.Error("HasExpression(2월 29일) in 2025 = true, want false")
	}
}
