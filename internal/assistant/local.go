package assistant

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/docent/internal/dates"
	"github.com/kalambet/docent/internal/retrieval"
)

const (
	maxLocalResults = 5
	maxDateResults  = 10
	unknownLocation = "위치 미지정"
	dateLayout      = "2006-01-02"
)

type statKind int

const (
	statCount statKind = iota
	statDepartments
	statCategories
)

// fastReplies are exact questions answered from local statistics without
// classification.
var fastReplies = map[string]statKind{
	"전체 문서 수는?": statCount,
	"문서 몇 개야?":  statCount,
	"총 문서 수":    statCount,
	"부서별 문서 현황": statDepartments,
	"부서별 현황":    statDepartments,
	"카테고리 목록":   statCategories,
	"카테고리 보여줘":  statCategories,
}

func localStat(ix *retrieval.Index, kind statKind) string {
	switch kind {
	case statDepartments:
		return departmentAnswer(ix)
	case statCategories:
		return categoryAnswer(ix)
	default:
		return countAnswer(ix)
	}
}

// localAnswer picks the first matching local responder: location, count,
// department, category, then plain keyword search.
func localAnswer(ix *retrieval.Index, message string) (string, []retrieval.SearchResult) {
	lower := strings.ToLower(message)
	keywords := extractKeywords(message)

	switch {
	case strings.Contains(lower, "어디"):
		return locationAnswer(ix, keywords)
	case strings.Contains(lower, "문서 수") || strings.Contains(lower, "몇 개") || strings.Contains(lower, "몇개"):
		return countAnswer(ix), nil
	case strings.Contains(lower, "부서"):
		return departmentAnswer(ix), nil
	case strings.Contains(lower, "카테고리"):
		return categoryAnswer(ix), nil
	}

	hits := ix.SearchByKeywords(keywords...)
	if len(hits) == 0 {
		return HelpText, nil
	}
	top := hits[:min(len(hits), maxLocalResults)]

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 '%s' 검색 결과 %d건\n", strings.Join(keywords, " "), len(hits))
	for i, r := range top {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, r.Title, placement(r))
	}
	writeMore(&sb, len(hits), len(top))
	return strings.TrimRight(sb.String(), "\n"), top
}

func locationAnswer(ix *retrieval.Index, keywords []string) (string, []retrieval.SearchResult) {
	if len(keywords) == 0 {
		return "어떤 문서의 위치를 찾으시나요? 문서 이름을 함께 입력해 주세요.", nil
	}
	query := strings.Join(keywords, " ")
	hits := ix.SearchByKeywords(keywords...)
	if len(hits) == 0 {
		return fmt.Sprintf("'%s' 관련 문서를 찾지 못했습니다.", query), nil
	}
	top := hits[:min(len(hits), maxLocalResults)]

	var sb strings.Builder
	fmt.Fprintf(&sb, "📍 '%s' 관련 문서 %d건의 보관 위치입니다.\n", query, len(hits))
	for i, r := range top {
		loc := r.StorageLocation
		if loc == "" {
			loc = unknownLocation
		}
		fmt.Fprintf(&sb, "%d. %s\n   위치: %s (%s)\n", i+1, r.Title, loc, placement(r))
	}
	writeMore(&sb, len(hits), len(top))
	return strings.TrimRight(sb.String(), "\n"), top
}

func countAnswer(ix *retrieval.Index) string {
	return fmt.Sprintf("현재 시스템에 등록된 문서는 총 %d개입니다.", ix.Count())
}

func departmentAnswer(ix *retrieval.Index) string {
	stats := ix.DepartmentStats()
	if len(stats) == 0 {
		return "조회 가능한 부서가 없습니다."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 부서별 문서 현황 (총 %d개)\n", ix.Count())
	for _, s := range stats {
		fmt.Fprintf(&sb, "- %s: %d개\n", s.Name, s.Documents)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func categoryAnswer(ix *retrieval.Index) string {
	stats := ix.CategoryStats()
	if len(stats) == 0 {
		return "등록된 카테고리가 없습니다."
	}
	var sb strings.Builder
	sb.WriteString("📁 카테고리 목록\n")
	for _, s := range stats {
		loc := s.StorageLocation
		if loc == "" {
			loc = unknownLocation
		}
		fmt.Fprintf(&sb, "- %s (%s) · %s · 문서 %d개\n", s.Name, s.DepartmentName, loc, s.Documents)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatDateResults renders up to ten results of a date-scoped search and
// returns the documents shown.
func formatDateResults(r dates.Range, hits []retrieval.SearchResult) (string, []retrieval.SearchResult) {
	if len(hits) == 0 {
		return fmt.Sprintf("%s에 업로드된 문서가 없습니다.", r.Label), nil
	}
	top := hits[:min(len(hits), maxDateResults)]
	loc := r.Start.Location()

	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 %s에 업로드된 문서 %d건을 찾았습니다.\n", r.Label, len(hits))
	for i, h := range top {
		fmt.Fprintf(&sb, "%d. %s\n   %s · %s\n", i+1, h.Title, placement(h), h.UploadDate.In(loc).Format(dateLayout))
	}
	writeMore(&sb, len(hits), len(top))
	return strings.TrimRight(sb.String(), "\n"), top
}

func placement(r retrieval.SearchResult) string {
	dept, cat := r.DepartmentName, r.CategoryName
	switch {
	case dept != "" && cat != "":
		return dept + " / " + cat
	case dept != "":
		return dept
	case cat != "":
		return cat
	}
	return "분류 없음"
}

func writeMore(sb *strings.Builder, total, shown int) {
	if total > shown {
		fmt.Fprintf(sb, "… 외 %d건\n", total-shown)
	}
}

// particles are trailing postpositions stripped from keywords, longest
// first. Keywords are matched as substrings, so over-stripping only widens
// a match.
var particles = []string{
	"에서는", "으로는", "에서", "으로", "에게", "한테", "까지", "부터", "이랑",
	"은", "는", "이", "가", "을", "를", "에", "의", "로", "도", "만", "와", "과", "랑",
}

var fillerWords = map[string]bool{
	"어디": true, "어디야": true, "어디에": true, "어딨어": true, "있어": true, "있어요": true,
	"있나요": true, "있니": true, "있는지": true, "있는": true, "알려줘": true, "알려주세요": true,
	"찾아줘": true, "찾아주세요": true, "보여줘": true, "보여주세요": true, "문서": true,
	"파일": true, "서류": true, "좀": true, "뭐": true, "무엇": true, "어떤": true, "관련": true,
	"관련된": true, "검색": true, "해줘": true, "줘": true, "주세요": true, "내": true,
	"나의": true, "우리": true, "그": true, "저": true, "찾기": true, "위치": true,
}

// extractKeywords splits message into search terms, dropping particles,
// punctuation and filler words.
func extractKeywords(message string) []string {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		if fillerWords[f] {
			continue
		}
		f = stripParticle(f)
		if f == "" || fillerWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func stripParticle(word string) string {
	for _, p := range particles {
		if !strings.HasSuffix(word, p) {
			continue
		}
		stem := strings.TrimSuffix(word, p)
		if utf8.RuneCountInString(stem) >= 2 {
			return stem
		}
		return word
	}
	return word
}
