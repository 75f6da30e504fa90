package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/kalambet/docent/internal/intent"
	"github.com/kalambet/docent/internal/proxy"
	"github.com/kalambet/docent/internal/retrieval"
	"github.com/kalambet/docent/internal/storage"
	"github.com/kalambet/docent/internal/streaming"
)

var (
	kst = time.FixedZone("KST", 9*3600)
	now = time.Date(2024, time.May, 15, 14, 30, 0, 0, kst)
)

var viewer = Viewer{UserID: "u1", TenantID: "t1", DepartmentID: "d1", Role: "member"}

func scenarioStore() *storage.MemoryStore {
	return storage.NewMemoryStore(storage.Dataset{
		Departments: []storage.Department{{ID: "d1", TenantID: "t1", Name: "총무팀"}},
		Categories:  []storage.Category{{ID: "c1", TenantID: "t1", DepartmentID: "d1", Name: "계약", StorageLocation: "A동 3층"}},
		Documents: []storage.Document{
			{ID: "1", TenantID: "t1", DepartmentID: "d1", CategoryID: "c1", Title: "임대차 계약서", UploadedAt: now},
			{ID: "2", TenantID: "t1", DepartmentID: "d1", CategoryID: "c1", Title: "인사 기록", UploadedAt: now.AddDate(0, 0, -3)},
			{ID: "x", TenantID: "t2", DepartmentID: "d9", CategoryID: "c9", Title: "타사 계약서", UploadedAt: now},
		},
	})
}

// fakeChannel answers Ask with respond and records every request.
type fakeChannel struct {
	mu      sync.Mutex
	calls   int
	last    proxy.AskRequest
	respond func(ctx context.Context) (io.ReadCloser, error)
}

func (f *fakeChannel) Ask(ctx context.Context, req proxy.AskRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()
	return f.respond(ctx)
}

func (f *fakeChannel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

func replying(text string) *fakeChannel {
	return &fakeChannel{respond: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(text)), nil
	}}
}

type update struct {
	text string
	docs []retrieval.SearchResult
}

type recorder struct {
	updates []update
}

func (r *recorder) fn(text string, docs []retrieval.SearchResult) {
	r.updates = append(r.updates, update{text: text, docs: docs})
}

func (r *recorder) last() update {
	if len(r.updates) == 0 {
		return update{}
	}
	return r.updates[len(r.updates)-1]
}

func newAssistant(store *storage.MemoryStore, ch Channel, opts ...Option) *Assistant {
	deps := Deps{Channel: ch}
	if store != nil {
		deps.Snapshots = store
	}
	opts = append([]Option{WithClock(func() time.Time { return now }), WithTypewriter(0, 0)}, opts...)
	return New(deps, opts...)
}

func ask(a *Assistant, message string) (Result, *recorder) {
	rec := &recorder{}
	res := a.GenerateResponse(context.Background(), Request{Message: message, Viewer: viewer}, rec.fn)
	return res, rec
}

func TestGenerateResponse_RoundTrip(t *testing.T) {
	ch := replying("hello\n---DOCS---\n[{\"id\":\"1\",\"title\":\"x\"}]")
	res, rec := ask(newAssistant(scenarioStore(), ch), "이번 분기 계약 진행 상황 요약해줘")

	if res.Text != "hello" {
		t.Errorf("Text = %q, want hello", res.Text)
	}
	if len(res.Documents) != 1 || res.Documents[0].ID != "1" {
		t.Errorf("Documents = %+v, want one document with id 1", res.Documents)
	}
	if ch.Calls() != 1 {
		t.Errorf("remote calls = %d, want 1", ch.Calls())
	}

	final := rec.last()
	if final.text != "hello" || len(final.docs) != 1 {
		t.Errorf("final callback = %+v", final)
	}
	withDocs := 0
	for _, u := range rec.updates {
		if len(u.docs) > 0 {
			withDocs++
		}
		if strings.Contains(u.text, "---") {
			t.Errorf("partial %q exposes the delimiter", u.text)
		}
	}
	if withDocs != 1 {
		t.Errorf("%d callbacks carried documents, want exactly the final one", withDocs)
	}
}

func TestGenerateResponse_Count42(t *testing.T) {
	var docs []storage.Document
	for i := range 42 {
		docs = append(docs, storage.Document{ID: fmt.Sprint(i), TenantID: "t1", DepartmentID: "d1", Title: fmt.Sprintf("문서 %d", i), UploadedAt: now})
	}
	store := storage.NewMemoryStore(storage.Dataset{Documents: docs})
	ch := replying("should not be used")

	res, rec := ask(newAssistant(store, ch), "전체 문서 수는?")
	if res.Text != "현재 시스템에 등록된 문서는 총 42개입니다." {
		t.Errorf("Text = %q", res.Text)
	}
	if ch.Calls() != 0 {
		t.Errorf("remote calls = %d, want 0", ch.Calls())
	}
	if len(rec.updates) != 1 || rec.updates[0].text != res.Text {
		t.Errorf("callbacks = %+v, want one final callback", rec.updates)
	}
}

func TestGenerateResponse_TodayDocuments(t *testing.T) {
	ch := replying("unused")
	res, _ := ask(newAssistant(scenarioStore(), ch), "오늘 문서")

	if !strings.Contains(res.Text, "오늘에 업로드된 문서 1건") {
		t.Errorf("Text = %q, want header with 1 document", res.Text)
	}
	if len(res.Documents) != 1 || res.Documents[0].ID != "1" {
		t.Errorf("Documents = %+v, want only the document uploaded today", res.Documents)
	}
	if !strings.Contains(res.Text, "총무팀 / 계약 · 2024-05-15") {
		t.Errorf("Text = %q, want department/category/date line", res.Text)
	}
	if ch.Calls() != 0 {
		t.Errorf("remote calls = %d, want 0", ch.Calls())
	}
}

func TestGenerateResponse_DateSearchNoHits(t *testing.T) {
	res, _ := ask(newAssistant(scenarioStore(), nil), "작년에 올린 문서")
	if res.Text != "작년에 업로드된 문서가 없습니다." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Documents == nil || len(res.Documents) != 0 {
		t.Errorf("Documents = %v, want empty non-nil", res.Documents)
	}
}

func TestGenerateResponse_DateSearchCapsAtTen(t *testing.T) {
	var docs []storage.Document
	for i := range 13 {
		docs = append(docs, storage.Document{ID: fmt.Sprint(i), TenantID: "t1", DepartmentID: "d1", Title: fmt.Sprintf("문서 %d", i), UploadedAt: now.Add(-time.Duration(i) * time.Minute)})
	}
	res, _ := ask(newAssistant(storage.NewMemoryStore(storage.Dataset{Documents: docs}), nil), "오늘 올린 문서")

	if len(res.Documents) != 10 {
		t.Errorf("Documents = %d, want 10", len(res.Documents))
	}
	if !strings.Contains(res.Text, "13건을 찾았습니다") || !strings.Contains(res.Text, "… 외 3건") {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Documents[0].ID != "0" {
		t.Errorf("first document = %q, want newest", res.Documents[0].ID)
	}
}

func TestGenerateResponse_EmptyInput(t *testing.T) {
	ch := replying("unused")
	res, rec := ask(newAssistant(scenarioStore(), ch), "   ")

	if res.Text != HelpPrompt {
		t.Errorf("Text = %q, want HelpPrompt", res.Text)
	}
	if len(rec.updates) != 0 {
		t.Errorf("callbacks = %d, want 0", len(rec.updates))
	}
	if ch.Calls() != 0 {
		t.Errorf("remote calls = %d, want 0", ch.Calls())
	}
}

func TestGenerateResponse_NetworkErrorFallsBack(t *testing.T) {
	ch := &fakeChannel{respond: func(context.Context) (io.ReadCloser, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	a := newAssistant(scenarioStore(), ch)
	req := Request{Message: "계약서 어디 있어?", Viewer: viewer}

	rec := &recorder{}
	res := a.GenerateResponse(context.Background(), req, rec.fn)
	want := a.LocalAnswer(context.Background(), req)

	if res.Text != want.Text {
		t.Errorf("Text = %q, want local answer %q", res.Text, want.Text)
	}
	if !strings.Contains(res.Text, "A동 3층") {
		t.Errorf("Text = %q, want storage location", res.Text)
	}
	found := false
	for _, u := range rec.updates {
		if u.text == want.Text {
			found = true
		}
	}
	if !found {
		t.Errorf("no callback carried the fallback text; got %+v", rec.updates)
	}
}

func TestGenerateResponse_EmptyBodyMatchesLocalAnswer(t *testing.T) {
	for _, body := range []string{"", "  \n\t "} {
		body := &trackedBody{Reader: strings.NewReader(body)}
		ch := &fakeChannel{respond: func(context.Context) (io.ReadCloser, error) { return body, nil }}
		a := newAssistant(scenarioStore(), ch)
		req := Request{Message: "임대차 계약 조건", Viewer: viewer}

		res := a.GenerateResponse(context.Background(), req, nil)
		want := a.LocalAnswer(context.Background(), req)
		if res.Text != want.Text || len(res.Documents) != len(want.Documents) {
			t.Errorf("result = %+v, want local answer %+v", res, want)
		}
		if !body.closed {
			t.Error("remote body not closed")
		}
	}
}

func TestGenerateResponse_StatusErrorFallsBack(t *testing.T) {
	ch := &fakeChannel{respond: func(context.Context) (io.ReadCloser, error) {
		return nil, &proxy.StatusError{Code: 503}
	}}
	a := newAssistant(scenarioStore(), ch)
	res, _ := ask(a, "부서별로 몇 개씩 있어?")
	if res.Text != a.LocalAnswer(context.Background(), Request{Message: "부서별로 몇 개씩 있어?", Viewer: viewer}).Text {
		t.Errorf("Text = %q, want local answer", res.Text)
	}
}

func TestGenerateResponse_MidStreamErrorDiscardsRemoteText(t *testing.T) {
	ch := &fakeChannel{respond: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(io.MultiReader(strings.NewReader("부분 답변"), iotest.ErrReader(errors.New("connection reset")))), nil
	}}
	a := newAssistant(scenarioStore(), ch)
	res, rec := ask(a, "계약서 어디 있어?")

	if strings.Contains(res.Text, "부분 답변") {
		t.Errorf("Text = %q, want the local answer without remote text", res.Text)
	}
	if rec.last().text != res.Text {
		t.Errorf("final callback = %q, want %q", rec.last().text, res.Text)
	}
}

// cancellingReader cancels the call while the body is being read.
type cancellingReader struct {
	cancel context.CancelFunc
	sent   bool
}

func (r *cancellingReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, io.EOF
	}
	r.sent = true
	r.cancel()
	return copy(p, "취소될 답변"), nil
}

func TestGenerateResponse_CancelledStreamFallsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	body := &trackedBody{Reader: &cancellingReader{cancel: cancel}}
	ch := &fakeChannel{respond: func(context.Context) (io.ReadCloser, error) { return body, nil }}

	a := newAssistant(scenarioStore(), ch)
	res := a.GenerateResponse(ctx, Request{Message: "계약서 어디 있어?", Viewer: viewer}, nil)
	if strings.Contains(res.Text, "취소될 답변") {
		t.Errorf("Text = %q, want fallback after cancellation", res.Text)
	}
	if !body.closed {
		t.Error("remote body not closed after cancellation")
	}
}

func TestGenerateResponse_MalformedSuffixKeepsProse(t *testing.T) {
	res, _ := ask(newAssistant(scenarioStore(), replying("답변입니다.\n---DOCS---\nnot json")), "요약해줘")
	if res.Text != "답변입니다." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Documents == nil || len(res.Documents) != 0 {
		t.Errorf("Documents = %v, want empty", res.Documents)
	}
}

func TestGenerateResponse_RemoteDocumentsFilteredToViewer(t *testing.T) {
	ch := replying("답변\n---DOCS---\n[{\"id\":\"x\",\"title\":\"타사 계약서\"},{\"id\":\"2\",\"title\":\"인사 기록\"}]")
	res, _ := ask(newAssistant(scenarioStore(), ch), "요약해줘")
	if len(res.Documents) != 1 || res.Documents[0].ID != "2" {
		t.Errorf("Documents = %+v, want only the visible document", res.Documents)
	}
}

func TestGenerateResponse_NoUserSkipsRemote(t *testing.T) {
	ch := replying("unused")
	a := newAssistant(scenarioStore(), ch)
	anon := viewer
	anon.UserID = ""
	res := a.GenerateResponse(context.Background(), Request{Message: "임대차", Viewer: anon}, nil)
	if ch.Calls() != 0 {
		t.Errorf("remote calls = %d, want 0", ch.Calls())
	}
	if !strings.Contains(res.Text, "임대차 계약서") {
		t.Errorf("Text = %q, want keyword search result", res.Text)
	}
}

func TestGenerateResponse_NotConfiguredFallsBack(t *testing.T) {
	a := newAssistant(scenarioStore(), proxy.NewClient("", ""))
	res, _ := ask(a, "카테고리별로 알려줘")
	if !strings.Contains(res.Text, "📁 카테고리 목록") {
		t.Errorf("Text = %q, want category listing", res.Text)
	}
}

func TestGenerateResponse_PartialsGrowAndHideDelimiter(t *testing.T) {
	ch := replying("가나다라마바사아자차카타\n---DOCS---\n[]")
	a := newAssistant(scenarioStore(), ch, WithTypewriter(5, 0))
	res, rec := ask(a, "요약해줘")

	if len(rec.updates) < 3 {
		t.Fatalf("updates = %d, want several partials and a final", len(rec.updates))
	}
	partials := rec.updates[:len(rec.updates)-1]
	if partials[0].text != "가나다라마" {
		t.Errorf("first partial = %q, want five runes", partials[0].text)
	}
	for i := 1; i < len(partials); i++ {
		if !strings.HasPrefix(partials[i].text, partials[i-1].text) || partials[i].text == partials[i-1].text {
			t.Errorf("partial %d %q does not grow from %q", i, partials[i].text, partials[i-1].text)
		}
	}
	for _, p := range partials {
		if len(p.docs) != 0 {
			t.Errorf("partial carried documents: %+v", p)
		}
		if strings.Contains(p.text, strings.TrimSpace(streaming.Delimiter)) {
			t.Errorf("partial %q exposes the delimiter", p.text)
		}
	}
	if res.Text != "가나다라마바사아자차카타" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestGenerateResponse_PacesByteSizedStream(t *testing.T) {
	const delay = 40 * time.Millisecond
	ch := &fakeChannel{respond: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(iotest.OneByteReader(strings.NewReader("abcdefghij"))), nil
	}}
	a := newAssistant(scenarioStore(), ch, WithTypewriter(5, delay))

	var (
		texts []string
		times []time.Time
	)
	res := a.GenerateResponse(context.Background(), Request{Message: "요약해줘", Viewer: viewer},
		func(text string, _ []retrieval.SearchResult) {
			texts = append(texts, text)
			times = append(times, time.Now())
		})

	want := []string{"abcde", "abcdefghij", "abcdefghij"}
	if len(texts) != len(want) {
		t.Fatalf("callbacks = %q, want two five-rune partials and a final", texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("callback %d = %q, want %q", i, texts[i], want[i])
		}
	}
	if gap := times[1].Sub(times[0]); gap < delay {
		t.Errorf("gap between partials = %v, want at least %v", gap, delay)
	}
	if res.Text != "abcdefghij" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestGenerateResponse_DocumentListIsNotPaced(t *testing.T) {
	ch := replying("abc\n---DOCS---\n" + strings.Repeat(" ", 200) + "[]")
	a := newAssistant(scenarioStore(), ch, WithTypewriter(1, 20*time.Millisecond))

	start := time.Now()
	res, _ := ask(a, "요약해줘")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("elapsed = %v, the document list should not be typed out", elapsed)
	}
	if res.Text != "abc" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestGenerateResponse_ForwardsTrimmedHistory(t *testing.T) {
	ch := replying("ok")
	a := newAssistant(scenarioStore(), ch, WithHistoryLimit(2))
	history := []proxy.Message{
		{Role: proxy.RoleUser, Content: "첫 질문"},
		{Role: proxy.RoleAssistant, Content: "첫 답변"},
		{Role: proxy.RoleUser, Content: "둘째 질문"},
	}
	a.GenerateResponse(context.Background(), Request{Message: "  요약해줘  ", History: history, Viewer: viewer}, nil)

	if ch.last.Message != "요약해줘" || ch.last.UserID != "u1" {
		t.Errorf("request = %+v", ch.last)
	}
	var contents []string
	for _, m := range ch.last.History {
		contents = append(contents, m.Content)
	}
	if !slices.Equal(contents, []string{"첫 답변", "둘째 질문"}) {
		t.Errorf("history = %v, want the last two turns", contents)
	}
}

type fakeReporter struct {
	expiry func() (string, error)
	scope  storage.Scope
	userID string
}

func (f *fakeReporter) Expiry(_ context.Context, s storage.Scope) (string, error) {
	f.scope = s
	return f.expiry()
}

func (f *fakeReporter) Shared(_ context.Context, s storage.Scope, userID string) (string, error) {
	f.scope, f.userID = s, userID
	return "shared report", nil
}

func (f *fakeReporter) NFC(context.Context, storage.Scope) (string, error) {
	return "nfc report", nil
}

func TestGenerateResponse_Reports(t *testing.T) {
	rep := &fakeReporter{expiry: func() (string, error) { return "expiry report", nil }}
	ch := replying("unused")
	a := New(Deps{Snapshots: scenarioStore(), Reports: rep, Channel: ch}, WithTypewriter(0, 0))

	tests := map[string]string{
		"만료 임박 문서 알려줘": "expiry report",
		"나한테 공유된 문서":   "shared report",
		"NFC 태그 현황":    "nfc report",
	}
	for msg, want := range tests {
		res, _ := ask(a, msg)
		if res.Text != want {
			t.Errorf("%q: Text = %q, want %q", msg, res.Text, want)
		}
		if len(res.Documents) != 0 {
			t.Errorf("%q: Documents = %+v, want empty", msg, res.Documents)
		}
	}
	if ch.Calls() != 0 {
		t.Errorf("remote calls = %d, want 0", ch.Calls())
	}
	if rep.userID != "u1" || rep.scope.TenantID != "t1" || !slices.Equal(rep.scope.DepartmentIDs, []string{"d1"}) {
		t.Errorf("reporter got scope %+v user %q", rep.scope, rep.userID)
	}
}

func TestGenerateResponse_ReportErrorAnswersPolitely(t *testing.T) {
	rep := &fakeReporter{expiry: func() (string, error) { return "", errors.New("database is locked") }}
	a := New(Deps{Snapshots: scenarioStore(), Reports: rep}, WithTypewriter(0, 0))
	res, _ := ask(a, "만기 문서")
	if res.Text != reportUnavailable(intent.KindExpiry) {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestGenerateResponse_PanicBecomesErrorText(t *testing.T) {
	rep := &fakeReporter{expiry: func() (string, error) { panic("nil map") }}
	a := New(Deps{Snapshots: scenarioStore(), Reports: rep}, WithTypewriter(0, 0))
	res, rec := ask(a, "만료 예정")
	if res.Text != ErrorText {
		t.Errorf("Text = %q, want ErrorText", res.Text)
	}
	if len(rec.updates) != 1 || rec.updates[0].text != ErrorText {
		t.Errorf("callbacks = %+v, want one ErrorText callback", rec.updates)
	}
}

type brokenSnapshots struct{}

func (brokenSnapshots) Snapshot(context.Context, storage.Scope) (*storage.Snapshot, error) {
	return nil, errors.New("store offline")
}

func TestGenerateResponse_SnapshotErrorUsesEmptyIndex(t *testing.T) {
	a := New(Deps{Snapshots: brokenSnapshots{}}, WithTypewriter(0, 0))
	res, _ := ask(a, "전체 문서 수는?")
	if res.Text != "현재 시스템에 등록된 문서는 총 0개입니다." {
		t.Errorf("Text = %q", res.Text)
	}
}
