// Package assistant answers natural-language questions about a tenant's
// documents. Cheap questions are answered from local data; everything else
// is streamed from the remote answer service, with a local fallback when
// that service is unavailable or unhelpful.
package assistant

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/docent/internal/dates"
	"github.com/kalambet/docent/internal/intent"
	"github.com/kalambet/docent/internal/proxy"
	"github.com/kalambet/docent/internal/retrieval"
	"github.com/kalambet/docent/internal/storage"
	"github.com/kalambet/docent/internal/streaming"
)

const (
	defaultChunkSize    = 5
	defaultPacingDelay  = 30 * time.Millisecond
	defaultHistoryLimit = 10
)

// SnapshotSource loads the documents visible within a scope.
type SnapshotSource interface {
	Snapshot(ctx context.Context, scope storage.Scope) (*storage.Snapshot, error)
}

// Reporter builds the expiry, shared-document and NFC status answers.
type Reporter interface {
	Expiry(ctx context.Context, scope storage.Scope) (string, error)
	Shared(ctx context.Context, scope storage.Scope, userID string) (string, error)
	NFC(ctx context.Context, scope storage.Scope) (string, error)
}

// Channel sends a question to the remote answer service and returns the
// streamed answer body.
type Channel interface {
	Ask(ctx context.Context, req proxy.AskRequest) (io.ReadCloser, error)
}

// Deps are the collaborators of an Assistant. Reports and Channel may be
// nil; the corresponding paths then answer locally.
type Deps struct {
	Snapshots SnapshotSource
	Reports   Reporter
	Channel   Channel
}

// Viewer identifies who is asking. Departments is the already-resolved set
// of departments the viewer may read.
type Viewer struct {
	UserID       string
	TenantID     string
	DepartmentID string
	Role         string
	Departments  []string
}

// Scope returns the visibility scope for v. Without an explicit department
// set, the viewer's own department is used.
func (v Viewer) Scope() storage.Scope {
	depts := v.Departments
	if len(depts) == 0 && v.DepartmentID != "" {
		depts = []string{v.DepartmentID}
	}
	return storage.Scope{TenantID: v.TenantID, DepartmentIDs: depts}
}

// Request is one question.
type Request struct {
	Message string
	History []proxy.Message
	Viewer  Viewer
}

// Result is the final answer. Documents is never nil.
type Result struct {
	Text      string                   `json:"text"`
	Documents []retrieval.SearchResult `json:"documents"`
}

// PartialFunc receives progressive answer text. Partial updates carry an
// empty document list; the last call carries the final text and documents.
type PartialFunc func(text string, documents []retrieval.SearchResult)

// Assistant is safe for concurrent use; each call keeps its own state.
type Assistant struct {
	deps         Deps
	classifier   *intent.Classifier
	resolver     *dates.Resolver
	now          func() time.Time
	typewriter   streaming.Typewriter
	historyLimit int
	log          *slog.Logger
}

type Option func(*Assistant)

// WithClock sets the clock used to resolve date phrases.
func WithClock(now func() time.Time) Option {
	return func(a *Assistant) { a.now = now }
}

// WithTypewriter sets the pacing of partial updates. A size of zero or a
// zero delay turns the typing effect off.
func WithTypewriter(size int, delay time.Duration) Option {
	return func(a *Assistant) { a.typewriter = streaming.Typewriter{Size: size, Delay: delay} }
}

// WithHistoryLimit caps the number of prior turns forwarded to the remote
// service.
func WithHistoryLimit(n int) Option {
	return func(a *Assistant) { a.historyLimit = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.log = l }
}

// New creates an Assistant.
func New(deps Deps, opts ...Option) *Assistant {
	a := &Assistant{
		deps:         deps,
		now:          time.Now,
		typewriter:   streaming.Typewriter{Size: defaultChunkSize, Delay: defaultPacingDelay},
		historyLimit: defaultHistoryLimit,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.resolver = dates.NewResolver(a.now)
	a.classifier = intent.NewClassifierWith(a.resolver)
	return a
}

type state string

const (
	stateClassifying state = "classifying"
	stateLocal       state = "local_answer"
	stateRemote      state = "remote_streaming"
	stateFinalizing  state = "finalizing"
	stateDone        state = "done"
)

// call is the per-request accumulator.
type call struct {
	a         *Assistant
	req       Request
	message   string
	onPartial PartialFunc
	finalSent bool

	ix       *retrieval.Index
	ixLoaded bool
}

func (c *call) enter(s state, args ...any) {
	c.a.log.Debug("assistant state", append([]any{"state", string(s), "user", c.req.Viewer.UserID}, args...)...)
}

// index loads the viewer's snapshot once per call. A store failure yields
// an empty index.
func (c *call) index(ctx context.Context) *retrieval.Index {
	if c.ixLoaded {
		return c.ix
	}
	c.ixLoaded = true
	scope := c.req.Viewer.Scope()

	var snap *storage.Snapshot
	if c.a.deps.Snapshots != nil {
		var err error
		snap, err = c.a.deps.Snapshots.Snapshot(ctx, scope)
		if err != nil {
			c.a.log.Warn("loading snapshot failed, answering from an empty index", "tenant", scope.TenantID, "error", err)
			snap = nil
		}
	}
	c.ix = retrieval.NewIndex(snap, scope)
	return c.ix
}

func (c *call) partial(text string) {
	if c.onPartial != nil {
		c.onPartial(text, []retrieval.SearchResult{})
	}
}

// finish emits the final callback once and returns the result.
func (c *call) finish(text string, docs []retrieval.SearchResult) Result {
	if docs == nil {
		docs = []retrieval.SearchResult{}
	}
	c.enter(stateFinalizing, "documents", len(docs))
	if !c.finalSent && c.onPartial != nil {
		c.onPartial(text, docs)
	}
	c.finalSent = true
	c.enter(stateDone)
	return Result{Text: text, Documents: docs}
}

// GenerateResponse answers req.Message. It never fails: transport, data and
// configuration problems are answered from local data, and an empty message
// gets HelpPrompt without any callback. Every other call ends with exactly
// one final onPartial call carrying the returned result.
func (a *Assistant) GenerateResponse(ctx context.Context, req Request, onPartial PartialFunc) (res Result) {
	c := &call{a: a, req: req, message: strings.TrimSpace(req.Message), onPartial: onPartial}
	if c.message == "" {
		return Result{Text: HelpPrompt, Documents: []retrieval.SearchResult{}}
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("assistant panicked", "panic", fmt.Sprint(r), "user", req.Viewer.UserID)
			res = Result{Text: ErrorText, Documents: []retrieval.SearchResult{}}
			if c.finalSent || c.onPartial == nil {
				return
			}
			c.finalSent = true
			// The callback itself may be what panicked.
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("partial callback panicked", "panic", fmt.Sprint(r))
				}
			}()
			c.onPartial(res.Text, res.Documents)
		}
	}()

	c.enter(stateClassifying)

	if kind, ok := fastReplies[c.message]; ok {
		c.enter(stateLocal, "path", "fast_reply")
		return c.finish(localStat(c.index(ctx), kind), nil)
	}

	in := a.classifier.Classify(c.message)
	switch in.Kind {
	case intent.KindExpiry, intent.KindShared, intent.KindNFC:
		c.enter(stateLocal, "path", in.Kind.String(), "keyword", in.Matched)
		return c.finish(a.report(ctx, in.Kind, req.Viewer), nil)
	case intent.KindDateSearch:
		if r, ok := a.resolver.Resolve(c.message); ok {
			c.enter(stateLocal, "path", in.Kind.String(), "range", r.Label)
			text, docs := formatDateResults(r, c.index(ctx).SearchByDateRange(r))
			return c.finish(text, docs)
		}
	}

	if req.Viewer.UserID == "" || a.deps.Channel == nil {
		c.enter(stateLocal, "path", "fallback", "reason", "remote unavailable")
		return c.fallback(ctx)
	}
	return c.remote(ctx)
}

func (a *Assistant) report(ctx context.Context, kind intent.Kind, v Viewer) string {
	if a.deps.Reports == nil {
		return reportUnavailable(kind)
	}
	var (
		text string
		err  error
	)
	scope := v.Scope()
	switch kind {
	case intent.KindExpiry:
		text, err = a.deps.Reports.Expiry(ctx, scope)
	case intent.KindShared:
		text, err = a.deps.Reports.Shared(ctx, scope, v.UserID)
	case intent.KindNFC:
		text, err = a.deps.Reports.NFC(ctx, scope)
	}
	if err != nil {
		a.log.Warn("building report failed", "report", kind.String(), "tenant", v.TenantID, "error", err)
		return reportUnavailable(kind)
	}
	return text
}

// LocalAnswer is the deterministic answer used when the remote service is
// not consulted or fails. It reads the viewer's snapshot and makes no
// network calls.
func (a *Assistant) LocalAnswer(ctx context.Context, req Request) Result {
	c := &call{a: a, req: req, message: strings.TrimSpace(req.Message)}
	if c.message == "" {
		return Result{Text: HelpPrompt, Documents: []retrieval.SearchResult{}}
	}
	text, docs := localAnswer(c.index(ctx), c.message)
	if docs == nil {
		docs = []retrieval.SearchResult{}
	}
	return Result{Text: text, Documents: docs}
}

func (c *call) fallback(ctx context.Context) Result {
	text, docs := localAnswer(c.index(ctx), c.message)
	return c.finish(text, docs)
}
