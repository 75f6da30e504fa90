package intent

import (
	"strings"

	"github.com/kalambet/docent/internal/dates"
)

// Kind identifies what a chat message is asking for.
type Kind int

const (
	// KindNone means no rule matched; the caller falls through to keyword,
	// location and statistics handling.
	KindNone Kind = iota
	KindExpiry
	KindShared
	KindNFC
	KindDateSearch
)

func (k Kind) String() string {
	switch k {
	case KindExpiry:
		return "expiry"
	case KindShared:
		return "shared"
	case KindNFC:
		return "nfc"
	case KindDateSearch:
		return "date_search"
	default:
		return "none"
	}
}

// Intent is the classification result for one message.
type Intent struct {
	Kind Kind
	// Matched is the keyword that selected the rule, for logging.
	Matched string
}

var (
	expiryKeywords = []string{"만기", "만료", "임박", "보관 기한", "보관기한", "유효기간"}
	sharedKeywords = []string{"공유된", "공유받은", "공유한", "공유 문서", "공유"}
	nfcKeywords    = []string{"nfc", "엔에프씨", "태그 등록", "태그 현황", "태그된", "태그 안 된"}

	dateKeywords     = []string{"언제", "날짜", "기간", "최근"}
	documentKeywords = []string{"문서", "올린", "업로드", "등록"}
)

// rule pairs a matcher with the intent it selects.
type rule struct {
	kind  Kind
	match func(lower string) (string, bool)
}

// Classifier selects an intent by evaluating keyword rules in a fixed order.
// There is no scoring: the first matching rule wins.
type Classifier struct {
	rules []rule
}

// NewClassifier returns a Classifier with the standard rule order:
// expiry, shared, NFC, date-scoped search. Date phrases are checked
// against the current time.
func NewClassifier() *Classifier {
	return NewClassifierWith(dates.NewResolver(nil))
}

// NewClassifierWith is NewClassifier with date phrases checked by r, so
// that calendar validity follows r's clock.
func NewClassifierWith(r *dates.Resolver) *Classifier {
	return &Classifier{rules: []rule{
		{kind: KindExpiry, match: containsAny(expiryKeywords)},
		{kind: KindShared, match: containsAny(sharedKeywords)},
		{kind: KindNFC, match: containsAny(nfcKeywords)},
		{kind: KindDateSearch, match: matchDateSearch(r)},
	}}
}

var defaultClassifier = NewClassifier()

// Classify classifies text with the default rule set.
func Classify(text string) Intent {
	return defaultClassifier.Classify(text)
}

// Classify returns the intent of the first rule that matches text, or
// KindNone. It has no side effects.
func (c *Classifier) Classify(text string) Intent {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		if kw, ok := r.match(lower); ok {
			return Intent{Kind: r.kind, Matched: kw}
		}
	}
	return Intent{Kind: KindNone}
}

func containsAny(keywords []string) func(string) (string, bool) {
	return func(lower string) (string, bool) {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return kw, true
			}
		}
		return "", false
	}
}

// matchDateSearch requires both a date cue and a document-action word. A
// bare date phrase is not enough.
func matchDateSearch(r *dates.Resolver) func(string) (string, bool) {
	return func(lower string) (string, bool) {
		_, hasDateWord := containsAny(dateKeywords)(lower)
		if !hasDateWord && !r.HasExpression(lower) {
			return "", false
		}
		return containsAny(documentKeywords)(lower)
	}
}
