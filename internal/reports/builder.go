// Package reports answers the status questions that never need the remote
// service: upcoming expiries, shared documents and NFC tag coverage.
package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docent/internal/storage"
)

const (
	soonDays  = 7
	laterDays = 30

	unknownCategory = "미분류"
	unknownLocation = "위치 미지정"
)

// Store is the read side the reports need.
type Store interface {
	Snapshot(ctx context.Context, scope storage.Scope) (*storage.Snapshot, error)
	ExpiringDocuments(ctx context.Context, scope storage.Scope, from, to time.Time) ([]storage.Document, error)
	SharedDocuments(ctx context.Context, scope storage.Scope, userID string, dir storage.ShareDirection) ([]storage.SharedDocument, error)
	CategoriesByNFC(ctx context.Context, scope storage.Scope, registered bool) ([]storage.Category, error)
}

// Builder formats report answers as plain text.
type Builder struct {
	store Store
	now   func() time.Time
}

// NewBuilder returns a Builder reading from store. A nil now means
// time.Now; dates are shown in now's location.
func NewBuilder(store Store, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{store: store, now: now}
}

// Expiry lists documents that have expired or expire within 30 days,
// grouped into expired, within 7 days and within 30 days.
func (b *Builder) Expiry(ctx context.Context, scope storage.Scope) (string, error) {
	now := b.now()

	var (
		docs []storage.Document
		snap *storage.Snapshot
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = b.store.ExpiringDocuments(gCtx, scope, time.Time{}, now.AddDate(0, 0, laterDays))
		if err != nil {
			return fmt.Errorf("loading expiring documents: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snap, err = b.store.Snapshot(gCtx, scope)
		if err != nil {
			return fmt.Errorf("loading categories: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	if len(docs) == 0 {
		return fmt.Sprintf("보관 기한이 %d일 이내로 임박한 문서가 없습니다.", laterDays), nil
	}

	var expired, soon, later []string
	for _, d := range docs {
		days := daysBetween(now, *d.ExpiresAt)
		line := fmt.Sprintf("- %s (%s) %s", d.Title, categoryName(snap, d.CategoryID), dDay(days))
		switch {
		case d.ExpiresAt.Before(now):
			expired = append(expired, line)
		case days <= soonDays:
			soon = append(soon, line)
		default:
			later = append(later, line)
		}
	}

	var sb strings.Builder
	sb.WriteString("⏰ 보관 기한 현황\n")
	writeSection(&sb, "만료됨", expired)
	writeSection(&sb, fmt.Sprintf("%d일 이내", soonDays), soon)
	writeSection(&sb, fmt.Sprintf("%d일 이내", laterDays), later)
	return strings.TrimRight(sb.String(), "\n"), nil
}

// Shared lists documents shared with userID and by userID, grouped by
// category.
func (b *Builder) Shared(ctx context.Context, scope storage.Scope, userID string) (string, error) {
	var (
		withMe, byMe []storage.SharedDocument
		snap         *storage.Snapshot
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		withMe, err = b.store.SharedDocuments(gCtx, scope, userID, storage.SharedWithMe)
		if err != nil {
			return fmt.Errorf("loading documents shared with %s: %w", userID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		byMe, err = b.store.SharedDocuments(gCtx, scope, userID, storage.SharedByMe)
		if err != nil {
			return fmt.Errorf("loading documents shared by %s: %w", userID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snap, err = b.store.Snapshot(gCtx, scope)
		if err != nil {
			return fmt.Errorf("loading categories: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	if len(withMe) == 0 && len(byMe) == 0 {
		return "공유된 문서가 없습니다.", nil
	}

	loc := b.now().Location()
	var sb strings.Builder
	sb.WriteString("🤝 공유 문서 현황\n")
	b.writeShared(&sb, "나에게 공유된 문서", withMe, snap, loc, func(s storage.Share) string {
		return "공유자 " + s.SharedBy
	})
	b.writeShared(&sb, "내가 공유한 문서", byMe, snap, loc, func(s storage.Share) string {
		return "받는 사람 " + s.SharedWith
	})
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *Builder) writeShared(sb *strings.Builder, title string, docs []storage.SharedDocument, snap *storage.Snapshot, loc *time.Location, who func(storage.Share) string) {
	fmt.Fprintf(sb, "[%s] %d건\n", title, len(docs))
	if len(docs) == 0 {
		sb.WriteString("- 없음\n")
		return
	}

	var order []string
	groups := make(map[string][]string)
	for _, sd := range docs {
		name := categoryName(snap, sd.Document.CategoryID)
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], fmt.Sprintf("  - %s (%s, %s)",
			sd.Document.Title, who(sd.Share), sd.Share.SharedAt.In(loc).Format("01/02")))
	}
	for _, name := range order {
		fmt.Fprintf(sb, "▸ %s\n", name)
		for _, line := range groups[name] {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
}

// NFC reports which categories have an NFC tag linked and which do not.
func (b *Builder) NFC(ctx context.Context, scope storage.Scope) (string, error) {
	var registered, unregistered []storage.Category
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		registered, err = b.store.CategoriesByNFC(gCtx, scope, true)
		if err != nil {
			return fmt.Errorf("loading tagged categories: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		unregistered, err = b.store.CategoriesByNFC(gCtx, scope, false)
		if err != nil {
			return fmt.Errorf("loading untagged categories: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	if len(registered) == 0 && len(unregistered) == 0 {
		return "등록된 카테고리가 없습니다.", nil
	}

	var sb strings.Builder
	sb.WriteString("📡 NFC 태그 현황\n")
	fmt.Fprintf(&sb, "등록됨 %d개 / 미등록 %d개\n", len(registered), len(unregistered))
	writeSection(&sb, "등록됨", categoryLines(registered))
	writeSection(&sb, "미등록", categoryLines(unregistered))
	return strings.TrimRight(sb.String(), "\n"), nil
}

func categoryLines(cats []storage.Category) []string {
	lines := make([]string, 0, len(cats))
	for _, c := range cats {
		loc := c.StorageLocation
		if loc == "" {
			loc = unknownLocation
		}
		lines = append(lines, fmt.Sprintf("- %s · %s (문서 %d건)", c.Name, loc, c.DocumentCount))
	}
	return lines
}

// writeSection writes a titled list. Empty sections are omitted.
func writeSection(sb *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(sb, "[%s] %d건\n", title, len(lines))
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
}

func categoryName(snap *storage.Snapshot, id string) string {
	if snap != nil {
		if c, ok := snap.Category(id); ok {
			return c.Name
		}
	}
	return unknownCategory
}

// daysBetween counts calendar days from now to t in now's location.
// Negative when t is on an earlier day.
func daysBetween(now, t time.Time) int {
	y, m, d := now.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	y, m, d = t.In(now.Location()).Date()
	to := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

func dDay(days int) string {
	switch {
	case days > 0:
		return fmt.Sprintf("D-%d", days)
	case days < 0:
		return fmt.Sprintf("D+%d", -days)
	default:
		return "D-day"
	}
}
