package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/kalambet/docent/internal/proxy"
	"github.com/kalambet/docent/internal/retrieval"
	"github.com/kalambet/docent/internal/streaming"
)

// remote streams the answer from the remote service. Any failure before
// the stream completes is answered by the local fallback instead.
func (c *call) remote(ctx context.Context) Result {
	a := c.a
	c.enter(stateRemote)

	body, err := a.deps.Channel.Ask(ctx, proxy.AskRequest{
		Message: c.message,
		UserID:  c.req.Viewer.UserID,
		History: proxy.TrimHistory(c.req.History, a.historyLimit),
	})
	if err != nil {
		if errors.Is(err, proxy.ErrNotConfigured) {
			a.log.Debug("remote answer service not configured, answering locally")
		} else {
			a.log.Warn("remote answer request failed, answering locally", "user", c.req.Viewer.UserID, "error", err)
		}
		return c.fallback(ctx)
	}
	defer body.Close()

	var (
		raw, typed strings.Builder
		shown      string
	)
	pacer := a.typewriter.Pacer()
	defer pacer.Stop()
	show := func(piece string) {
		typed.WriteString(piece)
		v := streaming.Visible(typed.String())
		if v == shown || strings.TrimSpace(v) == "" {
			return
		}
		shown = v
		c.partial(v)
	}
	proseDone := false
	err = streaming.Pump(ctx, body, func(chunk string) error {
		before := raw.Len()
		raw.WriteString(chunk)
		if proseDone {
			return nil
		}
		i := strings.Index(raw.String(), streaming.Delimiter)
		if i < 0 {
			return pacer.Push(ctx, chunk, show)
		}
		// Only the prose is paced; the document list is never shown.
		proseDone = true
		if i > before {
			if err := pacer.Push(ctx, raw.String()[before:i], show); err != nil {
				return err
			}
		}
		return pacer.Flush(ctx, show)
	})
	if err == nil && !proseDone {
		err = pacer.Flush(ctx, show)
	}
	if err != nil {
		a.log.Warn("reading remote answer failed, answering locally", "user", c.req.Viewer.UserID, "error", err)
		return c.fallback(ctx)
	}

	full := raw.String()
	if strings.TrimSpace(full) == "" {
		a.log.Warn("remote answer was empty, answering locally", "user", c.req.Viewer.UserID)
		return c.fallback(ctx)
	}

	prose, suffix, ok := streaming.Split(full)
	docs := []retrieval.SearchResult{}
	if ok && suffix != "" {
		parsed, err := retrieval.ParseResults([]byte(suffix))
		if err != nil {
			a.log.Warn("discarding malformed document list", "user", c.req.Viewer.UserID, "error", err)
		} else {
			docs = parsed
		}
	}
	if a.deps.Snapshots != nil {
		docs = c.index(ctx).Visible(docs)
	}
	return c.finish(prose, docs)
}
