// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/config"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/deliver"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/feed"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/render"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/sender"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/state"
	"github.com/fluffy-critter/rss2discord/internal/util/syncx"
)

const (
	feedConcurrencyLimit = 4

	// commitEvery bounds how many confirmed deliveries can be lost to a
	// crash between state commits.
	commitEvery = 10

	// Pruning keeps the seen set bounded. The floor guards against a feed
	// that serves an empty document once wiping the whole history.
	pruneLimit = 1000
	pruneFloor = 50
)

// outcome is the result of processing one feed in one run.
type outcome struct {
	Considered int // entries present in the fetched document
	Delivered  int // entries confirmed by the webhook this run
	Duplicates int // entries already recorded as announced
	Failed     int // entries that exhausted delivery retries

	// Err is non-nil when the feed did not complete cleanly. Per-feed
	// errors never abort the other feeds of the run.
	Err error
}

// runConfig processes every feed of one configuration file. Feeds run
// concurrently; their state files and locks are independent.
func (a *announcer) runConfig(ctx context.Context, cfg *config.Config, stateDir string) error {
	disp := deliver.New(a.newSender(cfg.WebhookURL), a.slog)
	store := state.NewStore(stateDir)

	outcomes := make([]*outcome, len(cfg.Feeds))
	wg := syncx.NewLimitedWaitGroup(feedConcurrencyLimit)
	for i, fc := range cfg.Feeds {
		wg.Go(func() {
			outcomes[i] = a.runFeed(ctx, store, disp, fc)
		})
	}
	wg.Wait()

	var (
		total outcome
		errs  []error
	)
	for i, o := range outcomes {
		total.Considered += o.Considered
		total.Delivered += o.Delivered
		total.Duplicates += o.Duplicates
		total.Failed += o.Failed
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", cfg.Feeds[i].URL, o.Err))
		}
	}

	a.slog.Info("run finished",
		"feeds", len(cfg.Feeds),
		"considered", total.Considered,
		"delivered", total.Delivered,
		"duplicates", total.Duplicates,
		"failed", total.Failed,
	)

	return errors.Join(errs...)
}

// runFeed drives one feed through a full cycle: load state, fetch,
// reconcile against the seen set, deliver what's new oldest first and
// commit. Everything here is sequential; announcement order within a feed
// matters.
func (a *announcer) runFeed(ctx context.Context, store *state.Store, disp *deliver.Dispatcher, fc *config.Feed) *outcome {
	o := new(outcome)

	h, err := store.Open(fc.ID)
	if err != nil {
		o.Err = err
		return o
	}
	defer h.Close()

	st := h.State()
	now := a.now()
	st.LastRun = now

	parsed, cache, err := a.fetcher.Fetch(ctx, fc.URL, feed.Cache{
		ETag:         st.ETag,
		LastModified: st.LastModified,
	})
	if errors.Is(err, feed.ErrNotModified) {
		st.FetchCount++
		st.LastError = ""
		o.Err = a.commit(h)
		return o
	}
	if err != nil {
		st.FetchFailCount++
		st.LastError = err.Error()
		o.Err = errors.Join(err, a.commit(h))
		return o
	}
	st.FetchCount++
	st.LastError = ""
	st.ETag = cache.ETag
	st.LastModified = cache.LastModified

	meta := feed.Meta{
		Title: cmp.Or(fc.Title, parsed.Title),
		Link:  parsed.Link,
	}
	entries := make([]feed.Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, feed.Normalize(item, meta))
	}
	o.Considered = len(entries)

	// Refresh recency of entries still present in the feed so pruning
	// only evicts what the feed itself no longer carries.
	for _, e := range entries {
		st.Touch(e.Fingerprint, now)
	}

	fresh := feed.Diff(entries, st.Contains)
	o.Duplicates = o.Considered - len(fresh)

	if a.populate {
		for _, e := range fresh {
			st.MarkSeen(e.Fingerprint, now)
		}
		a.slog.Info("populated", "feed", fc.URL, "entries", len(fresh))
	} else {
		a.deliverEntries(ctx, disp, fc, fresh, h, o)
	}

	if pruned := st.Prune(now, a.maxAge(), pruneLimit, pruneFloor); pruned > 0 {
		a.slog.Debug("pruned old entries", "feed", fc.URL, "count", pruned)
	}

	o.Err = errors.Join(o.Err, a.commit(h))
	if o.Failed > 0 && o.Err == nil {
		o.Err = fmt.Errorf("%d of %d deliveries failed", o.Failed, len(fresh))
	}
	return o
}

// deliverEntries posts fresh entries oldest first. A confirmed delivery is
// recorded immediately so an interrupted run never announces it twice; a
// failed one is left unrecorded so the next run retries it.
func (a *announcer) deliverEntries(ctx context.Context, disp *deliver.Dispatcher, fc *config.Feed, fresh []feed.Entry, h *state.Handle, o *outcome) {
	st := h.State()

	var sinceCommit int
	for _, e := range fresh {
		if ctx.Err() != nil {
			o.Err = ctx.Err()
			return
		}

		msg := a.message(fc, e)

		if a.dry {
			a.slog.Info("would post entry", "feed", fc.URL, "entry", e.Link, "title", e.Title)
			continue
		}

		if err := disp.Deliver(ctx, msg); err != nil {
			// A cancelled run is not a delivery failure.
			if ctx.Err() != nil {
				o.Err = ctx.Err()
				return
			}
			o.Failed++
			a.slog.Error("posting entry failed", "feed", fc.URL, "entry", e.Link, "error", err)
			continue
		}

		st.MarkSeen(e.Fingerprint, a.now())
		o.Delivered++
		a.slog.Info("posted entry", "feed", fc.URL, "entry", e.Link, "title", e.Title)

		sinceCommit++
		if sinceCommit >= commitEvery {
			if err := a.commit(h); err != nil {
				o.Err = err
				return
			}
			sinceCommit = 0
		}
	}
}

// message renders one entry as a webhook message matching the announcement
// format: a linked title heading, optionally the entry summary with a read
// more footer, and the entry's pictures. Titles can carry HTML, so they go
// through the Markdown converter too.
func (a *announcer) message(fc *config.Feed, e feed.Entry) sender.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## [%s](%s)", render.Markdown(e.Title), e.Link)
	if fc.IncludeSummary && e.Body != "" {
		fmt.Fprintf(&sb, "\n%s\n-# [Read more...](<%s>)", e.Body, e.Link)
	}

	em := &sender.Embed{
		URL:         e.Link,
		Description: render.Truncate(sb.String(), render.MaxDescriptionLen),
		AuthorName:  render.Markdown(e.FeedTitle),
		AuthorURL:   e.FeedLink,
	}
	if fc.IncludeImage {
		em.ImageURL = e.ImageURL
		em.ThumbnailURL = e.ThumbnailURL
	}

	return sender.Message{
		Username:  fc.Username,
		AvatarURL: fc.AvatarURL,
		Embed:     em,
	}
}

// commit persists feed state unless this is a dry run.
func (a *announcer) commit(h *state.Handle) error {
	if a.dry {
		return nil
	}
	return h.Commit()
}
