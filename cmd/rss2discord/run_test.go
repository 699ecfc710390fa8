// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/config"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/feed"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/sender"
	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/state"
	"github.com/fluffy-critter/rss2discord/internal/request"
	"github.com/fluffy-critter/rss2discord/internal/testutil"
)

func TestRunFeedFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	good := serveFeed(t, testFeed)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	cfg := fmt.Sprintf(`
webhook = "https://discord.example.com/api/webhooks/1/abc"
feeds = [
    feed(url = %q, id = "bad"),
    feed(url = %q, id = "good"),
]
`, bad.URL, good.URL)
	cfgPath := filepath.Join(t.TempDir(), "config.star")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	rs := newRecordingSender(nil)
	a, stateDir := testAnnouncer(t, rs)

	err := a.Run(testContext(t, cfgPath))
	if err == nil {
		t.Fatal("want error for the failing feed")
	}

	// The healthy feed still delivered and committed.
	testutil.AssertEqual(t, len(rs.delivered()), 3)
	testutil.AssertContains(t, rs.delivered(), "https://example.com/2")
	if _, err := os.Stat(filepath.Join(stateDir, "good.json")); err != nil {
		t.Fatalf("healthy feed state not written: %v", err)
	}

	// The failing feed recorded its failure.
	b, err := os.ReadFile(filepath.Join(stateDir, "bad.json"))
	if err != nil {
		t.Fatalf("failing feed state not written: %v", err)
	}
	st := testutil.UnmarshalJSON[state.FeedState](t, b)
	testutil.AssertEqual(t, st.FetchFailCount, int64(1))
	if st.LastError == "" {
		t.Error("want LastError to record the fetch failure")
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	srv := serveFeed(t, testFeed)
	rs := newRecordingSender(nil)
	a, stateDir := testAnnouncer(t, rs)
	cfgPath := writeConfig(t, srv.URL)

	// Another process holds the feed lock.
	h, err := state.NewStore(stateDir).Open("testfeed")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	err = a.Run(testContext(t, cfgPath))
	if !errors.Is(err, state.ErrLocked) {
		t.Fatalf("want ErrLocked, got %v", err)
	}
	testutil.AssertEqual(t, len(rs.delivered()), 0)
}

func TestRunFailedDeliveryRetriedNextRun(t *testing.T) {
	t.Parallel()

	srv := serveFeed(t, testFeed)
	rs := newRecordingSender(map[string]error{
		"https://example.com/2": &request.StatusError{StatusCode: http.StatusBadRequest},
	})
	a, _ := testAnnouncer(t, rs)
	cfgPath := writeConfig(t, srv.URL)

	ctx := testContext(t, cfgPath)
	err := a.Run(ctx)
	if err == nil {
		t.Fatal("want error for the failed delivery")
	}
	// The failure did not block the entries after it, and the failed
	// entry was not delivered.
	testutil.AssertNotContains(t, rs.delivered(), "https://example.com/2")
	testutil.AssertEqual(t, rs.delivered(), []string{
		"https://example.com/1",
		"https://example.com/3",
	})

	// The failed entry was not recorded, so the next run retries only it.
	rs.allow("https://example.com/2")
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rs.delivered(), []string{
		"https://example.com/1",
		"https://example.com/3",
		"https://example.com/2",
	})
}

func TestRunConditionalFetch(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testFeed)
	}))
	t.Cleanup(srv.Close)

	rs := newRecordingSender(nil)
	a, _ := testAnnouncer(t, rs)
	cfgPath := writeConfig(t, srv.URL)

	ctx := testContext(t, cfgPath)
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Run(ctx); err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, requests, 2)
	testutil.AssertEqual(t, len(rs.delivered()), 3)
}

func TestResolveStateDir(t *testing.T) {
	t.Parallel()

	srv := serveFeed(t, testFeed)

	t.Run("config state_dir", func(t *testing.T) {
		t.Parallel()

		stateDir := t.TempDir()
		cfg := fmt.Sprintf(`
webhook = "https://discord.example.com/api/webhooks/1/abc"
state_dir = %q
feeds = [feed(url = %q, id = "testfeed")]
`, stateDir, srv.URL)
		cfgPath := filepath.Join(t.TempDir(), "config.star")
		if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
			t.Fatal(err)
		}

		rs := newRecordingSender(nil)
		a, _ := testAnnouncer(t, rs)
		a.stateDir = "" // let the config decide

		if err := a.Run(testContext(t, cfgPath)); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(filepath.Join(stateDir, "testfeed.json")); err != nil {
			t.Fatalf("state not written to config state_dir: %v", err)
		}
	})

	t.Run("flag wins", func(t *testing.T) {
		t.Parallel()

		flagDir := t.TempDir()
		rs := newRecordingSender(nil)
		a, _ := testAnnouncer(t, rs)
		a.stateDir = flagDir
		cfgPath := writeConfig(t, srv.URL)

		if err := a.Run(testContext(t, cfgPath)); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(filepath.Join(flagDir, "testfeed.json")); err != nil {
			t.Fatalf("state not written to -state-dir: %v", err)
		}
	})
}

func TestMessageRendersHTMLTitle(t *testing.T) {
	t.Parallel()

	a, _ := testAnnouncer(t, newRecordingSender(nil))
	e := feed.Entry{
		Title:     "Hello <em>world</em>",
		Link:      "https://example.com/1",
		FeedTitle: "A <b>bold</b> blog",
	}

	msg := a.message(&config.Feed{}, e)
	desc := msg.Embed.Description
	if strings.Contains(desc, "<em>") {
		t.Fatalf("title HTML leaked into description: %q", desc)
	}
	if !strings.Contains(desc, "*world*") {
		t.Fatalf("emphasis not rendered as markdown: %q", desc)
	}
	if strings.Contains(msg.Embed.AuthorName, "<b>") {
		t.Fatalf("feed title HTML leaked into author: %q", msg.Embed.AuthorName)
	}
}

func TestMessageImages(t *testing.T) {
	t.Parallel()

	a, _ := testAnnouncer(t, newRecordingSender(nil))
	e := feed.Entry{
		Title:        "Shot",
		Link:         "https://example.com/1",
		ImageURL:     "https://example.com/full.jpg",
		ThumbnailURL: "https://example.com/small.jpg",
	}

	msg := a.message(&config.Feed{IncludeImage: true}, e)
	testutil.AssertEqual(t, msg.Embed.ImageURL, "https://example.com/full.jpg")
	testutil.AssertEqual(t, msg.Embed.ThumbnailURL, "https://example.com/small.jpg")

	msg = a.message(&config.Feed{IncludeImage: false}, e)
	testutil.AssertEqual(t, msg.Embed.ImageURL, "")
	testutil.AssertEqual(t, msg.Embed.ThumbnailURL, "")
}

// interruptingSender delivers one message, then cancels the run once.
type interruptingSender struct {
	inner  sender.Sender
	cancel context.CancelFunc
	sent   int
}

func (s *interruptingSender) Send(ctx context.Context, msg sender.Message) error {
	if s.sent == 1 && s.cancel != nil {
		s.cancel()
		s.cancel = nil
		return ctx.Err()
	}
	s.sent++
	return s.inner.Send(ctx, msg)
}

func TestRunCancelledKeepsProgress(t *testing.T) {
	t.Parallel()

	srv := serveFeed(t, testFeed)
	rs := newRecordingSender(nil)
	a, _ := testAnnouncer(t, rs)
	cfgPath := writeConfig(t, srv.URL)

	ctx, cancel := context.WithCancel(testContext(t, cfgPath))
	defer cancel()
	is := &interruptingSender{inner: rs, cancel: cancel}
	a.newSender = func(string) sender.Sender { return is }

	err := a.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	// Cancellation is not a delivery failure.
	if strings.Contains(err.Error(), "deliveries failed") {
		t.Fatalf("cancelled entries counted as failed: %v", err)
	}
	testutil.AssertEqual(t, rs.delivered(), []string{"https://example.com/1"})

	// What was delivered before the cancellation stays committed, so the
	// next run picks up exactly where this one stopped.
	if err := a.Run(testContext(t, cfgPath)); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rs.delivered(), []string{
		"https://example.com/1",
		"https://example.com/2",
		"https://example.com/3",
	})
}
