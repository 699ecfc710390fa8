// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/sender"
	"github.com/fluffy-critter/rss2discord/internal/request"
	"github.com/fluffy-critter/rss2discord/internal/testutil"
)

func TestSendPayload(t *testing.T) {
	t.Parallel()

	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Error(err)
		}
		if err := json.Unmarshal(b, &got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := New(Config{WebhookURL: srv.URL, HTTPClient: srv.Client()})
	err := s.Send(t.Context(), sender.Message{
		Username:  "News Bot",
		AvatarURL: "https://example.com/avatar.png",
		Embed: &sender.Embed{
			URL:          "https://example.com/post",
			Description:  "## [Hello](https://example.com/post)",
			AuthorName:   "Example Blog",
			AuthorURL:    "https://example.com",
			ThumbnailURL: "https://example.com/thumb.png",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, got.Username, "News Bot")
	testutil.AssertEqual(t, got.AvatarURL, "https://example.com/avatar.png")
	testutil.AssertEqual(t, len(got.Embeds), 1)
	testutil.AssertEqual(t, got.Embeds[0].Type, "rich")
	testutil.AssertEqual(t, got.Embeds[0].URL, "https://example.com/post")
	testutil.AssertEqual(t, got.Embeds[0].Author.Name, "Example Blog")
	testutil.AssertEqual(t, got.Embeds[0].Thumbnail.URL, "https://example.com/thumb.png")
	if got.Embeds[0].Image != nil {
		t.Fatal("image should be unset")
	}
}

func TestSendSuppressesLinkPreview(t *testing.T) {
	t.Parallel()

	s := New(Config{WebhookURL: "https://discord.example/webhook"})
	var got *payload
	s.makeRequest = func(_ context.Context, body any) error {
		got = body.(*payload)
		return nil
	}

	if err := s.Send(t.Context(), sender.Message{Body: "plain text", SuppressLinkPreview: true}); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got.Content, "plain text")
	testutil.AssertEqual(t, got.Flags, suppressEmbeds)
}

func TestSendRateLimited(t *testing.T) {
	t.Parallel()

	s := New(Config{WebhookURL: "https://discord.example/webhook"})
	s.makeRequest = func(context.Context, any) error {
		return &request.StatusError{StatusCode: http.StatusTooManyRequests, Body: []byte(`{"message":"You are being rate limited.","retry_after":1.5,"global":false}`)}
	}

	err := s.Send(t.Context(), sender.Message{Body: "hi"})
	var rle *sender.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("want RateLimitError, got %v", err)
	}
	testutil.AssertEqual(t, rle.RetryAfter, 1500*time.Millisecond)
}

func TestSendOtherStatusPassedThrough(t *testing.T) {
	t.Parallel()

	s := New(Config{WebhookURL: "https://discord.example/webhook"})
	s.makeRequest = func(context.Context, any) error {
		return &request.StatusError{StatusCode: http.StatusBadRequest, Body: []byte(`{"message":"Cannot send an empty message"}`)}
	}

	err := s.Send(t.Context(), sender.Message{})
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want StatusError, got %v", err)
	}
	var rle *sender.RateLimitError
	if errors.As(err, &rle) {
		t.Fatal("400 must not be reported as rate limiting")
	}
}

func TestSendRateLimitedHeaderFallback(t *testing.T) {
	t.Parallel()

	// No usable JSON body, so the Retry-After header decides the wait.
	s := New(Config{WebhookURL: "https://discord.example/webhook"})
	s.makeRequest = func(context.Context, any) error {
		return &request.StatusError{
			StatusCode: http.StatusTooManyRequests,
			Body:       []byte("too many requests"),
			Header:     http.Header{"Retry-After": {"3"}},
		}
	}

	err := s.Send(t.Context(), sender.Message{Body: "hi"})
	var rle *sender.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("want RateLimitError, got %v", err)
	}
	testutil.AssertEqual(t, rle.RetryAfter, 3*time.Second)
}
