// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package discord implements message delivery over a Discord channel webhook.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/sender"
	"github.com/fluffy-critter/rss2discord/internal/request"
)

// suppressEmbeds is the Discord message flag that disables link unfurling.
// https://discord.com/developers/docs/resources/message#message-object-message-flags
const suppressEmbeds = 1 << 2

// Config configures a webhook sender.
type Config struct {
	// WebhookURL is the channel webhook to deliver to.
	WebhookURL string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Sender sends messages to a Discord channel webhook.
type Sender struct {
	url         string
	httpc       *http.Client
	slog        *slog.Logger
	makeRequest func(context.Context, any) error
}

// New returns a Sender delivering to the webhook in cfg.
func New(cfg Config) *Sender {
	s := &Sender{
		url:   cfg.WebhookURL,
		httpc: cfg.HTTPClient,
		slog:  cfg.Logger,
	}
	if s.httpc == nil {
		s.httpc = request.DefaultClient
	}
	if s.slog == nil {
		s.slog = slog.Default()
	}
	s.makeRequest = s.makeWebhookRequest
	return s
}

// https://discord.com/developers/docs/resources/webhook#execute-webhook
type payload struct {
	Content   string  `json:"content,omitempty"`
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []embed `json:"embeds,omitempty"`
	Flags     int     `json:"flags,omitempty"`
}

type embed struct {
	Type        string       `json:"type"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Author      *embedAuthor `json:"author,omitempty"`
	Thumbnail   *embedMedia  `json:"thumbnail,omitempty"`
	Image       *embedMedia  `json:"image,omitempty"`
}

type embedAuthor struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

type embedMedia struct {
	URL string `json:"url"`
}

// Send delivers msg to the webhook. A 429 response is reported as a
// [*sender.RateLimitError]; any other unexpected status surfaces as a
// [*request.StatusError]. Send itself never retries, that's the caller's
// policy.
func (s *Sender) Send(ctx context.Context, msg sender.Message) error {
	p := &payload{
		Content:   msg.Body,
		Username:  msg.Username,
		AvatarURL: msg.AvatarURL,
	}
	if msg.Embed != nil {
		p.Content = ""
		p.Embeds = []embed{toEmbed(msg.Embed)}
	}
	if msg.SuppressLinkPreview {
		p.Flags = suppressEmbeds
	}

	var entryURL string
	if msg.Embed != nil {
		entryURL = msg.Embed.URL
	}
	s.slog.Debug("posting webhook message", "entry", entryURL, "has_embed", msg.Embed != nil)

	err := s.makeRequest(ctx, p)
	if err == nil {
		return nil
	}
	if wait, limited := retryAfter(err); limited {
		return &sender.RateLimitError{RetryAfter: wait, Err: err}
	}
	return err
}

func toEmbed(e *sender.Embed) embed {
	out := embed{
		Type:        "rich",
		URL:         e.URL,
		Description: e.Description,
	}
	if e.AuthorName != "" || e.AuthorURL != "" {
		out.Author = &embedAuthor{Name: e.AuthorName, URL: e.AuthorURL}
	}
	if e.ThumbnailURL != "" {
		out.Thumbnail = &embedMedia{URL: e.ThumbnailURL}
	}
	if e.ImageURL != "" {
		out.Image = &embedMedia{URL: e.ImageURL}
	}
	return out
}

func (s *Sender) makeWebhookRequest(ctx context.Context, body any) error {
	_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        s.url,
		Body:       body,
		HTTPClient: s.httpc,
	})
	return err
}

// retryAfter extracts the wait duration from a 429 response. Discord reports
// it as a fractional number of seconds in the JSON body; the Retry-After
// header is the fallback when the body gives nothing.
// https://discord.com/developers/docs/topics/rate-limits
func retryAfter(err error) (time.Duration, bool) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}

	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if jerr := json.Unmarshal(statusErr.Body, &body); jerr == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second)), true
	}
	if secs, perr := strconv.ParseFloat(statusErr.Header.Get("Retry-After"), 64); perr == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, true
}

var _ sender.Sender = (*Sender)(nil)
