// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package sender defines a transport-agnostic message delivery interface.
package sender

import (
	"context"
	"fmt"
	"time"
)

// Sender delivers messages to a configured destination.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a transport-agnostic outgoing message.
type Message struct {
	// Username and AvatarURL override the destination's default display
	// identity, if non-empty.
	Username  string
	AvatarURL string

	// Body is plain message text, sent when Embed is nil.
	Body string

	// Embed is an optional rich portion of the message.
	Embed *Embed

	// SuppressLinkPreview asks the destination not to unfurl links.
	SuppressLinkPreview bool
}

// Embed is the rich portion of a message: a linked, formatted card
// describing one feed entry.
type Embed struct {
	URL         string
	Description string

	// AuthorName and AuthorURL identify the feed the entry came from.
	AuthorName string
	AuthorURL  string

	// ThumbnailURL and ImageURL attach a picture extracted from the entry.
	ThumbnailURL string
	ImageURL     string
}

// RateLimitError is returned by a Sender when the destination asked us to
// slow down. RetryAfter is the wait the destination indicated, zero if it
// didn't say.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Unwrap returns the underlying transport error.
func (e *RateLimitError) Unwrap() error { return e.Err }
