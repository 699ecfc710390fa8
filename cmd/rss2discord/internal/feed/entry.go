// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/fluffy-critter/rss2discord/cmd/rss2discord/internal/render"

	"github.com/mmcdole/gofeed"
)

// Entry is one normalized feed item. It is constructed once per fetch and
// never mutated afterwards.
type Entry struct {
	// Fingerprint identifies the entry across fetches, see [Fingerprint].
	Fingerprint string

	Title     string
	Link      string
	Published *time.Time

	// Body is the entry content rendered as Markdown.
	Body string
	// Images are image URLs extracted from the entry content, resolved
	// against Link.
	Images []string

	// ImageURL and ThumbnailURL are the pictures to attach to the
	// announcement, see [Normalize] for how they are chosen.
	ImageURL     string
	ThumbnailURL string

	// FeedTitle and FeedLink describe the feed the entry came from.
	FeedTitle string
	FeedLink  string
}

// Fingerprint derives a stable identity for a feed item: the feed's own
// entry ID when it has one, otherwise a hash of the stable fields. Repeated
// fetches of the same entry always produce the same fingerprint.
func Fingerprint(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	var published string
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(item.Link + "\x00" + item.Title + "\x00" + published))
	return hex.EncodeToString(sum[:])
}

// Meta describes the feed an entry belongs to.
type Meta struct {
	Title string
	Link  string
}

// Normalize converts a raw feed item into an Entry. It is total: items with
// missing fields get zero values, a malformed item never aborts the feed.
func Normalize(item *gofeed.Item, meta Meta) Entry {
	e := Entry{
		Fingerprint: Fingerprint(item),
		Title:       item.Title,
		Link:        item.Link,
		FeedTitle:   meta.Title,
		FeedLink:    meta.Link,
	}

	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		e.Published = &t
	} else if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		e.Published = &t
	}

	// Text prefers the summary, images prefer the full content. This
	// asymmetry keeps message bodies short while still finding a picture
	// when the summary has none.
	if item.Description != "" {
		e.Body = render.Markdown(item.Description)
	} else {
		e.Body = render.Markdown(item.Content)
	}
	if item.Content != "" {
		e.Images = render.Images(item.Content, item.Link)
	} else {
		e.Images = render.Images(item.Description, item.Link)
	}

	// Attachment pictures: media:content elements declare their purpose
	// through the medium attribute, the first image and thumbnail win. The
	// first extracted <img> serves as the thumbnail only when the entry
	// carries no media:content at all.
	if media, ok := item.Extensions["media"]["content"]; ok {
		for _, m := range media {
			url := m.Attrs["url"]
			if url == "" {
				continue
			}
			switch m.Attrs["medium"] {
			case "image":
				if e.ImageURL == "" {
					e.ImageURL = url
				}
			case "thumbnail":
				if e.ThumbnailURL == "" {
					e.ThumbnailURL = url
				}
			}
		}
	} else if len(e.Images) > 0 {
		e.ThumbnailURL = e.Images[0]
	}

	return e
}
