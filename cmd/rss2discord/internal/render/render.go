// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package render converts feed entry HTML into Discord-flavored Markdown and
// extracts image attachments.
package render

import (
	"net/url"
	"strings"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// MaxDescriptionLen is the embed description limit imposed by Discord.
// https://discord.com/developers/docs/resources/message#embed-object-embed-limits
const MaxDescriptionLen = 4096

// Markdown converts HTML to Markdown suitable for a chat message body.
// Images are dropped from the text (they are delivered as embed attachments
// instead, see [Images]). Conversion is best-effort: on a conversion failure
// the input is returned stripped of markup as far as possible.
func Markdown(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(stripImages(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	// Discord renders tabs inconsistently, prefer spaces.
	md = strings.ReplaceAll(md, "\t", "  ")
	return strings.TrimSpace(md)
}

func stripImages(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("img").Remove()
	out, err := doc.Find("body").Html()
	if err != nil {
		return html
	}
	return out
}

// Images returns the URLs of all images referenced by html, resolved against
// baseURL (usually the entry link).
func Images(html, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	base, baseErr := url.Parse(baseURL)

	var images []string
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		if src == "" {
			return
		}
		if baseErr == nil {
			if ref, err := url.Parse(src); err == nil {
				src = base.ResolveReference(ref).String()
			}
		}
		images = append(images, src)
	})
	return images
}

// Truncate shortens s to at most limit runes, preferring to cut on a newline
// or space boundary, and marks the cut with an ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	var (
		lastNewline    = -1
		lastWhitespace = -1
	)
	cut := runes[:limit-1]
	for i, r := range cut {
		if r == '\n' {
			lastNewline = i
			continue
		}
		if unicode.IsSpace(r) {
			lastWhitespace = i
		}
	}

	splitAt := len(cut)
	switch {
	case lastNewline > 0:
		splitAt = lastNewline
	case lastWhitespace > 0:
		splitAt = lastWhitespace
	}

	return strings.TrimRightFunc(string(cut[:splitAt]), unicode.IsSpace) + "…"
}
