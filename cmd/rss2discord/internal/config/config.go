// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package config loads feed definitions from Starlark configuration files.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Config is a fully resolved configuration: file-level defaults are already
// applied to each feed, so callers never consult the file-level values
// directly.
type Config struct {
	WebhookURL string
	StateDir   string
	Feeds      []*Feed
}

// Feed is a single feed to watch and announce.
type Feed struct {
	URL       string
	ID        string
	Title     string
	Username  string
	AvatarURL string

	IncludeSummary bool
	IncludeImage   bool
}

// starFeed is the intermediate value produced by the feed() builtin, before
// file-level defaults are applied. Nil pointers mean "inherit".
type starFeed struct {
	url       string
	id        string
	title     string
	username  string
	avatarURL string

	includeSummary *bool
	includeImage   *bool
}

func (f *starFeed) String() string        { return fmt.Sprintf("<feed url=%q>", f.url) }
func (f *starFeed) Type() string          { return "feed" }
func (f *starFeed) Freeze()               {} // immutable
func (f *starFeed) Truth() starlark.Bool  { return starlark.Bool(f.url != "") }
func (f *starFeed) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", f.Type()) }

func feedBuiltin(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	f := new(starFeed)
	var includeSummary, includeImage starlark.Value
	if err := starlark.UnpackArgs("feed", args, kwargs,
		"url", &f.url,
		"id?", &f.id,
		"title?", &f.title,
		"username?", &f.username,
		"avatar_url?", &f.avatarURL,
		"include_summary?", &includeSummary,
		"include_image?", &includeImage,
	); err != nil {
		return nil, err
	}
	if includeSummary != nil {
		v := bool(includeSummary.Truth())
		f.includeSummary = &v
	}
	if includeImage != nil {
		v := bool(includeImage.Truth())
		f.includeImage = &v
	}
	return f, nil
}

// Load reads and parses the configuration file at path.
func Load(path string, print func(string)) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, string(src), print)
}

// Parse parses Starlark configuration source. The filename is used only in
// error messages. print receives output of top-level print() calls and can
// be nil.
func Parse(filename, src string, print func(string)) (*Config, error) {
	if print == nil {
		print = func(string) {}
	}
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{
			TopLevelControl: true,
		},
		&starlark.Thread{
			Print: func(_ *starlark.Thread, msg string) { print(msg) },
		},
		filename,
		src,
		starlark.StringDict{
			"feed": starlark.NewBuiltin("feed", feedBuiltin),
		},
	)
	if err != nil {
		return nil, err
	}

	c := new(Config)

	if c.WebhookURL, err = stringGlobal(globals, "webhook"); err != nil {
		return nil, err
	}
	if c.WebhookURL == "" {
		return nil, errors.New("webhook must be defined and be a string")
	}

	var defaults Feed
	if defaults.Username, err = stringGlobal(globals, "username"); err != nil {
		return nil, err
	}
	if defaults.AvatarURL, err = stringGlobal(globals, "avatar_url"); err != nil {
		return nil, err
	}
	if c.StateDir, err = stringGlobal(globals, "state_dir"); err != nil {
		return nil, err
	}
	if defaults.IncludeSummary, err = boolGlobal(globals, "include_summary", true); err != nil {
		return nil, err
	}
	if defaults.IncludeImage, err = boolGlobal(globals, "include_image", true); err != nil {
		return nil, err
	}

	feedsList, ok := globals["feeds"].(*starlark.List)
	if !ok {
		return nil, errors.New("feeds must be defined and be a list")
	}

	seen := make(map[string]string) // feed ID to URL
	for elem := range feedsList.Elements() {
		var sf *starFeed
		switch v := elem.(type) {
		case *starFeed:
			sf = v
		case starlark.String:
			sf = &starFeed{url: string(v)}
		default:
			return nil, fmt.Errorf("feeds contains %s, want feed or string", elem.Type())
		}

		f, err := resolve(sf, &defaults)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[f.ID]; dup {
			return nil, fmt.Errorf("feeds %q and %q share ID %q", prev, f.URL, f.ID)
		}
		seen[f.ID] = f.URL
		c.Feeds = append(c.Feeds, f)
	}

	return c, nil
}

// resolve applies file-level defaults to a feed and fills in its derived ID.
func resolve(sf *starFeed, defaults *Feed) (*Feed, error) {
	u, err := url.Parse(sf.url)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid feed URL %q", sf.url)
	}

	f := &Feed{
		URL:            sf.url,
		ID:             sf.id,
		Title:          sf.title,
		Username:       sf.username,
		AvatarURL:      sf.avatarURL,
		IncludeSummary: defaults.IncludeSummary,
		IncludeImage:   defaults.IncludeImage,
	}
	if f.ID == "" {
		f.ID = DefaultID(f.URL)
	}
	if f.Username == "" {
		f.Username = defaults.Username
	}
	if f.AvatarURL == "" {
		f.AvatarURL = defaults.AvatarURL
	}
	if sf.includeSummary != nil {
		f.IncludeSummary = *sf.includeSummary
	}
	if sf.includeImage != nil {
		f.IncludeImage = *sf.includeImage
	}
	return f, nil
}

// DefaultID derives a stable feed ID from its URL.
func DefaultID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:12]
}

func stringGlobal(globals starlark.StringDict, name string) (string, error) {
	v, ok := globals[name]
	if !ok {
		return "", nil
	}
	s, ok := v.(starlark.String)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %s", name, v.Type())
	}
	return strings.TrimSpace(string(s)), nil
}

func boolGlobal(globals starlark.StringDict, name string, def bool) (bool, error) {
	v, ok := globals[name]
	if !ok {
		return def, nil
	}
	b, ok := v.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("%s must be a bool, got %s", name, v.Type())
	}
	return bool(b), nil
}
