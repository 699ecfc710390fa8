// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Rss2discord watches syndication feeds and announces new entries to a
Discord channel webhook.

# Usage

	$ rss2discord [flags...] config.star...

Each configuration file describes one webhook and the feeds announced to
it. On every run rss2discord fetches each feed, compares the entries
against its per-feed state and posts the entries it has not announced
before, oldest first. Entries are recorded as announced only after
Discord confirms the delivery, so a crashed or interrupted run never
loses an announcement; it posts it on the next run instead.

# Configuration

Configuration files are written in Starlark, for example:

	webhook = "https://discord.com/api/webhooks/123/token"
	username = "Feed Bot"

	feeds = [
	    feed(
	        url = "https://example.com/feed.xml",
	        title = "Example Blog",
	    ),
	    # A bare URL uses the file-level defaults.
	    "https://blog.example.org/atom.xml",
	]

File-level globals: webhook (required), username, avatar_url,
include_summary (default True), include_image (default True) and
state_dir. Each feed() accepts url, id, title, username, avatar_url,
include_summary and include_image; per-feed values override the
globals. The feed id names the state files and defaults to a hash of
the URL, so renaming a feed's URL starts it from scratch unless you
pin its id.

# State

State lives in one JSON file per feed under the state directory,
alongside a lock file that prevents two runs from racing on the same
feed. The directory is chosen from the -state-dir flag, the state_dir
global, $STATE_DIRECTORY, $XDG_STATE_HOME/rss2discord or
~/.local/state/rss2discord, in that order. State files are replaced
atomically and a few timestamped backups are kept next to them.

Old entries are pruned from state after -max-age days (default 30,
0 keeps them forever).

# Flags

Use -populate to mark everything currently in the feeds as announced
without posting, for example when pointing rss2discord at an
established feed for the first time. Use -dry to log what would be
posted without posting or saving anything.
*/
package main

import (
	_ "embed"

	"github.com/fluffy-critter/rss2discord/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
