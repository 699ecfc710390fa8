// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package state persists, per feed, the set of entries already delivered.
//
// Each feed gets one JSON record on disk, replaced atomically on commit, and
// an advisory lock held for the whole run so two concurrent runs can't
// interleave their read-modify-write cycles.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fluffy-critter/rss2discord/internal/atomicio"
	"github.com/fluffy-critter/rss2discord/internal/filelock"
)

var (
	// ErrCorrupt indicates the persisted record exists but cannot be parsed.
	// Callers must not treat this as "nothing seen": that would re-announce
	// every entry of the feed.
	ErrCorrupt = errors.New("state corrupt")

	// ErrLocked indicates another run currently owns this feed.
	ErrLocked = errors.New("feed locked by another run")
)

// FeedState is the persisted per-feed record.
type FeedState struct {
	// Seen maps delivered entry fingerprints to the time they were last
	// observed, which drives pruning. It only grows by confirmed deliveries
	// and only shrinks by Prune.
	Seen map[string]time.Time `json:"seen,omitempty"`

	// ETag and LastModified are conditional-fetch validators from the last
	// successful fetch.
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`

	LastRun        time.Time `json:"last_run"`
	FetchCount     int64     `json:"fetch_count"`
	FetchFailCount int64     `json:"fetch_fail_count"`
	LastError      string    `json:"last_error,omitempty"`
}

// Contains reports whether fingerprint was already delivered.
func (s *FeedState) Contains(fingerprint string) bool {
	_, ok := s.Seen[fingerprint]
	return ok
}

// MarkSeen records fingerprint as delivered at now.
func (s *FeedState) MarkSeen(fingerprint string, now time.Time) {
	if s.Seen == nil {
		s.Seen = make(map[string]time.Time)
	}
	s.Seen[fingerprint] = now
}

// Touch refreshes the recency marker of an already-seen fingerprint so
// entries still present in the feed aren't pruned while the feed keeps
// republishing them.
func (s *FeedState) Touch(fingerprint string, now time.Time) {
	if _, ok := s.Seen[fingerprint]; ok {
		s.Seen[fingerprint] = now
	}
}

// Prune drops seen fingerprints that are older than maxAge (if maxAge > 0)
// or that exceed limit, oldest first. It never shrinks the set below floor,
// which protects feeds with erratic timestamps from losing their whole
// dedup history. It returns the number of entries dropped.
func (s *FeedState) Prune(now time.Time, maxAge time.Duration, limit, floor int) int {
	if limit < floor {
		limit = floor
	}

	type seenEntry struct {
		fp string
		at time.Time
	}
	entries := make([]seenEntry, 0, len(s.Seen))
	for fp, at := range s.Seen {
		entries = append(entries, seenEntry{fp, at})
	}
	slices.SortFunc(entries, func(a, b seenEntry) int { return a.at.Compare(b.at) })

	var pruned int
	drop := func(e seenEntry) {
		delete(s.Seen, e.fp)
		pruned++
	}

	for _, e := range entries {
		if len(s.Seen) <= floor {
			break
		}
		if maxAge > 0 && now.Sub(e.at) > maxAge {
			drop(e)
			continue
		}
		if len(s.Seen) > limit {
			drop(e)
		}
	}
	return pruned
}

// Store keeps one durable record per feed ID inside a directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. The directory is created on first
// Open.
func NewStore(dir string) *Store { return &Store{dir: dir} }

// Dir returns the directory the store writes to.
func (s *Store) Dir() string { return s.dir }

// Handle is exclusive access to one feed's state for the duration of a run.
// The advisory lock is held from [Store.Open] until Close.
type Handle struct {
	store  *Store
	feedID string
	state  *FeedState
	lock   filelock.Lock
}

// Open acquires the advisory lock for feedID and loads its record. A missing
// record yields a fresh empty state; an unreadable one fails with
// [ErrCorrupt] (and the lock is released). If another run holds the lock,
// Open fails fast with [ErrLocked].
func (s *Store) Open(feedID string) (*Handle, error) {
	if err := validFeedID(feedID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, err
	}

	lock, err := filelock.Acquire(s.lockPath(feedID), strconv.Itoa(os.Getpid())+"\n")
	if err != nil {
		if errors.Is(err, filelock.ErrAlreadyLocked) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, feedID)
		}
		return nil, err
	}

	st, err := s.load(feedID)
	if err != nil {
		if rerr := lock.Release(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, err
	}

	return &Handle{store: s, feedID: feedID, state: st, lock: lock}, nil
}

func (s *Store) load(feedID string) (*FeedState, error) {
	b, err := os.ReadFile(s.statePath(feedID))
	if errors.Is(err, fs.ErrNotExist) {
		return &FeedState{}, nil
	}
	if err != nil {
		return nil, err
	}

	st := new(FeedState)
	if err := json.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, feedID, err)
	}
	return st, nil
}

// State returns the in-memory state. Mutations become durable only on
// Commit.
func (h *Handle) State() *FeedState { return h.state }

// FeedID returns the feed this handle owns.
func (h *Handle) FeedID() string { return h.feedID }

// Commit atomically replaces the on-disk record with the current in-memory
// state. A reader concurrent with an interrupted commit observes either the
// old or the new record, never a mixture.
func (h *Handle) Commit() error {
	b, err := json.MarshalIndent(h.state, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(h.store.statePath(h.feedID), b, 0o644)
}

// Close releases the advisory lock. The handle must not be used afterwards.
func (h *Handle) Close() error {
	lock := h.lock
	h.lock = nil
	if lock == nil {
		return nil
	}
	return lock.Release()
}

func (s *Store) statePath(feedID string) string {
	return filepath.Join(s.dir, feedID+".json")
}

func (s *Store) lockPath(feedID string) string {
	return filepath.Join(s.dir, "."+feedID+".lock")
}

func validFeedID(feedID string) error {
	if feedID == "" {
		return errors.New("empty feed id")
	}
	if strings.ContainsAny(feedID, `/\`) || feedID != filepath.Base(feedID) {
		return fmt.Errorf("feed id %q is not a valid file name", feedID)
	}
	return nil
}
