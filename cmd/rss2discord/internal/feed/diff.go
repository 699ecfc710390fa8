// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package feed

import "slices"

// Diff returns the entries whose fingerprints seen doesn't know about,
// ordered oldest-first by publish time so the destination channel reads
// chronologically. Entries without a timestamp sort after all timestamped
// ones, keeping their fetch order. Diff performs no I/O.
func Diff(entries []Entry, seen func(fingerprint string) bool) []Entry {
	var fresh []Entry
	for _, e := range entries {
		if !seen(e.Fingerprint) {
			fresh = append(fresh, e)
		}
	}

	slices.SortStableFunc(fresh, func(a, b Entry) int {
		switch {
		case a.Published == nil && b.Published == nil:
			return 0
		case a.Published == nil:
			return 1
		case b.Published == nil:
			return -1
		}
		return a.Published.Compare(*b.Published)
	})
	return fresh
}
