// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio provides atomic file writing with backups.
package atomicio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	backupTimeFormat = "20060102150405.999999999"
	maxBackups       = 10
)

// rename acts as os.Rename, but can be mocked for testing.
var rename = os.Rename

// WriteFile writes data to name atomically: the data is first written to a
// temporary file in the same directory, which is then renamed over name, so a
// reader observes either the old contents or the new ones, never a partial
// write and never a missing file. If name already exists, the old contents
// are kept around as a timestamped .bak hard link; old backups are pruned.
func WriteFile(name string, data []byte, perm fs.FileMode) (err error) {
	// The temporary file must live in the target directory: os.Rename is only
	// atomic within one filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	switch _, serr := os.Stat(name); {
	case serr == nil:
		backup := name + "." + time.Now().UTC().Format(backupTimeFormat) + ".bak"
		// Hard-link, not rename: name must hold a complete record at every
		// instant, even if we die before the rename below.
		if err := os.Link(name, backup); err != nil {
			return err
		}
	case !errors.Is(serr, fs.ErrNotExist):
		return serr
	}

	if err := rename(tmp.Name(), name); err != nil {
		return err
	}

	return pruneBackups(name)
}

func pruneBackups(name string) error {
	backups, err := filepath.Glob(name + ".*.bak")
	if err != nil {
		return err
	}
	if len(backups) <= maxBackups {
		return nil
	}

	// Backup names sort chronologically, so the oldest come first.
	slices.Sort(backups)
	for _, backup := range backups[:len(backups)-maxBackups] {
		if err := os.Remove(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
