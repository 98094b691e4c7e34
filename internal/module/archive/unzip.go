// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package archive unpacks module archives.
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

// maxFileSize bounds a single unpacked file.
const maxFileSize = 256 << 20

// Unzip extracts the zip archive at src into dest, creating dest if needed.
// Entries that would land outside dest are rejected.
func Unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return oops.In("archive").With("archive", src).Wrapf(err, "open archive")
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return oops.In("archive").With("dest", dest).Wrapf(err, "create destination")
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return oops.In("archive").With("dest", dest).Wrapf(err, "resolve destination")
	}

	for _, f := range r.File {
		if err := extract(f, root); err != nil {
			return err
		}
	}
	return nil
}

func extract(f *zip.File, root string) error {
	errb := oops.In("archive").With("entry", f.Name)

	target := filepath.Join(root, filepath.FromSlash(f.Name)) //nolint:gosec // checked against root below
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return errb.Errorf("entry %q escapes the destination", f.Name)
	}

	mode := f.Mode()
	switch {
	case mode.IsDir():
		return mkdir(f.Name, target)
	case mode&os.ModeSymlink != 0:
		return errb.Errorf("entry %q is a symlink", f.Name)
	case !mode.IsRegular():
		return errb.Errorf("entry %q is not a regular file", f.Name)
	}

	if err := mkdir(f.Name, filepath.Dir(target)); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return errb.Wrapf(err, "open entry")
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm()|0o600)
	if err != nil {
		return errb.Wrapf(err, "create file")
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxFileSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errb.Wrapf(err, "write file")
	}
	if n > maxFileSize {
		return errb.Errorf("entry %q exceeds %d bytes", f.Name, maxFileSize)
	}
	return nil
}

func mkdir(entry, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return oops.In("archive").With("entry", entry).With("dir", dir).Wrapf(err, "create directory")
	}
	return nil
}
