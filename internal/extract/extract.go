// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package extract is the out-of-scope archive-extraction collaborator of
// spec.md §4.6's extract/extract_all operations: given an archive file and
// a destination directory, produce the extracted tree.
package extract

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Extractor extracts a single archive into dest, stripping the first strip
// path components of every entry (components that would be stripped below
// zero depth are skipped, not errored, per spec.md §4.6). It returns the
// number of files written.
type Extractor interface {
	Extract(archivePath, dest string, strip int) (int, error)
}

// DefaultExtractor dispatches on file extension: .tar, .tar.gz/.tgz, .zip.
// Container parsing uses the standard library (no archive-format library
// appears anywhere in the reference pack); gzip decompression uses
// klauspost/compress, the pack's own compression library, in place of the
// stdlib codec.
type DefaultExtractor struct{}

func NewDefaultExtractor() *DefaultExtractor { return &DefaultExtractor{} }

func (DefaultExtractor) Extract(archivePath, dest string, strip int) (int, error) {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(archivePath, dest, strip)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return extractTarGz(archivePath, dest, strip)
	case strings.HasSuffix(lower, ".tar"):
		return extractTar(archivePath, dest, strip)
	default:
		return 0, fmt.Errorf("extract: unrecognized archive format %q", archivePath)
	}
}

func extractTarGz(path, dest string, strip int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("extract: open gzip stream: %w", err)
	}
	defer gz.Close()
	return extractTarStream(gz, dest, strip)
}

func extractTar(path, dest string, strip int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return extractTarStream(f, dest, strip)
}

func extractTarStream(r io.Reader, dest string, strip int) (int, error) {
	tr := tar.NewReader(r)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("extract: read tar entry: %w", err)
		}
		name, ok := stripComponents(hdr.Name, strip)
		if !ok {
			continue
		}
		target := filepath.Join(dest, name)
		if err := ensureWithinDest(dest, target); err != nil {
			return count, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return count, err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return count, err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return count, fmt.Errorf("extract: write %s: %w", target, err)
			}
			out.Close()
			count++
		default:
			// symlinks and other special entries are skipped; not relevant
			// to recipe fetch/stage content.
		}
	}
	return count, nil
}

func extractZip(path, dest string, strip int) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("extract: open zip: %w", err)
	}
	defer zr.Close()

	count := 0
	for _, f := range zr.File {
		name, ok := stripComponents(f.Name, strip)
		if !ok {
			continue
		}
		target := filepath.Join(dest, name)
		if err := ensureWithinDest(dest, target); err != nil {
			return count, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return count, err
		}
		rc, err := f.Open()
		if err != nil {
			return count, err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return count, err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return count, fmt.Errorf("extract: write %s: %w", target, err)
		}
		count++
	}
	return count, nil
}

// stripComponents removes the first n path components of name. It returns
// ok=false when name has fewer than n components (the entry is entirely
// consumed by stripping and should be skipped, not errored).
func stripComponents(name string, n int) (string, bool) {
	name = filepath.ToSlash(name)
	name = strings.TrimPrefix(name, "/")
	parts := strings.Split(name, "/")
	if n >= len(parts) {
		return "", false
	}
	return filepath.Join(parts[n:]...), true
}

// ensureWithinDest rejects archive entries (via ".." traversal or absolute
// paths) that would write outside dest.
func ensureWithinDest(dest, target string) error {
	rel, err := filepath.Rel(dest, target)
	if err != nil {
		return fmt.Errorf("extract: entry escapes destination: %s", target)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("extract: entry escapes destination: %s", target)
	}
	return nil
}
