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

// Package transport implements the URI classifier and the transport
// adapters spec.md §1 treats as out-of-scope external collaborators,
// specified only at their interfaces (§6).
package transport

import "strings"

// Kind is the classification spec.md §6 assigns a source string: remote,
// git, or local (a path, never a URL).
type Kind int

const (
	KindLocal Kind = iota
	KindRemote
	KindGit
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	case KindGit:
		return "git"
	default:
		return "unknown"
	}
}

var remoteSchemes = map[string]bool{
	"http": true, "https": true, "ftp": true, "ftps": true, "s3": true, "file": true,
}

// Classify implements spec.md §6: a git+ssh/git scheme, a ".git" suffix, or
// any scheme whose path ends in ".git" is KindGit; an http/https/ftp/ftps/
// s3/file scheme is KindRemote; anything else (no recognized scheme) is a
// local path, absolute or resolved relative to the declaring file later.
func Classify(s string) Kind {
	if s == "" {
		return KindLocal
	}

	scheme, rest, hasScheme := splitScheme(s)
	if hasScheme {
		switch scheme {
		case "git", "git+ssh":
			return KindGit
		}
		if remoteSchemes[scheme] {
			if strings.HasSuffix(rest, ".git") {
				return KindGit
			}
			return KindRemote
		}
	}

	if strings.HasSuffix(s, ".git") {
		return KindGit
	}

	return KindLocal
}

// splitScheme returns the "scheme" prefix of s (everything before "://")
// and whether one was found.
func splitScheme(s string) (scheme, rest string, ok bool) {
	idx := strings.Index(s, "://")
	if idx < 0 {
		return "", s, false
	}
	return s[:idx], s[idx+3:], true
}
