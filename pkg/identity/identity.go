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

// Package identity parses and canonicalizes envy recipe identities.
//
// An identity is the string "namespace.name@revision". Namespace is
// everything before the first '.', name is everything between that '.' and
// the first '@', and revision is everything after the first '@'. All three
// parts must be non-empty.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is wrapped by every parse failure so callers can match on it
// with errors.Is, independent of the specific message.
var ErrMalformed = errors.New("malformed identity")

// LocalNamespace is the privileged namespace reserved for host-managed
// packages (e.g. "local.brew@r0"). Non-local recipes may not declare a
// local.* dependency; see pkg/recipe's security check.
const LocalNamespace = "local"

// ID is a parsed "namespace.name@revision" identity.
type ID struct {
	Namespace string
	Name      string
	Revision  string
	raw       string
}

// String returns the original identity string the ID was parsed from.
func (id ID) String() string {
	return id.raw
}

// IsLocal reports whether this identity is in the privileged local.*
// namespace.
func (id ID) IsLocal() bool {
	return id.Namespace == LocalNamespace
}

// Parse validates an identity string and splits it into its three parts.
//
// Splitting rule: namespace is everything before the first '.', name is
// everything between that '.' and the first '@', revision is everything
// after the first '@'. All three segments must be non-empty.
func Parse(s string) (ID, error) {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return ID{}, fmt.Errorf("%w: %q: missing '.' separating namespace from name", ErrMalformed, s)
	}
	rest := s[dot+1:]
	at := strings.IndexByte(rest, '@')
	if at < 0 {
		return ID{}, fmt.Errorf("%w: %q: missing '@' separating name from revision", ErrMalformed, s)
	}

	namespace := s[:dot]
	name := rest[:at]
	revision := rest[at+1:]

	if namespace == "" {
		return ID{}, fmt.Errorf("%w: %q: empty namespace", ErrMalformed, s)
	}
	if name == "" {
		return ID{}, fmt.Errorf("%w: %q: empty name", ErrMalformed, s)
	}
	if revision == "" {
		return ID{}, fmt.Errorf("%w: %q: empty revision", ErrMalformed, s)
	}

	return ID{Namespace: namespace, Name: name, Revision: revision, raw: s}, nil
}

// MustParse parses s and panics on failure. Intended for literals in tests
// and recipe construction helpers, never for user-supplied strings.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}
