/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package keyorder provides the string ordering used to present key
names to an operator: `key_list` deliberately returns an unordered
set, since callers merge listings across several bases, but the dump
CLI needs a stable, human-friendly presentation order. This is kept
as a discrete package rather than inline sort.Strings calls because
PDDB key names are user-chosen UTF-8 and a raw byte-wise sort puts
accented names in surprising places; an operator inspecting a basis
in a specific locale should see names grouped the way that locale
expects.

Ordering never participates in on-disk layout or descriptor
comparison — it is a presentation concern only.
*/
package keyorder

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Order identifies a key-name ordering strategy.
type Order int

const (
	// Binary orders key names by raw byte value. Fastest, and what
	// `fill`'s brute-force descriptor scan effectively produces when
	// iterated in insertion order, but not locale-aware.
	Binary Order = iota
	// CaseInsensitive lower-cases both names (Unicode-aware, via
	// strings.ToLower) before comparing.
	CaseInsensitive
	// Locale orders using Unicode Collation Algorithm rules for a
	// specific locale tag (e.g. "en-US", "de-DE").
	Locale
)

// Comparer compares two key names under one ordering strategy.
type Comparer interface {
	// Compare returns -1, 0, or 1 as a sorts before, equal to, or after b.
	Compare(a, b string) int
}

type binaryComparer struct{}

func (binaryComparer) Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

type caseInsensitiveComparer struct{}

func (caseInsensitiveComparer) Compare(a, b string) int {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	switch {
	case al < bl:
		return -1
	case al > bl:
		return 1
	default:
		return 0
	}
}

type localeComparer struct {
	c *collate.Collator
}

// NewLocaleComparer builds a Comparer using Unicode Collation Algorithm
// rules for locale. An unrecognized locale tag falls back to English
// collation rules rather than erroring, since this only affects
// display order.
func NewLocaleComparer(locale string) Comparer {
	tag := language.Make(locale)
	if tag == language.Und {
		tag = language.English
	}
	return &localeComparer{c: collate.New(tag, collate.Loose)}
}

func (l *localeComparer) Compare(a, b string) int {
	return l.c.CompareString(a, b)
}

// NewComparer returns the Comparer for the given ordering; locale is
// only consulted when order is Locale.
func NewComparer(order Order, locale string) Comparer {
	switch order {
	case CaseInsensitive:
		return caseInsensitiveComparer{}
	case Locale:
		return NewLocaleComparer(locale)
	default:
		return binaryComparer{}
	}
}

// Sort orders names in place according to cmp.
func Sort(names []string, cmp Comparer) {
	sort.Slice(names, func(i, j int) bool {
		return cmp.Compare(names[i], names[j]) < 0
	})
}

// SortedNames returns a new, sorted copy of a key-name set for display.
func SortedNames(set map[string]struct{}, order Order, locale string) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	Sort(out, NewComparer(order, locale))
	return out
}
