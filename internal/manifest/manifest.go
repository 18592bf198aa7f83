// Package manifest builds the documents a Redshift COPY ... MANIFEST
// statement reads to discover its source objects.
package manifest

import (
	"github.com/samber/lo"
)

// Entry points at one staged object. Mandatory is always true: there are no
// best-effort sources in this design, a missing object must fail the load.
type Entry struct {
	URL       string `json:"url"`
	Mandatory bool   `json:"mandatory"`
}

// Manifest is one independently loadable manifest document.
type Manifest struct {
	Entries []Entry `json:"entries"`
}

// Build turns the ordered object URLs into one or more manifests, each with
// at most maxEntries entries, partitioned in input order. maxEntries <= 0
// means no maximum and yields exactly one manifest.
func Build(urls []string, maxEntries int) []Manifest {
	entries := lo.Map(urls, func(url string, _ int) Entry {
		return Entry{URL: url, Mandatory: true}
	})
	if maxEntries <= 0 || len(entries) <= maxEntries {
		return []Manifest{{Entries: entries}}
	}
	return lo.Map(lo.Chunk(entries, maxEntries), func(block []Entry, _ int) Manifest {
		return Manifest{Entries: block}
	})
}
