// Package catalog is the immutable registry of document types and
// naturalization tracks. A Catalog is built once by Load and is safe for
// concurrent use.
package catalog

import (
	"sort"

	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// Catalog maps document type names and aliases to their specs.
type Catalog struct {
	version string
	specs   []*DocumentTypeSpec
	byKey   map[string]*DocumentTypeSpec
	tracks  map[string]*TrackSpec
	order   []string
}

// Version identifies the catalog content. Verdicts record it.
func (c *Catalog) Version() string {
	return c.version
}

// Lookup resolves a document type name or alias. The input is normalized
// before comparison, so case, diacritics and spacing do not matter.
func (c *Catalog) Lookup(name string) (*DocumentTypeSpec, error) {
	key := Normalize(name)
	if key != "" {
		if spec, ok := c.byKey[key]; ok {
			return spec, nil
		}
	}
	return nil, errors.New(errors.ErrCodeUnknownDocumentType, "unknown document type").WithDetail(name)
}

// Types lists every document type in catalog order.
func (c *Catalog) Types() []*DocumentTypeSpec {
	out := make([]*DocumentTypeSpec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Track returns the rule set of a naturalization track.
func (c *Catalog) Track(id string) (*TrackSpec, error) {
	if t, ok := c.tracks[Normalize(id)]; ok {
		return t, nil
	}
	return nil, errors.New(errors.ErrCodeUnknownTrack, "unknown naturalization track").WithDetail(id)
}

// Tracks lists every track in catalog order.
func (c *Catalog) Tracks() []*TrackSpec {
	out := make([]*TrackSpec, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tracks[id])
	}
	return out
}

// TrackIDs returns the sorted track identifiers.
func (c *Catalog) TrackIDs() []string {
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	sort.Strings(ids)
	return ids
}
