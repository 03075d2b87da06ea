package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/NaturaCheck/pkg/errors"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Version   string              `yaml:"version"`
	Tracks    []*TrackSpec        `yaml:"tracks"`
	Documents []*DocumentTypeSpec `yaml:"documents"`
}

// Default loads the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Load(defaultCatalogYAML)
}

// MustDefault is Default for package initialization and tests.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFile loads a catalog from a YAML file. An empty path selects the
// embedded default.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCatalogInvalid, "cannot read catalog file").WithDetail(path)
	}
	return Load(data)
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCatalogInvalid, "cannot parse catalog")
	}
	return build(f)
}

func invalid(format string, args ...interface{}) error {
	return errors.New(errors.ErrCodeCatalogInvalid, "invalid document catalog").WithDetail(fmt.Sprintf(format, args...))
}

func build(f catalogFile) (*Catalog, error) {
	if f.Version == "" {
		return nil, invalid("version is required")
	}
	if len(f.Documents) == 0 {
		return nil, invalid("no document types declared")
	}

	c := &Catalog{
		version: f.Version,
		byKey:   make(map[string]*DocumentTypeSpec),
		tracks:  make(map[string]*TrackSpec),
	}

	for i, spec := range f.Documents {
		if spec == nil || trimmed(spec.Name) == "" {
			return nil, invalid("document %d has no name", i)
		}
		spec.Name = trimmed(spec.Name)
		if err := prepareSpec(spec); err != nil {
			return nil, err
		}
		for _, key := range spec.keys {
			if owner, dup := c.byKey[key]; dup && owner != spec {
				return nil, invalid("alias %q of %q already belongs to %q", key, spec.Name, owner.Name)
			}
			c.byKey[key] = spec
		}
		c.specs = append(c.specs, spec)
	}

	for i, t := range f.Tracks {
		if t == nil || Normalize(t.ID) == "" {
			return nil, invalid("track %d has no id", i)
		}
		id := Normalize(t.ID)
		if _, dup := c.tracks[id]; dup {
			return nil, invalid("duplicate track %q", t.ID)
		}
		if err := prepareTrack(c, t); err != nil {
			return nil, err
		}
		t.ID = id
		c.tracks[id] = t
		c.order = append(c.order, id)
	}
	return c, nil
}

func prepareSpec(spec *DocumentTypeSpec) error {
	seen := make(map[string]bool)
	for _, k := range append([]string{spec.Name}, spec.Aliases...) {
		if n := Normalize(k); n != "" && !seen[n] {
			seen[n] = true
			spec.keys = append(spec.keys, n)
		}
	}

	if spec.MinLength == 0 {
		spec.MinLength = DefaultMinLength
	}
	for _, loc := range spec.Location {
		if !loc.valid() {
			return invalid("%s: unknown location source %q", spec.Name, loc)
		}
	}
	if spec.MaxAgeDays < 0 {
		return invalid("%s: max_age_days must not be negative", spec.Name)
	}

	primary := spec.Primary()
	if err := prepareProfile(spec.Name, &primary); err != nil {
		return err
	}
	spec.Required = primary.Required
	spec.Negations = primary.Negations
	spec.MustBeAbsent = primary.MustBeAbsent

	for i := range spec.Variants {
		v := &spec.Variants[i]
		if trimmed(v.Name) == "" {
			v.Name = fmt.Sprintf("variant_%d", i+1)
		}
		if err := prepareProfile(spec.Name+"/"+v.Name, v); err != nil {
			return err
		}
	}
	spec.profiles = spec.buildProfiles()
	return nil
}

func prepareProfile(owner string, p *TermProfile) error {
	if p.MinConfidence < 0 || p.MinConfidence > 100 {
		return invalid("%s: min_confidence %d out of range", owner, p.MinConfidence)
	}
	if p.MinLength < 0 {
		return invalid("%s: min_length must not be negative", owner)
	}
	if !p.LengthOnly && len(p.Required) == 0 {
		return invalid("%s: term profile declares no requirements", owner)
	}
	for i := range p.Required {
		r := &p.Required[i]
		r.Terms = normalizeAll(r.Terms)
		if len(r.Terms) == 0 {
			return invalid("%s: requirement %d has no terms", owner, i)
		}
		if r.Weight < 0 {
			return invalid("%s: requirement %d has negative weight", owner, i)
		}
		if r.Weight == 0 {
			r.Weight = 1
		}
	}
	if p.Negations != nil {
		p.Negations = &Negations{
			Before: normalizeAll(p.Negations.Before),
			After:  normalizeAll(p.Negations.After),
		}
	}
	p.MustBeAbsent = MustBeAbsent{
		Terms:     normalizeAll(p.MustBeAbsent.Terms),
		ClearedBy: normalizeAll(p.MustBeAbsent.ClearedBy),
	}
	return nil
}

func prepareTrack(c *Catalog, t *TrackSpec) error {
	if len(t.Documents) == 0 {
		return invalid("track %q requires no documents", t.ID)
	}
	if t.AgeFloor > 0 && t.AgeCeiling > 0 && t.AgeFloor > t.AgeCeiling {
		return invalid("track %q: age floor above ceiling", t.ID)
	}
	seen := make(map[string]bool)
	for i, name := range t.Documents {
		spec, err := c.Lookup(name)
		if err != nil {
			return invalid("track %q references unknown document %q", t.ID, name)
		}
		if seen[spec.Name] {
			return invalid("track %q lists %q twice", t.ID, spec.Name)
		}
		seen[spec.Name] = true
		t.Documents[i] = spec.Name
	}
	return nil
}
