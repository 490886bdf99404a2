// Package catalog holds the metadata that script documents refer to by
// invariant name: hosts, categories, impact levels and safety levels.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ErrUnknownReference is returned when a lookup names an entity that the
// catalog does not define.
var ErrUnknownReference = errors.New("unknown catalog reference")

// Category groups scripts for presentation.
type Category struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
}

// Impact describes how noticeable a script's effect on the machine is.
type Impact struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Rank        int    `yaml:"rank"`
}

// SafetyLevel describes how risky a script is to run.
type SafetyLevel struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Rank        int    `yaml:"rank"`
}

// Legacy maps the two-state recommendation flag of old documents onto
// safety levels.
type Legacy struct {
	Recommended    string `yaml:"recommended"`
	NotRecommended string `yaml:"not_recommended"`
}

// Catalog is an immutable, indexed set of metadata entities.
type Catalog struct {
	hosts        []*Host
	hostByName   map[string]*Host
	categories   map[string]*Category
	impacts      map[string]*Impact
	safetyLevels map[string]*SafetyLevel
	legacy       Legacy
}

type catalogFile struct {
	Hosts        []*Host        `yaml:"hosts"`
	Categories   []*Category    `yaml:"categories"`
	Impacts      []*Impact      `yaml:"impacts"`
	SafetyLevels []*SafetyLevel `yaml:"safety_levels"`
	Legacy       Legacy         `yaml:"legacy"`
}

// Default returns the catalog bundled with the application.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a YAML catalog.
func Load(r io.Reader) (*Catalog, error) {
	var cf catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		hostByName:   make(map[string]*Host, len(cf.Hosts)),
		categories:   make(map[string]*Category, len(cf.Categories)),
		impacts:      make(map[string]*Impact, len(cf.Impacts)),
		safetyLevels: make(map[string]*SafetyLevel, len(cf.SafetyLevels)),
		legacy:       cf.Legacy,
	}

	for _, h := range cf.Hosts {
		if err := h.validate(); err != nil {
			return nil, fmt.Errorf("invalid catalog: %w", err)
		}
		if _, dup := c.hostByName[h.Name]; dup {
			return nil, fmt.Errorf("invalid catalog: duplicate host %q", h.Name)
		}
		c.hostByName[h.Name] = h
		c.hosts = append(c.hosts, h)
	}
	for _, cat := range cf.Categories {
		if cat.DisplayName == "" {
			cat.DisplayName = cat.Name
		}
		c.categories[cat.Name] = cat
	}
	for _, im := range cf.Impacts {
		if im.DisplayName == "" {
			im.DisplayName = im.Name
		}
		c.impacts[im.Name] = im
	}
	for _, sl := range cf.SafetyLevels {
		if sl.DisplayName == "" {
			sl.DisplayName = sl.Name
		}
		c.safetyLevels[sl.Name] = sl
	}

	for _, name := range []string{c.legacy.Recommended, c.legacy.NotRecommended} {
		if name == "" {
			continue
		}
		if _, ok := c.safetyLevels[name]; !ok {
			return nil, fmt.Errorf("invalid catalog: legacy mapping names unknown safety level %q", name)
		}
	}

	return c, nil
}

// Host looks up a host by invariant name.
func (c *Catalog) Host(name string) (*Host, error) {
	if h, ok := c.hostByName[name]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("host %q: %w", name, ErrUnknownReference)
}

// Hosts returns all hosts in declaration order.
func (c *Catalog) Hosts() []*Host {
	out := make([]*Host, len(c.hosts))
	copy(out, c.hosts)
	return out
}

// EngineHost returns the first host backed by the named in-process engine.
func (c *Catalog) EngineHost(engine string) (*Host, error) {
	for _, h := range c.hosts {
		if h.Engine == engine {
			return h, nil
		}
	}
	return nil, fmt.Errorf("engine %q: %w", engine, ErrUnknownReference)
}

// Category looks up a category by invariant name.
func (c *Catalog) Category(name string) (*Category, error) {
	if v, ok := c.categories[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("category %q: %w", name, ErrUnknownReference)
}

// Impact looks up an impact level by invariant name.
func (c *Catalog) Impact(name string) (*Impact, error) {
	if v, ok := c.impacts[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("impact %q: %w", name, ErrUnknownReference)
}

// SafetyLevel looks up a safety level by invariant name.
func (c *Catalog) SafetyLevel(name string) (*SafetyLevel, error) {
	if v, ok := c.safetyLevels[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("safety level %q: %w", name, ErrUnknownReference)
}

// LegacySafety resolves the old yes/no recommendation flag.
func (c *Catalog) LegacySafety(recommended bool) (*SafetyLevel, error) {
	name := c.legacy.NotRecommended
	if recommended {
		name = c.legacy.Recommended
	}
	if name == "" {
		return nil, fmt.Errorf("legacy recommendation %t has no safety mapping: %w", recommended, ErrUnknownReference)
	}
	return c.SafetyLevel(name)
}
