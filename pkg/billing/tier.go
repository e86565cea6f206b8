package billing

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/runmeter/pkg/environment"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Tier is a subscription level with a fixed monthly minute allowance.
type Tier struct {
	PriceID         string `json:"price_id"`
	Name            string `json:"name"`
	MinuteAllowance int64  `json:"minutes"`
}

// CatalogSpec is the on-disk description of tiers and model access.
type CatalogSpec struct {
	FreeTier string     `yaml:"free_tier"`
	Tiers    []TierSpec `yaml:"tiers"`
	Models   ModelsSpec `yaml:"models"`
}

// TierSpec describes one tier with its price identifier per environment.
type TierSpec struct {
	Name    string            `yaml:"name"`
	Minutes int64             `yaml:"minutes"`
	Prices  map[string]string `yaml:"prices"`
}

// ModelsSpec maps tier names to allowed models and aliases to canonical model names.
type ModelsSpec struct {
	Aliases map[string]string   `yaml:"aliases"`
	Access  map[string][]string `yaml:"access"`
}

// DefaultCatalogSpec returns the built-in catalog.
func DefaultCatalogSpec() (CatalogSpec, error) {
	return ParseCatalogSpec(defaultCatalog)
}

// LoadCatalogSpec reads a catalog from path, or the built-in one when path is empty.
func LoadCatalogSpec(path string) (CatalogSpec, error) {
	if path == "" {
		return DefaultCatalogSpec()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CatalogSpec{}, errors.Join(ErrInvalidCatalog, err)
	}
	return ParseCatalogSpec(data)
}

// ParseCatalogSpec decodes a YAML catalog document.
func ParseCatalogSpec(data []byte) (CatalogSpec, error) {
	var spec CatalogSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return CatalogSpec{}, errors.Join(ErrInvalidCatalog, err)
	}
	return spec, nil
}

// Catalog is the immutable tier table for one deployment environment.
type Catalog struct {
	env     environment.Environment
	tiers   []Tier
	byPrice map[string]Tier
	byName  map[string]Tier
	free    Tier
}

// NewCatalog builds the catalog for env. Local and development use the
// staging price identifiers when no dedicated ones are configured.
func NewCatalog(spec CatalogSpec, env environment.Environment) (*Catalog, error) {
	if len(spec.Tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers defined", ErrInvalidCatalog)
	}

	c := &Catalog{
		env:     env,
		tiers:   make([]Tier, 0, len(spec.Tiers)),
		byPrice: make(map[string]Tier, len(spec.Tiers)),
		byName:  make(map[string]Tier, len(spec.Tiers)),
	}

	freeFound := false
	for _, ts := range spec.Tiers {
		if ts.Name == "" {
			return nil, fmt.Errorf("%w: tier without name", ErrInvalidCatalog)
		}
		if ts.Minutes < 0 {
			return nil, fmt.Errorf("%w: tier %q has negative allowance", ErrInvalidCatalog, ts.Name)
		}
		priceID := priceForEnvironment(ts.Prices, env)
		if priceID == "" {
			return nil, fmt.Errorf("%w: tier %q has no price for %s", ErrInvalidCatalog, ts.Name, env)
		}
		if _, dup := c.byPrice[priceID]; dup {
			return nil, fmt.Errorf("%w: duplicate price %q", ErrInvalidCatalog, priceID)
		}
		if _, dup := c.byName[ts.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidCatalog, ts.Name)
		}

		tier := Tier{PriceID: priceID, Name: ts.Name, MinuteAllowance: ts.Minutes}
		c.tiers = append(c.tiers, tier)
		c.byPrice[priceID] = tier
		c.byName[ts.Name] = tier
		if ts.Name == spec.FreeTier {
			c.free = tier
			freeFound = true
		}
	}

	if !freeFound {
		return nil, fmt.Errorf("%w: free tier %q not defined", ErrInvalidCatalog, spec.FreeTier)
	}

	return c, nil
}

func priceForEnvironment(prices map[string]string, env environment.Environment) string {
	if id := prices[string(env)]; id != "" {
		return id
	}
	if env == environment.Local || env == environment.Development {
		return prices[string(environment.Staging)]
	}
	return ""
}

// Resolve returns the tier for a price identifier.
func (c *Catalog) Resolve(priceID string) (Tier, error) {
	t, ok := c.byPrice[priceID]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %s", ErrTierNotFound, priceID)
	}
	return t, nil
}

// Free returns the default tier.
func (c *Catalog) Free() Tier {
	return c.free
}

// ByName returns the tier with the given name.
func (c *Catalog) ByName(name string) (Tier, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Contains reports whether priceID belongs to the catalog.
func (c *Catalog) Contains(priceID string) bool {
	_, ok := c.byPrice[priceID]
	return ok
}

// Tiers returns the tiers in catalog order.
func (c *Catalog) Tiers() []Tier {
	return slices.Clone(c.tiers)
}

// Environment returns the environment the catalog was built for.
func (c *Catalog) Environment() environment.Environment {
	return c.env
}
