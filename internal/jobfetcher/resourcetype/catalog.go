package resourcetype

import (
	"github.com/pkg/errors"
)

// Standard resource type names
const (
	SingleCore           = "SCORE"
	MultiCore            = "MCORE"
	SingleCoreHighMemory = "SCORE_HIMEM"
	MultiCoreHighMemory  = "MCORE_HIMEM"
)

// HighMemoryRamPerCore is the RAM per core, in MB, at or above which a resource type counts as high memory
const HighMemoryRamPerCore = 2000

// Definition describes the shape of jobs belonging to one resource type.
// A zero bound means unbounded.
type Definition struct {
	Name          string `mapstructure:"name" json:"resource_name" validate:"required"`
	MinCore       int    `mapstructure:"minCore" json:"mincore"`
	MaxCore       int    `mapstructure:"maxCore" json:"maxcore"`
	MinRamPerCore int    `mapstructure:"minRamPerCore" json:"minrampercore"`
	MaxRamPerCore int    `mapstructure:"maxRamPerCore" json:"maxrampercore"`
}

func (d Definition) IsSingleCore() bool {
	return d.MaxCore == 1
}

func (d Definition) IsHighMemory() bool {
	return d.MinRamPerCore >= HighMemoryRamPerCore
}

// Catalog is the immutable, ordered set of known resource types.
type Catalog struct {
	names       []string
	definitions map[string]Definition
}

func NewCatalog(definitions []Definition) (*Catalog, error) {
	if len(definitions) == 0 {
		return nil, errors.New("resource type catalog must not be empty")
	}
	c := &Catalog{
		names:       make([]string, 0, len(definitions)),
		definitions: make(map[string]Definition, len(definitions)),
	}
	for _, d := range definitions {
		if d.Name == "" {
			return nil, errors.New("resource type with empty name")
		}
		if _, exists := c.definitions[d.Name]; exists {
			return nil, errors.Errorf("duplicate resource type %s", d.Name)
		}
		c.names = append(c.names, d.Name)
		c.definitions[d.Name] = d
	}
	return c, nil
}

// DefaultDefinitions are the four standard resource types
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: SingleCore, MinCore: 1, MaxCore: 1, MaxRamPerCore: HighMemoryRamPerCore},
		{Name: MultiCore, MinCore: 2, MaxRamPerCore: HighMemoryRamPerCore},
		{Name: SingleCoreHighMemory, MinCore: 1, MaxCore: 1, MinRamPerCore: HighMemoryRamPerCore},
		{Name: MultiCoreHighMemory, MinCore: 2, MinRamPerCore: HighMemoryRamPerCore},
	}
}

func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDefinitions())
	if err != nil {
		panic(err)
	}
	return c
}

// Names returns a copy of the resource type names in catalog order
func (c *Catalog) Names() []string {
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

func (c *Catalog) Get(name string) (Definition, bool) {
	d, ok := c.definitions[name]
	return d, ok
}

// IsSingleCore is false for unknown types.
func (c *Catalog) IsSingleCore(name string) bool {
	d, ok := c.definitions[name]
	return ok && d.IsSingleCore()
}

// IsHighMemory is false for unknown types.
func (c *Catalog) IsHighMemory(name string) bool {
	d, ok := c.definitions[name]
	return ok && d.IsHighMemory()
}

// HighMemoryNames returns the high memory types in catalog order
func (c *Catalog) HighMemoryNames() []string {
	var result []string
	for _, name := range c.names {
		if c.definitions[name].IsHighMemory() {
			result = append(result, name)
		}
	}
	return result
}
