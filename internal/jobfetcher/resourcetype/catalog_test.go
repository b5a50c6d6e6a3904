package resourcetype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, []string{SingleCore, MultiCore, SingleCoreHighMemory, MultiCoreHighMemory}, c.Names())

	tests := map[string]struct {
		singleCore bool
		highMemory bool
	}{
		SingleCore:           {singleCore: true, highMemory: false},
		MultiCore:            {singleCore: false, highMemory: false},
		SingleCoreHighMemory: {singleCore: true, highMemory: true},
		MultiCoreHighMemory:  {singleCore: false, highMemory: true},
		"UNKNOWN":            {singleCore: false, highMemory: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.singleCore, c.IsSingleCore(name))
			assert.Equal(t, tc.highMemory, c.IsHighMemory(name))
		})
	}
	assert.Equal(t, []string{SingleCoreHighMemory, MultiCoreHighMemory}, c.HighMemoryNames())
}

func TestNewCatalog_Invalid(t *testing.T) {
	tests := map[string][]Definition{
		"empty":     {},
		"no name":   {{MaxCore: 1}},
		"duplicate": {{Name: "A"}, {Name: "A"}},
	}
	for name, definitions := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewCatalog(definitions)
			assert.Error(t, err)
		})
	}
}

func TestCatalog_NamesIsACopy(t *testing.T) {
	c, err := NewCatalog([]Definition{{Name: "A"}, {Name: "B"}})
	require.NoError(t, err)
	names := c.Names()
	names[0] = "Z"
	assert.Equal(t, []string{"A", "B"}, c.Names())
}
