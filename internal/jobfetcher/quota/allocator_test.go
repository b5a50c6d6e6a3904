package quota

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridedge/harvester/internal/jobfetcher/model"
	"github.com/gridedge/harvester/internal/jobfetcher/resourcetype"
)

// fixedPermuter always returns the same permutation
type fixedPermuter []int

func (p fixedPermuter) Perm(n int) []int {
	if len(p) != n {
		panic("fixedPermuter used with wrong length")
	}
	result := make([]int, n)
	copy(result, p)
	return result
}

var standardTypes = []string{
	resourcetype.SingleCore,
	resourcetype.MultiCore,
	resourcetype.SingleCoreHighMemory,
	resourcetype.MultiCoreHighMemory,
}

func testCatalog(t *testing.T) *resourcetype.Catalog {
	c, err := resourcetype.NewCatalog(append(resourcetype.DefaultDefinitions(),
		resourcetype.Definition{Name: "A", MaxCore: 1},
		resourcetype.Definition{Name: "B", MaxCore: 1},
	))
	require.NoError(t, err)
	return c
}

func intPtr(i int) *int {
	return &i
}

func TestAllocate_Scenarios(t *testing.T) {
	tests := map[string]struct {
		request  Request
		order    fixedPermuter
		expected map[string]float64
	}{
		"even split without caps": {
			request:  Request{EligibleJobs: 10, ResourceTypes: []string{"A", "B"}},
			order:    fixedPermuter{0, 1},
			expected: map[string]float64{"A": 5, "B": 5},
		},
		"cap on later type does not inflate earlier type": {
			request: Request{
				EligibleJobs:  10,
				ResourceTypes: []string{"A", "B"},
				PerTypeLimits: map[string]int{"A": 3},
				Active:        map[string]model.ResourceTypeStats{"A": {Jobs: model.StatusCounts{Starting: 1}}},
			},
			order:    fixedPermuter{1, 0},
			expected: map[string]float64{"B": 5, "A": 2},
		},
		"cap on earlier type frees budget for later type": {
			request: Request{
				EligibleJobs:  10,
				ResourceTypes: []string{"A", "B"},
				PerTypeLimits: map[string]int{"A": 3},
				Active:        map[string]model.ResourceTypeStats{"A": {Jobs: model.StatusCounts{Running: 1}}},
			},
			order:    fixedPermuter{0, 1},
			expected: map[string]float64{"A": 2, "B": 8},
		},
		"type over its limit gets zero": {
			request: Request{
				EligibleJobs:  6,
				ResourceTypes: []string{"A", "B"},
				PerTypeLimits: map[string]int{"A": 3},
				Active:        map[string]model.ResourceTypeStats{"A": {Jobs: model.StatusCounts{Starting: 2, Running: 5}}},
			},
			order:    fixedPermuter{0, 1},
			expected: map[string]float64{"A": 0, "B": 6},
		},
		"nil stats only per type limits bind": {
			request: Request{
				EligibleJobs:  8,
				ResourceTypes: standardTypes,
				PerTypeLimits: map[string]int{resourcetype.MultiCore: 1},
				HimemLimit:    intPtr(0),
			},
			order: fixedPermuter{1, 0, 2, 3},
			expected: map[string]float64{
				resourcetype.MultiCore:            1,
				resourcetype.SingleCore:           7.0 / 3,
				resourcetype.SingleCoreHighMemory: 7.0 / 3,
				resourcetype.MultiCoreHighMemory:  7.0 / 3,
			},
		},
		"himem cap divides by queue core count for multi core types": {
			request: Request{
				EligibleJobs:      40,
				ResourceTypes:     []string{resourcetype.MultiCoreHighMemory, resourcetype.SingleCore},
				HimemLimit:        intPtr(40),
				Active:            map[string]model.ResourceTypeStats{resourcetype.SingleCoreHighMemory: {Cores: model.StatusCounts{Starting: 4, Running: 4}}},
				DefaultMcoreCores: 16,
			},
			order: fixedPermuter{0, 1},
			expected: map[string]float64{
				resourcetype.MultiCoreHighMemory: 2,
				resourcetype.SingleCore:          38,
			},
		},
		"himem cap uses one core per job for single core types": {
			request: Request{
				EligibleJobs:  20,
				ResourceTypes: []string{resourcetype.SingleCoreHighMemory, resourcetype.SingleCore},
				HimemLimit:    intPtr(10),
				Active:        map[string]model.ResourceTypeStats{resourcetype.MultiCoreHighMemory: {Cores: model.StatusCounts{Running: 8}}},
			},
			order: fixedPermuter{0, 1},
			expected: map[string]float64{
				resourcetype.SingleCoreHighMemory: 2,
				resourcetype.SingleCore:           18,
			},
		},
		"zero eligible jobs": {
			request:  Request{EligibleJobs: 0, ResourceTypes: []string{"A", "B"}},
			order:    fixedPermuter{0, 1},
			expected: map[string]float64{"A": 0, "B": 0},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			allocator := NewAllocator(testCatalog(t), tc.order)
			allocation := allocator.Allocate(tc.request)
			require.Len(t, allocation.Shares, len(tc.expected))
			for resourceType, expected := range tc.expected {
				assert.InDelta(t, expected, allocation.Shares[resourceType], 1e-9, resourceType)
			}
			expectedOrder := make([]string, len(tc.order))
			for i, idx := range tc.order {
				expectedOrder[i] = tc.request.ResourceTypes[idx]
			}
			assert.Equal(t, expectedOrder, allocation.Order)
		})
	}
}

func TestAllocate_DefaultsMultiCoreCount(t *testing.T) {
	allocator := NewAllocator(testCatalog(t), fixedPermuter{0})
	allocation := allocator.Allocate(Request{
		EligibleJobs:  100,
		ResourceTypes: []string{resourcetype.MultiCoreHighMemory},
		HimemLimit:    intPtr(80),
		Active:        map[string]model.ResourceTypeStats{},
	})
	assert.InDelta(t, 10, allocation.Shares[resourcetype.MultiCoreHighMemory], 1e-9)
}

func TestAllocate_NoResourceTypes(t *testing.T) {
	allocator := NewAllocator(testCatalog(t), rand.New(rand.NewSource(1)))
	allocation := allocator.Allocate(Request{EligibleJobs: 10})
	assert.Empty(t, allocation.Order)
	assert.True(t, allocation.AllPositive())
}

func TestAllocation_AllPositive(t *testing.T) {
	assert.True(t, Allocation{Shares: map[string]float64{"A": 0.5, "B": 1}}.AllPositive())
	assert.False(t, Allocation{Shares: map[string]float64{"A": 0, "B": 1}}.AllPositive())
}

// Properties checked across many random inputs
func TestAllocate_Properties(t *testing.T) {
	catalog := testCatalog(t)
	r := rand.New(rand.NewSource(20240101))
	allocator := NewAllocator(catalog, r)

	for i := 0; i < 500; i++ {
		eligible := r.Intn(200)
		coreCount := 1 + r.Intn(16)

		unconstrained := allocator.Allocate(Request{EligibleJobs: eligible, ResourceTypes: standardTypes, DefaultMcoreCores: coreCount})
		assert.InDelta(t, float64(eligible), unconstrained.Total(), 1e-9)

		limits := map[string]int{}
		active := map[string]model.ResourceTypeStats{}
		for _, resourceType := range standardTypes {
			if r.Intn(2) == 0 {
				limits[resourceType] = r.Intn(50)
			}
			active[resourceType] = model.ResourceTypeStats{
				Jobs:  model.StatusCounts{Starting: r.Intn(30), Running: r.Intn(30)},
				Cores: model.StatusCounts{Starting: r.Intn(60), Running: r.Intn(60)},
			}
		}
		himem := r.Intn(300)

		allocation := allocator.Allocate(Request{
			EligibleJobs:      eligible,
			ResourceTypes:     standardTypes,
			PerTypeLimits:     limits,
			HimemLimit:        &himem,
			Active:            active,
			DefaultMcoreCores: coreCount,
		})

		assert.LessOrEqual(t, allocation.Total(), float64(eligible)+1e-9)

		activeHimemCores := 0
		for _, resourceType := range catalog.HighMemoryNames() {
			activeHimemCores += active[resourceType].Cores.Active()
		}
		allocatedHimemCores := 0.0
		for resourceType, share := range allocation.Shares {
			assert.GreaterOrEqual(t, share, 0.0)
			if limit, ok := limits[resourceType]; ok {
				if active[resourceType].Jobs.Active() >= limit {
					assert.Equal(t, 0.0, share)
				}
			}
			if catalog.IsHighMemory(resourceType) {
				cores := 1
				if !catalog.IsSingleCore(resourceType) {
					cores = coreCount
				}
				allocatedHimemCores += share * float64(cores)
			}
		}
		if activeHimemCores < himem {
			assert.LessOrEqual(t, float64(activeHimemCores)+allocatedHimemCores, float64(himem)+1e-6)
		}
	}
}

func TestAllocate_HimemBudgetSharedBetweenHighMemoryTypes(t *testing.T) {
	allocator := NewAllocator(testCatalog(t), fixedPermuter{0, 1})
	allocation := allocator.Allocate(Request{
		EligibleJobs:      100,
		ResourceTypes:     []string{resourcetype.SingleCoreHighMemory, resourcetype.MultiCoreHighMemory},
		HimemLimit:        intPtr(24),
		Active:            map[string]model.ResourceTypeStats{},
		DefaultMcoreCores: 8,
	})
	// SCORE_HIMEM takes all 24 cores, leaving nothing for MCORE_HIMEM
	assert.InDelta(t, 24, allocation.Shares[resourcetype.SingleCoreHighMemory], 1e-9)
	assert.InDelta(t, 0, allocation.Shares[resourcetype.MultiCoreHighMemory], 1e-9)
}
