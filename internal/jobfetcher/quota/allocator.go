package quota

import (
	"math"

	"github.com/gridedge/harvester/internal/jobfetcher/model"
	"github.com/gridedge/harvester/internal/jobfetcher/resourcetype"
)

// DefaultMultiCoreCount is used for the HIMEM cap when a queue does not declare a core count.
const DefaultMultiCoreCount = 8

// Permuter returns a permutation of [0, n). *rand.Rand satisfies it.
type Permuter interface {
	Perm(n int) []int
}

// Request holds everything needed to size one queue's fetch.
type Request struct {
	EligibleJobs  int
	ResourceTypes []string
	// Limits on starting + running jobs per resource type
	PerTypeLimits map[string]int
	// Aggregate limit on starting + running cores across all high memory types; nil when not configured
	HimemLimit *int
	// Active counts for this queue by resource type; nil when no statistics are available
	Active            map[string]model.ResourceTypeStats
	DefaultMcoreCores int
}

// Allocation is the fractional number of jobs to request per resource type, in the order they were sized.
type Allocation struct {
	Order  []string
	Shares map[string]float64
}

// AllPositive reports whether every resource type received a strictly positive share.
func (a Allocation) AllPositive() bool {
	for _, share := range a.Shares {
		if share <= 0 {
			return false
		}
	}
	return true
}

func (a Allocation) Total() float64 {
	total := 0.0
	for _, share := range a.Shares {
		total += share
	}
	return total
}

type Allocator struct {
	catalog  *resourcetype.Catalog
	permuter Permuter
}

func NewAllocator(catalog *resourcetype.Catalog, permuter Permuter) *Allocator {
	return &Allocator{
		catalog:  catalog,
		permuter: permuter,
	}
}

// Allocate splits req.EligibleJobs across the resource types.
// Types are visited in random order and each gets an even split of what is left. The split is
// clamped by the type's own limit and, for high memory types, by the HIMEM core budget left after
// active jobs and the high memory types already sized in this call.
func (a *Allocator) Allocate(req Request) Allocation {
	n := len(req.ResourceTypes)
	allocation := Allocation{
		Order:  make([]string, 0, n),
		Shares: make(map[string]float64, n),
	}
	if n == 0 {
		return allocation
	}

	coresPerMcoreJob := req.DefaultMcoreCores
	if coresPerMcoreJob <= 0 {
		coresPerMcoreJob = DefaultMultiCoreCount
	}
	usedHimemCores := float64(a.activeHighMemoryCores(req.Active))

	remaining := float64(req.EligibleJobs)
	for j, idx := range a.permuter.Perm(n) {
		resourceType := req.ResourceTypes[idx]
		share := remaining / float64(n-j)

		if limit, ok := req.PerTypeLimits[resourceType]; ok {
			share = math.Min(share, float64(limit-activeJobs(req.Active, resourceType)))
		}

		himemCapped := req.HimemLimit != nil && req.Active != nil && a.catalog.IsHighMemory(resourceType)
		coresPerJob := 1.0
		if !a.catalog.IsSingleCore(resourceType) {
			coresPerJob = float64(coresPerMcoreJob)
		}
		if himemCapped {
			share = math.Min(share, (float64(*req.HimemLimit)-usedHimemCores)/coresPerJob)
		}

		share = math.Max(share, 0)
		if himemCapped {
			usedHimemCores += share * coresPerJob
		}
		allocation.Order = append(allocation.Order, resourceType)
		allocation.Shares[resourceType] = share
		remaining -= share
	}
	return allocation
}

func (a *Allocator) activeHighMemoryCores(active map[string]model.ResourceTypeStats) int {
	total := 0
	for resourceType, stats := range active {
		if a.catalog.IsHighMemory(resourceType) {
			total += stats.Cores.Active()
		}
	}
	return total
}

func activeJobs(active map[string]model.ResourceTypeStats, resourceType string) int {
	if active == nil {
		return 0
	}
	return active[resourceType].Jobs.Active()
}
