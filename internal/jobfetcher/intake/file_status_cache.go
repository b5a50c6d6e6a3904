package intake

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gridedge/harvester/internal/jobfetcher/model"
)

// FileStatusLookup reports how many files with the given identity exist per status among jobs in jobStatus.
type FileStatusLookup interface {
	FileStatus(ctx context.Context, lfn, fileType, endpoint, jobStatus string) (map[string]int, error)
}

// FileStatusCache remembers which statuses each LFN is known to have, so that only one file per LFN
// is marked to_prepare. It is built for one queue in one cycle and then thrown away.
//
// Statuses handed out by Assign stay pending until Commit, so that files from a batch that never
// reached the store do not count as being staged in.
type FileStatusCache struct {
	lookup   FileStatusLookup
	statuses map[string]map[string]bool
	pending  map[string]map[string]bool
}

func NewFileStatusCache(lookup FileStatusLookup) *FileStatusCache {
	return &FileStatusCache{
		lookup:   lookup,
		statuses: map[string]map[string]bool{},
		pending:  map[string]map[string]bool{},
	}
}

// Assign picks the initial status of a new file: preparing if the LFN is already being staged in,
// to_prepare otherwise. The chosen status is pending until Commit or Discard is called.
// The store is consulted only the first time an LFN is seen.
func (c *FileStatusCache) Assign(ctx context.Context, lfn, fileType, endpoint string) (string, error) {
	known, ok := c.statuses[lfn]
	if !ok {
		counts, err := c.lookup.FileStatus(ctx, lfn, fileType, endpoint, model.JobStatusStarting)
		if err != nil {
			return "", errors.WithMessagef(err, "failed to look up status of file %s", lfn)
		}
		known = make(map[string]bool, len(counts))
		for status := range counts {
			known[status] = true
		}
		c.statuses[lfn] = known
	}
	pending := c.pending[lfn]

	status := model.FileStatusToPrepare
	for _, inFlight := range model.InFlightFileStatuses {
		if known[inFlight] || pending[inFlight] {
			status = model.FileStatusPreparing
			break
		}
	}
	if pending == nil {
		pending = map[string]bool{}
		c.pending[lfn] = pending
	}
	pending[status] = true
	return status, nil
}

// Commit makes the pending statuses known to later calls of Assign.
func (c *FileStatusCache) Commit() {
	for lfn, statuses := range c.pending {
		for status := range statuses {
			c.statuses[lfn][status] = true
		}
	}
	c.pending = map[string]map[string]bool{}
}

// Discard forgets the pending statuses.
func (c *FileStatusCache) Discard() {
	c.pending = map[string]map[string]bool{}
}
