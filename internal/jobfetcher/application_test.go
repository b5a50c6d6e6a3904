package jobfetcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/gridedge/harvester/internal/common/agentcontext"
	"github.com/gridedge/harvester/internal/jobfetcher/configuration"
	"github.com/gridedge/harvester/internal/jobfetcher/model"
	"github.com/gridedge/harvester/internal/jobfetcher/queueconfig"
	"github.com/gridedge/harvester/internal/jobfetcher/resourcetype"
)

type fakeResourceTypeSource struct {
	definitions []resourcetype.Definition
	err         error
}

func (s *fakeResourceTypeSource) GetResourceTypes(context.Context) ([]resourcetype.Definition, error) {
	return s.definitions, s.err
}

func TestLoadCatalog(t *testing.T) {
	configured := []resourcetype.Definition{{Name: "SMALL", MaxCore: 1}, {Name: "LARGE", MinCore: 2}}
	served := []resourcetype.Definition{{Name: "SCORE", MaxCore: 1}}

	tests := map[string]struct {
		config   configuration.ResourceTypesConfig
		source   *fakeResourceTypeSource
		expected []string
	}{
		"standard types by default": {
			source:   &fakeResourceTypeSource{definitions: served},
			expected: []string{"SCORE", "MCORE", "SCORE_HIMEM", "MCORE_HIMEM"},
		},
		"configured types": {
			config:   configuration.ResourceTypesConfig{Types: configured},
			source:   &fakeResourceTypeSource{definitions: served},
			expected: []string{"SMALL", "LARGE"},
		},
		"served types replace configured ones": {
			config:   configuration.ResourceTypesConfig{Types: configured, LoadFromServer: true},
			source:   &fakeResourceTypeSource{definitions: served},
			expected: []string{"SCORE"},
		},
		"server failure keeps configured types": {
			config:   configuration.ResourceTypesConfig{Types: configured, LoadFromServer: true},
			source:   &fakeResourceTypeSource{err: errors.New("unavailable")},
			expected: []string{"SMALL", "LARGE"},
		},
		"empty answer keeps configured types": {
			config:   configuration.ResourceTypesConfig{Types: configured, LoadFromServer: true},
			source:   &fakeResourceTypeSource{},
			expected: []string{"SMALL", "LARGE"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			catalog, err := LoadCatalog(agentcontext.Background(), tc.config, tc.source)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, catalog.Names())
		})
	}
}

func TestLoadCatalog_DuplicateNames(t *testing.T) {
	config := configuration.ResourceTypesConfig{Types: []resourcetype.Definition{{Name: "A"}, {Name: "A"}}}
	_, err := LoadCatalog(agentcontext.Background(), config, nil)
	assert.Error(t, err)
}

func TestQueueLimits(t *testing.T) {
	queues := []queueconfig.QueueConfig{
		{QueueName: "q1", SiteName: "s1", NQueueLimitJob: 10, ProdSourceLabel: "managed"},
		{QueueName: "q2", SiteName: "s1", NQueueLimitJob: 0},
	}
	assert.Equal(t, []model.QueueLimit{
		{QueueName: "q1", SiteName: "s1", NQueueLimitJob: 10},
		{QueueName: "q2", SiteName: "s1", NQueueLimitJob: 0},
	}, QueueLimits(queues))
}

func TestOpenStore(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2023, 3, 14, 9, 0, 0, 0, time.UTC))
	tests := map[string]struct {
		config configuration.StoreConfig
		valid  bool
	}{
		"memory": {
			config: configuration.StoreConfig{Type: configuration.StoreTypeMemory, BatchSize: 10},
			valid:  true,
		},
		"sqlite": {
			config: configuration.StoreConfig{
				Type:      configuration.StoreTypeSqlite,
				Sqlite:    configuration.SqliteConfig{Path: filepath.Join(t.TempDir(), "jobs.db")},
				BatchSize: 10,
			},
			valid: true,
		},
		"unknown": {
			config: configuration.StoreConfig{Type: "mongo"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, closeStore, err := OpenStore(ctx, tc.config, clk)
			if !tc.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer closeStore()

			require.NoError(t, store.UpsertQueues(ctx, []model.QueueLimit{{QueueName: "q1", SiteName: "s1", NQueueLimitJob: 3}}))
			eligible, err := store.CountEligibleJobs(ctx, 10, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"q1": 3}, eligible)
		})
	}
}
