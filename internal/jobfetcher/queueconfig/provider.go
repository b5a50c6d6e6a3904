package queueconfig

import (
	"os"
	"sort"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"gopkg.in/yaml.v2"
)

// Provider gives read access to the current queue and site configuration.
type Provider interface {
	Get(queueName string) (QueueConfig, bool)
	IsUnifiedQueue(siteName string) (bool, error)
	SiteParams(siteName string) map[string]interface{}
	CoreCount(siteName string) int
}

type fileContents struct {
	Queues map[string]QueueConfig `yaml:"queues"`
	Sites  map[string]SiteConfig  `yaml:"sites"`
}

type snapshot struct {
	queues map[string]QueueConfig
	sites  map[string]SiteConfig
}

// FileProvider serves queue configuration read from a YAML file.
// Refresh re-reads the file; readers always see a complete snapshot.
type FileProvider struct {
	path    string
	current atomic.Pointer[snapshot]
}

// NewFileProvider loads path and fails if the file is missing or invalid.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if err := p.Refresh(); err != nil {
		return nil, err
	}
	return p, nil
}

// Refresh reloads the file. On failure the previous configuration stays in place.
func (p *FileProvider) Refresh() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return errors.WithStack(err)
	}
	s, err := parse(data)
	if err != nil {
		return errors.WithMessagef(err, "invalid queue configuration in %s", p.path)
	}
	p.current.Store(s)
	log.Debugf("Loaded configuration for %d queues and %d sites from %s", len(s.queues), len(s.sites), p.path)
	return nil
}

// RefreshOrLog is Refresh for callers that carry on with the previous configuration on failure.
func (p *FileProvider) RefreshOrLog() {
	if err := p.Refresh(); err != nil {
		log.WithError(err).Warn("Failed to refresh queue configuration, keeping previous version")
	}
}

func parse(data []byte) (*snapshot, error) {
	var contents fileContents
	if err := yaml.Unmarshal(data, &contents); err != nil {
		return nil, errors.WithStack(err)
	}

	var result *multierror.Error
	queues := make(map[string]QueueConfig, len(contents.Queues))
	for name, q := range contents.Queues {
		q.QueueName = name
		if q.SiteName == "" {
			q.SiteName = name
		}
		if q.NQueueLimitJob < 0 {
			result = multierror.Append(result, errors.Errorf("queue %s: nQueueLimitJob must not be negative", name))
		}
		total := 0
		for label, weight := range q.ProdSourceLabelRandomWeightsPermille {
			if weight < 0 {
				result = multierror.Append(result, errors.Errorf("queue %s: negative weight for label %s", name, label))
			}
			total += weight
		}
		if total > permilleTotal {
			result = multierror.Append(result, errors.Errorf("queue %s: source label weights sum to %d permille", name, total))
		}
		if q.Extractor != nil && q.Extractor.Name == "" {
			result = multierror.Append(result, errors.Errorf("queue %s: extractor has no name", name))
		}
		queues[name] = q
	}
	for name, site := range contents.Sites {
		if site.CoreCount < 0 {
			result = multierror.Append(result, errors.Errorf("site %s: coreCount must not be negative", name))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	sites := contents.Sites
	if sites == nil {
		sites = map[string]SiteConfig{}
	}
	return &snapshot{queues: queues, sites: sites}, nil
}

func (p *FileProvider) Get(queueName string) (QueueConfig, bool) {
	q, ok := p.current.Load().queues[queueName]
	return q, ok
}

// Queues returns every configured queue sorted by name
func (p *FileProvider) Queues() []QueueConfig {
	queues := p.current.Load().queues
	names := maps.Keys(queues)
	sort.Strings(names)
	result := make([]QueueConfig, 0, len(names))
	for _, name := range names {
		result = append(result, queues[name])
	}
	return result
}

// IsUnifiedQueue reports whether the site pulls jobs of all source labels. A site without
// configuration is not unified.
func (p *FileProvider) IsUnifiedQueue(siteName string) (bool, error) {
	return p.current.Load().sites[siteName].Unified, nil
}

func (p *FileProvider) SiteParams(siteName string) map[string]interface{} {
	return p.current.Load().sites[siteName].Params
}

// CoreCount is the nominal number of cores of a multi core job at the site.
func (p *FileProvider) CoreCount(siteName string) int {
	coreCount := p.current.Load().sites[siteName].CoreCount
	if coreCount <= 0 {
		return DefaultCoreCount
	}
	return coreCount
}
