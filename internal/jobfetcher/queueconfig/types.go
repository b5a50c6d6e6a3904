package queueconfig

import (
	"math/rand"
	"sort"
	"strings"

	"golang.org/x/exp/maps"
)

const (
	QueueStatusTest = "test"

	SourceLabelTest    = "test"
	SourceLabelUnified = "unified"
	// DefaultSourceLabel is used when a queue does not configure one
	DefaultSourceLabel = "managed"

	DefaultCoreCount = 8

	resourceTypeLimitPrefix = "resource_type_limits."
	// HighMemoryLimitKey is the aggregate limit, in cores, over all high memory resource types
	HighMemoryLimitKey = "HIMEM"

	permilleTotal = 1000
)

// QueueConfig is the configuration of one compute queue.
type QueueConfig struct {
	QueueName       string `yaml:"-"`
	SiteName        string `yaml:"siteName"`
	ConfigID        int64  `yaml:"configID"`
	ProdSourceLabel string `yaml:"prodSourceLabel"`
	QueueStatus     string `yaml:"queueStatus"`
	// Weights in permille; the default label receives whatever is left of 1000
	ProdSourceLabelRandomWeightsPermille map[string]int    `yaml:"prodSourceLabelRandomWeightsPermille"`
	DdmEndpointIn                        string            `yaml:"ddmEndpointIn"`
	ZipPerMB                             *int              `yaml:"zipPerMB"`
	NQueueLimitJob                       int               `yaml:"nQueueLimitJob"`
	GetJobCriteria                       map[string]string `yaml:"getJobCriteria"`
	Extractor                            *ExtractorConfig  `yaml:"extractor"`
}

type ExtractorConfig struct {
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params"`
}

// SiteConfig is the site level information shared by every queue of a site.
type SiteConfig struct {
	Unified   bool                   `yaml:"unified"`
	CoreCount int                    `yaml:"coreCount"`
	Params    map[string]interface{} `yaml:"params"`
}

// SourceLabel is the label to request jobs with when no random weights apply.
func (q QueueConfig) SourceLabel(isUnified bool) string {
	if q.QueueStatus == QueueStatusTest {
		return SourceLabelTest
	}
	if isUnified {
		return SourceLabelUnified
	}
	if q.ProdSourceLabel == "" {
		return DefaultSourceLabel
	}
	return q.ProdSourceLabel
}

// ChooseSourceLabel draws a label from the permille weight table. defaultLabel takes the
// weight not assigned to any listed label. Without a table defaultLabel is returned and r is not used.
func (q QueueConfig) ChooseSourceLabel(r *rand.Rand, defaultLabel string) string {
	weights := q.ProdSourceLabelRandomWeightsPermille
	if len(weights) == 0 {
		return defaultLabel
	}
	labels := maps.Keys(weights)
	sort.Strings(labels)

	draw := r.Intn(permilleTotal)
	cumulative := 0
	for _, label := range labels {
		if weights[label] <= 0 {
			continue
		}
		cumulative += weights[label]
		if draw < cumulative {
			return label
		}
	}
	return defaultLabel
}

// ParseResourceTypeLimits extracts the integer valued resource_type_limits.<TYPE> entries from site params.
// Anything that is not an integer is ignored. The HIMEM aggregate is returned separately.
func ParseResourceTypeLimits(params map[string]interface{}) (limits map[string]int, himem *int) {
	limits = map[string]int{}
	for key, value := range params {
		if !strings.HasPrefix(key, resourceTypeLimitPrefix) {
			continue
		}
		resourceType := strings.TrimPrefix(key, resourceTypeLimitPrefix)
		limit, ok := asInt(value)
		if !ok || resourceType == "" {
			continue
		}
		if resourceType == HighMemoryLimitKey {
			l := limit
			himem = &l
			continue
		}
		limits[resourceType] = limit
	}
	return limits, himem
}

func asInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case uint64:
		return int(v), true
	default:
		return 0, false
	}
}
