package configuration

import (
	"time"

	"github.com/gridedge/harvester/internal/common/logging"
	"github.com/gridedge/harvester/internal/jobfetcher/resourcetype"
)

const DefaultConfigPath = "config/jobfetcher"

type JobFetcherConfiguration struct {
	// Identity of this agent, sent to the central scheduler as harvester-<AgentId>; a random id when empty
	AgentId string
	// Node name sent with every fetch; defaults to the hostname
	NodeName      string
	Logging       logging.Config
	Http          HttpConfig
	Metrics       MetricsConfig
	Fetcher       FetcherConfig
	QueueConfig   QueueConfigConfig
	ResourceTypes ResourceTypesConfig
	Store         StoreConfig
	Panda         PandaConfig
}

type HttpConfig struct {
	Port uint16 `validate:"required"`
}

type MetricsConfig struct {
	Port uint16 `validate:"required"`
}

type FetcherConfig struct {
	// Maximum number of queues handled per cycle
	NQueues int `validate:"gt=0"`
	// A queue is not considered again until this long after it was last selected
	LookupTime time.Duration `validate:"gte=0"`
	// Maximum number of jobs fetched for one queue in one cycle
	MaxJobs   int           `validate:"gt=0"`
	SleepTime time.Duration `validate:"gt=0"`
}

type QueueConfigConfig struct {
	Path string `validate:"required"`
	// How often queue limits are written to the store. The file itself is reread every cycle.
	RefreshInterval time.Duration `validate:"gt=0"`
}

type ResourceTypesConfig struct {
	// Replace the configured types with the list served by the central scheduler at startup
	LoadFromServer bool
	Types          []resourcetype.Definition `validate:"dive"`
}

type StoreType string

const (
	StoreTypePostgres StoreType = "postgres"
	StoreTypeSqlite   StoreType = "sqlite"
	StoreTypeMemory   StoreType = "memory"
)

type StoreConfig struct {
	Type      StoreType `validate:"oneof=postgres sqlite memory"`
	Postgres  PostgresConfig
	Sqlite    SqliteConfig
	BatchSize int `validate:"gt=0"`
}

type PostgresConfig struct {
	Connection map[string]string
}

type SqliteConfig struct {
	Path string
}

type AuthType string

const (
	AuthTypeX509 AuthType = "x509"
	AuthTypeOidc AuthType = "oidc"
)

type PandaConfig struct {
	UrlSSL   string        `validate:"required,url"`
	Timeout  time.Duration `validate:"gt=0"`
	AuthType AuthType      `validate:"oneof=x509 oidc"`
	// Bearer token, or file:<path> to read it from a file on every request
	AuthToken     string
	AuthOrigin    string
	CertFile      string
	KeyFile       string
	CaCert        string
	RetryAttempts uint `validate:"gt=0"`
	RetryDelay    time.Duration
}
