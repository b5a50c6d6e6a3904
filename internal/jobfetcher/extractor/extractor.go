package extractor

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/gridedge/harvester/internal/jobfetcher/model"
)

// Extractor discovers auxiliary inputs of a job that are not part of its declared input files.
type Extractor interface {
	GetAuxInputs(job *model.Job) map[string]model.FileAttributes
}

// Factory builds an Extractor from the params of a queue's extractor configuration.
type Factory func(params map[string]string) (Extractor, error)

// Registry maps extractor names to factories.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// DefaultRegistry knows every extractor shipped with the job fetcher.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(AuxExtractorName, NewAuxExtractor)
	return r
}

func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

func (r *Registry) Names() []string {
	names := maps.Keys(r.factories)
	sort.Strings(names)
	return names
}

func (r *Registry) New(name string, params map[string]string) (Extractor, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, errors.Errorf("unknown extractor %q, known extractors are %v", name, r.Names())
	}
	e, err := factory(params)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create extractor %s", name)
	}
	return e, nil
}
