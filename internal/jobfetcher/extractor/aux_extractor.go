package extractor

import (
	"path"
	"regexp"
	"strings"

	"github.com/gridedge/harvester/internal/jobfetcher/model"
)

const (
	AuxExtractorName = "aux"

	containerPrefixParam = "containerPrefix"
	userSourceLabel      = "user"
)

var (
	sourceURLPattern   = regexp.MustCompile(`\s--sourceURL\s+(\S+)`)
	userSandboxPattern = regexp.MustCompile(`-a\s+(\S+)`)
	sandboxPattern     = regexp.MustCompile(`-i\s+(\S+)`)
)

// AuxExtractor turns the transformation script, the user sandbox and the container image of a job
// into aux_input files so they are staged in like regular inputs.
type AuxExtractor struct {
	containerPrefix string
}

func NewAuxExtractor(params map[string]string) (Extractor, error) {
	return &AuxExtractor{containerPrefix: params[containerPrefixParam]}, nil
}

func (e *AuxExtractor) GetAuxInputs(job *model.Job) map[string]model.FileAttributes {
	var urls []string

	if trf := job.JobParams.String("transformation"); strings.HasPrefix(trf, "http") {
		urls = append(urls, trf)
	}

	jobPars := job.JobParams.String("jobPars")
	if m := sourceURLPattern.FindStringSubmatch(jobPars); m != nil {
		sourceURL := m[1]
		job.JobParams["sourceURL"] = sourceURL
		pattern := sandboxPattern
		if job.JobParams.String("prodSourceLabel") == userSourceLabel {
			pattern = userSandboxPattern
		}
		if sandbox := pattern.FindStringSubmatch(jobPars); sandbox != nil {
			urls = append(urls, sourceURL+"/cache/"+sandbox[1])
		}
	}

	if image := job.JobParams.String("container_name"); image != "" {
		if e.containerPrefix != "" && !strings.HasPrefix(image, e.containerPrefix) {
			image = e.containerPrefix + image
		}
		urls = append(urls, image)
	}

	result := make(map[string]model.FileAttributes, len(urls))
	for _, url := range urls {
		result[path.Base(url)] = model.FileAttributes{
			Scope:    model.FileTypeAuxInput,
			FileType: model.FileTypeAuxInput,
			URL:      url,
		}
	}
	return result
}
