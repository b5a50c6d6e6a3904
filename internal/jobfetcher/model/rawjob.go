package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RawJob is a job record exactly as returned by the central scheduler.
// Numbers are held as json.Number so that large ids survive decoding.
type RawJob map[string]interface{}

// DecodeRawJobs decodes a JSON array of job records.
func DecodeRawJobs(data []byte) ([]RawJob, error) {
	var jobs []RawJob
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&jobs); err != nil {
		return nil, errors.WithStack(err)
	}
	return jobs, nil
}

func (r RawJob) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Int64 returns the value of key as an integer. ok is false when the key is absent or not integral.
func (r RawJob) Int64(key string) (value int64, ok bool) {
	switch v := r[key].(type) {
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func (r RawJob) int(key string) int {
	v, _ := r.Int64(key)
	return int(v)
}

// ConvertRawJob copies the identifiers and parameters of a raw record into a new Job.
// Lifecycle fields are left for the caller to set.
func ConvertRawJob(raw RawJob) (*Job, error) {
	pandaID, ok := raw.Int64("PandaID")
	if !ok {
		return nil, errors.Errorf("job record has no valid PandaID: %q", raw.String("PandaID"))
	}
	taskID, _ := raw.Int64("taskID")
	job := &Job{
		PandaID:         pandaID,
		TaskID:          taskID,
		AttemptNr:       raw.int("attemptNr"),
		CurrentPriority: raw.int("currentPriority"),
		CoreCount:       raw.int("coreCount"),
		ResourceType:    raw.String("resource_type"),
		JobParams:       raw,
	}
	if job.ResourceType == "" {
		job.ResourceType = raw.String("resourceType")
	}
	if zip, ok := raw.Int64("zipPerMB"); ok {
		z := int(zip)
		job.ZipPerMB = &z
	}
	return job, nil
}

// InputFileAttributes returns the declared input files of the job keyed by LFN.
// The scheduler sends each property as a comma separated list aligned with inFiles.
func (r RawJob) InputFileAttributes() map[string]FileAttributes {
	lfns := splitList(r.String("inFiles"))
	guids := splitList(r.String("GUID"))
	sizes := splitList(r.String("fsize"))
	checksums := splitList(r.String("checksum"))
	scopes := splitList(r.String("scopeIn"))
	datasets := splitList(r.String("realDatasetsIn"))
	endpoints := splitList(r.String("ddmEndPointIn"))

	result := make(map[string]FileAttributes, len(lfns))
	for i, lfn := range lfns {
		if lfn == "" || lfn == "NULL" {
			continue
		}
		attrs := FileAttributes{
			GUID:     at(guids, i),
			Checksum: at(checksums, i),
			Scope:    at(scopes, i),
			Dataset:  at(datasets, i),
			Endpoint: at(endpoints, i),
		}
		if size, err := strconv.ParseInt(at(sizes, i), 10, 64); err == nil {
			attrs.FSize = size
		}
		result[lfn] = attrs
	}
	return result
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}
