// Package job loads declarative job files and runs them once or on a cron
// schedule.
package job

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"dpm/internal/consolidate"
	"dpm/internal/domain"
	"dpm/internal/gcsload"
	"dpm/internal/transfer"
)

// APIVersion is the only accepted value of apiVersion.
const APIVersion = "dpm/v1"

// Kind selects what a job does.
type Kind string

// Job kinds.
const (
	KindTransfer      Kind = "transfer"
	KindGCSToBigQuery Kind = "gcs_to_bigquery"
	KindConsolidate   Kind = "consolidate"
	KindDeleteTables  Kind = "bigquery_delete_tables"
)

const jobFileGlob = "*.y*ml"

var kinds = []Kind{KindTransfer, KindGCSToBigQuery, KindConsolidate, KindDeleteTables}

// Job is one document of a job file. Exactly the block matching Kind is set.
type Job struct {
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`
	Name       string `yaml:"name" json:"name"`
	Kind       Kind   `yaml:"kind" json:"kind"`
	// Schedule is a standard five-field cron expression or a descriptor
	// such as @daily. Jobs without one only run on demand.
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`

	Transfer      *TransferSpec     `yaml:"transfer,omitempty" json:"transfer,omitempty"`
	GCSToBigQuery *gcsload.Options  `yaml:"gcs_to_bigquery,omitempty" json:"gcs_to_bigquery,omitempty"`
	Consolidate   *ConsolidateSpec  `yaml:"consolidate,omitempty" json:"consolidate,omitempty"`
	DeleteTables  *DeleteTablesSpec `yaml:"bigquery_delete_tables,omitempty" json:"bigquery_delete_tables,omitempty"`

	// Path is the file the job was loaded from.
	Path string `yaml:"-" json:"path,omitempty"`
}

// ReadOptions is transfer.ReadOptions with the transfer defaults applied to
// the keys a document leaves out.
type ReadOptions transfer.ReadOptions

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *ReadOptions) UnmarshalYAML(value *yaml.Node) error {
	opts := transfer.DefaultReadOptions()
	if err := value.Decode(&opts); err != nil {
		return err
	}
	*r = ReadOptions(opts)
	return nil
}

func readOptions(r *ReadOptions) transfer.ReadOptions {
	if r == nil {
		return transfer.DefaultReadOptions()
	}
	return transfer.ReadOptions(*r)
}

// TransferSpec copies one table.
type TransferSpec struct {
	Source transfer.SourceSpec `yaml:"source" json:"source"`
	Target transfer.TargetSpec `yaml:"target" json:"target"`
	Read   *ReadOptions        `yaml:"read,omitempty" json:"read,omitempty"`
}

// ConsolidateSpec merges two tables on key fields and writes the result.
type ConsolidateSpec struct {
	Initial              transfer.SourceSpec `yaml:"initial" json:"initial"`
	ToMerge              transfer.SourceSpec `yaml:"to_merge" json:"to_merge"`
	Target               transfer.TargetSpec `yaml:"target" json:"target"`
	KeyFields            []string            `yaml:"key_fields" json:"key_fields"`
	Policy               string              `yaml:"policy" json:"policy"`
	DateField            string              `yaml:"date_field,omitempty" json:"date_field,omitempty"`
	DateFormat           string              `yaml:"date_format,omitempty" json:"date_format,omitempty"`
	SkipSchemaValidation bool                `yaml:"skip_schema_validation,omitempty" json:"skip_schema_validation,omitempty"`
	Read                 *ReadOptions        `yaml:"read,omitempty" json:"read,omitempty"`
}

// DeleteTablesSpec empties BigQuery datasets.
type DeleteTablesSpec struct {
	// Project defaults to the runner's project.
	Project  string   `yaml:"project,omitempty" json:"project,omitempty"`
	Datasets []string `yaml:"datasets" json:"datasets"`
}

// Validate checks the job without touching any external system.
func (j *Job) Validate() error {
	if j.APIVersion != "" && j.APIVersion != APIVersion {
		return domain.ErrValidation("job %q: unsupported apiVersion %q", j.Name, j.APIVersion)
	}
	if strings.TrimSpace(j.Name) == "" {
		return domain.ErrValidation("job name is required")
	}
	if !slices.Contains(kinds, j.Kind) {
		return domain.ErrValidation("job %q: unknown kind %q", j.Name, j.Kind)
	}
	if j.Schedule != "" {
		if _, err := cron.ParseStandard(j.Schedule); err != nil {
			return domain.ErrValidation("job %q: invalid schedule %q: %v", j.Name, j.Schedule, err)
		}
	}

	set := map[Kind]bool{
		KindTransfer:      j.Transfer != nil,
		KindGCSToBigQuery: j.GCSToBigQuery != nil,
		KindConsolidate:   j.Consolidate != nil,
		KindDeleteTables:  j.DeleteTables != nil,
	}
	for k, ok := range set {
		if ok && k != j.Kind {
			return domain.ErrValidation("job %q: block %s does not match kind %s", j.Name, k, j.Kind)
		}
	}
	if !set[j.Kind] {
		return domain.ErrValidation("job %q: kind %s needs a %s block", j.Name, j.Kind, j.Kind)
	}

	if err := j.validateBlock(); err != nil {
		return fmt.Errorf("job %q: %w", j.Name, err)
	}
	return nil
}

func (j *Job) validateBlock() error {
	switch j.Kind {
	case KindTransfer:
		if _, err := j.Transfer.Source.Source(); err != nil {
			return err
		}
		_, err := j.Transfer.Target.Target()
		return err
	case KindGCSToBigQuery:
		opts := *j.GCSToBigQuery
		if opts.Project == "" {
			// the runner fills in its own project
			opts.Project = "default"
		}
		return opts.Validate()
	case KindConsolidate:
		c := j.Consolidate
		if _, err := c.Initial.Source(); err != nil {
			return fmt.Errorf("initial: %w", err)
		}
		if _, err := c.ToMerge.Source(); err != nil {
			return fmt.Errorf("to_merge: %w", err)
		}
		if _, err := c.Target.Target(); err != nil {
			return err
		}
		if len(c.KeyFields) == 0 {
			return domain.ErrValidation("key_fields must not be empty")
		}
		policy, err := consolidate.ParsePolicy(c.Policy)
		if err != nil {
			return err
		}
		if policy.TimeBased() && c.DateField == "" {
			return domain.ErrValidation("policy %s needs date_field", policy)
		}
	case KindDeleteTables:
		if len(j.DeleteTables.Datasets) == 0 {
			return domain.ErrValidation("at least one dataset is required")
		}
	}
	return nil
}

// Load reads every job document in path and validates each one.
func Load(path string) ([]*Job, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	jobs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, j := range jobs {
		j.Path = path
	}
	return jobs, nil
}

// Parse decodes a multi-document YAML stream. Unknown keys are rejected.
func Parse(data []byte) ([]*Job, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var jobs []*Job
	for {
		var j Job
		err := decoder.Decode(&j)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := j.Validate(); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	if len(jobs) == 0 {
		return nil, domain.ErrValidation("no job documents found")
	}
	return jobs, nil
}

// LoadDir loads every .yaml and .yml file in dir, in name order. Job names
// must be unique across the directory.
func LoadDir(dir string) ([]*Job, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("job directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("job directory: %s is not a directory", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, jobFileGlob))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	slices.Sort(matches)

	var all []*Job
	seen := map[string]string{}
	for _, path := range matches {
		if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
			continue
		}
		jobs, err := Load(path)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			if prev, ok := seen[j.Name]; ok {
				return nil, domain.ErrValidation("job %q defined in both %s and %s", j.Name, prev, path)
			}
			seen[j.Name] = path
		}
		all = append(all, jobs...)
	}
	return all, nil
}

// Find returns the job called name.
func Find(jobs []*Job, name string) (*Job, error) {
	for _, j := range jobs {
		if j.Name == name {
			return j, nil
		}
	}
	return nil, domain.ErrNotFound("job %q not found", name)
}
