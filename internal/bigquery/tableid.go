// Package bigquery loads tables into BigQuery and reads them back.
package bigquery

import (
	"fmt"
	"strings"

	"dpm/internal/domain"
)

// TableID is a fully qualified table reference.
type TableID struct {
	Project string
	Dataset string
	Table   string
}

func (id TableID) String() string {
	return fmt.Sprintf("%s.%s.%s", id.Project, id.Dataset, id.Table)
}

// ParseTableID parses "dataset.table" or "project.dataset.table", optionally
// wrapped in backticks. defaultProject fills a two-part name.
func ParseTableID(s, defaultProject string) (TableID, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(s), "`"), ".")
	for _, p := range parts {
		if p == "" {
			return TableID{}, domain.ErrValidation("invalid table name %q: use dataset.table or project.dataset.table", s)
		}
	}
	switch len(parts) {
	case 3:
		return TableID{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
	case 2:
		if defaultProject == "" {
			return TableID{}, domain.ErrValidation("table %q has no project and no default project is set", s)
		}
		return TableID{Project: defaultProject, Dataset: parts[0], Table: parts[1]}, nil
	}
	return TableID{}, domain.ErrValidation("invalid table name %q: use dataset.table or project.dataset.table", s)
}
