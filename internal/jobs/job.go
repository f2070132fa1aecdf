// Package jobs runs dataset exports asynchronously on a bounded worker pool
// and keeps a status record per job.
package jobs

import (
	"slices"
	"time"

	"github.com/dbsmedya/gorecipe/internal/connector"
	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// UnknownSize is reported when neither the exporter nor the output file
// tells how much was written.
const UnknownSize = "Unknown"

// FileDetail describes one file an export wrote.
type FileDetail struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size string `json:"size"`
}

// Info is the status record of a job. A job is RUNNING from submission and
// moves exactly once to COMPLETED or FAILED. Callers always receive copies.
type Info struct {
	JobID       string       `json:"job_id"`
	Dataset     string       `json:"dataset,omitempty"`
	Exporter    string       `json:"exporter,omitempty"`
	Status      Status       `json:"status"`
	Duration    float64      `json:"duration"`
	SizeStr     string       `json:"size_str"`
	Error       *string      `json:"error"`
	OutputPath  string       `json:"output_path,omitempty"`
	FileDetails []FileDetail `json:"file_details"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at,omitzero"`
}

// Finished reports whether the job reached a final state.
func (i Info) Finished() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

// ErrorMessage returns the failure message, or "" for a job that has not
// failed.
func (i Info) ErrorMessage() string {
	if i.Error == nil {
		return ""
	}
	return *i.Error
}

func (i Info) clone() Info {
	c := i
	c.FileDetails = slices.Clone(i.FileDetails)
	if i.Error != nil {
		msg := *i.Error
		c.Error = &msg
	}
	return c
}

func fileDetails(in []connector.FileDetail) []FileDetail {
	if len(in) == 0 {
		return nil
	}
	out := make([]FileDetail, len(in))
	for i, d := range in {
		out[i] = FileDetail{Name: d.Name, Path: d.Path, Size: d.Size}
	}
	return out
}

// ExportRequest describes one export job.
type ExportRequest struct {
	// Dataset is exported through its full view.
	Dataset string
	// Recipe replaces the dataset's stored recipe. When nil the recipe stored
	// with the dataset when the worker starts is used.
	Recipe recipe.Recipe
	// Exporter names a registered exporter.
	Exporter string
	// Params are passed to the exporter unchanged.
	Params map[string]any
	// Precomputed, when set, is exported as is and Dataset is only a label.
	Precomputed relation.Set
}
