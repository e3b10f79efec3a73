package models

import (
	"encoding/json"
	"time"

	"github.com/sasha9954/photostudio-core/internal/types"
)

// JobRecord represents a generation job in the database
type JobRecord struct {
	JobID       string          `json:"jobId" db:"job_id"`
	AccountID   string          `json:"-" db:"account_id"`
	ResourceKey string          `json:"resourceKey" db:"resource_key"`
	State       types.JobState  `json:"state" db:"state"`
	Progress    int             `json:"progress" db:"progress"`
	Result      json.RawMessage `json:"result,omitempty" db:"result_json"` // only set when done
	Error       *string         `json:"error,omitempty" db:"error"`        // only set when error
	Spent       int64           `json:"spent" db:"spent"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// JobUpdate is a partial update; nil fields are left untouched
type JobUpdate struct {
	State    *types.JobState
	Progress *int
	Result   json.RawMessage
	Error    *string
	Spent    *int64
}

// IsEmpty reports whether the update carries no field
func (u JobUpdate) IsEmpty() bool {
	return u.State == nil && u.Progress == nil && u.Result == nil && u.Error == nil && u.Spent == nil
}

// Artifact is one persisted output of a generation call
type Artifact struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MIMEType string `json:"mimeType"`
}

// JobResult is the payload stored on a finished job
type JobResult struct {
	Results []Artifact `json:"results"`
	Spent   int64      `json:"spent"`
}
