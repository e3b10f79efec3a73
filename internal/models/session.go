package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunState is the run lock embedded in a session under "_run"
type RunState struct {
	Running    bool       `json:"running"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	JobID      string     `json:"jobId,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Age returns how long the lock has been held, zero when it never started
func (r *RunState) Age(now time.Time) time.Duration {
	if r == nil || r.StartedAt == nil {
		return 0
	}
	return now.Sub(*r.StartedAt)
}

// SessionData is the JSON document kept per (account, resource key).
// Keys it does not know are carried through Extra and written back unchanged.
type SessionData struct {
	Mode      string     `json:"mode,omitempty"`
	Format    string     `json:"format,omitempty"`
	Results   []Artifact `json:"results,omitempty"`
	Run       *RunState  `json:"_run,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// sessionFields is SessionData without its custom codec
type sessionFields struct {
	Mode      string     `json:"mode,omitempty"`
	Format    string     `json:"format,omitempty"`
	Results   []Artifact `json:"results,omitempty"`
	Run       *RunState  `json:"_run,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

var knownSessionKeys = []string{"mode", "format", "results", "_run", "createdAt", "updatedAt"}

// NewSessionData returns the default session for a resource key
func NewSessionData(resourceKey string, now time.Time) *SessionData {
	return &SessionData{
		Mode:      resourceKey,
		Format:    "9:16",
		CreatedAt: &now,
		UpdatedAt: &now,
	}
}

// UnmarshalJSON decodes known fields and keeps the rest in Extra
func (s *SessionData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("session is not a JSON object: %w", err)
	}

	var known sessionFields
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("session has malformed fields: %w", err)
	}

	for _, k := range knownSessionKeys {
		delete(raw, k)
	}

	*s = SessionData{
		Mode:      known.Mode,
		Format:    known.Format,
		Results:   known.Results,
		Run:       known.Run,
		CreatedAt: known.CreatedAt,
		UpdatedAt: known.UpdatedAt,
	}
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

// MarshalJSON writes known fields over the preserved Extra keys
func (s SessionData) MarshalJSON() ([]byte, error) {
	knownBytes, err := json.Marshal(sessionFields{
		Mode:      s.Mode,
		Format:    s.Format,
		Results:   s.Results,
		Run:       s.Run,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return knownBytes, nil
	}

	merged := make(map[string]json.RawMessage, len(s.Extra)+len(knownSessionKeys))
	for k, v := range s.Extra {
		merged[k] = v
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(knownBytes, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Session is a stored session row
type Session struct {
	AccountID   string       `json:"accountId" db:"account_id"`
	ResourceKey string       `json:"resourceKey" db:"resource_key"`
	Data        *SessionData `json:"data" db:"data"`
	CreatedAt   time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time    `json:"updatedAt" db:"updated_at"`
}
