// Package adapter wraps the external generation provider behind the Generator capability.
package adapter

import "context"

// ShotSpec describes one requested output
type ShotSpec struct {
	Prompt string `json:"prompt" validate:"max=2000"`
}

// AssetSpec is the work spec of one generation job.
// Each shot is one billable unit.
type AssetSpec struct {
	ResourceKey string     `json:"resourceKey"`
	Prompt      string     `json:"prompt"`
	Shots       []ShotSpec `json:"shots"`
	Format      string     `json:"format"`
	Debug       bool       `json:"debug"`
}

// Units returns the number of billable units in the spec
func (s AssetSpec) Units() int {
	return len(s.Shots)
}

// GeneratedArtifact is raw provider output, not yet persisted
type GeneratedArtifact struct {
	ID       string
	MIMEType string
	Data     []byte
}

// Result reports the outcome of a generation call. Failures are OK=false with a
// message; implementations must not panic or return transport errors separately.
type Result struct {
	OK        bool
	Artifacts []GeneratedArtifact
	Message   string
}

// Generator is the opaque generation capability used by the job runner
type Generator interface {
	GenerateAsset(ctx context.Context, spec AssetSpec) Result
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, spec AssetSpec) Result

// GenerateAsset calls f
func (f GeneratorFunc) GenerateAsset(ctx context.Context, spec AssetSpec) Result {
	return f(ctx, spec)
}
