package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sasha9954/photostudio-core/internal/adapter"
	apperrors "github.com/sasha9954/photostudio-core/internal/errors"
)

const maxShotsPerJob = 50

// StartJobRequest is the body of POST /api/jobs/{resourceKey}.
// Units without shots requests that many shots driven by the shared prompt.
type StartJobRequest struct {
	Units  int                `json:"units" validate:"min=0,max=50"`
	Prompt string             `json:"prompt" validate:"max=4000"`
	Shots  []adapter.ShotSpec `json:"shots" validate:"max=50,dive"`
	Format string             `json:"format" validate:"omitempty,oneof=9:16 1:1 4:5 16:9 3:4"`
	Debug  bool               `json:"debug"`
}

// assetSpec turns the request into the runner's work spec
func (req *StartJobRequest) assetSpec() (adapter.AssetSpec, error) {
	shots := req.Shots
	switch {
	case len(shots) == 0:
		shots = make([]adapter.ShotSpec, req.Units)
	case req.Units != 0 && req.Units != len(shots):
		return adapter.AssetSpec{}, apperrors.NewInvalidParameterError("units", "does not match the number of shots")
	}
	if len(shots) == 0 {
		return adapter.AssetSpec{}, apperrors.NewInvalidParameterError("shots", "at least one shot is required")
	}
	if len(shots) > maxShotsPerJob {
		return adapter.AssetSpec{}, apperrors.NewInvalidParameterError("shots", "too many shots")
	}

	format := req.Format
	if format == "" {
		format = "9:16"
	}
	return adapter.AssetSpec{
		Prompt: req.Prompt,
		Shots:  shots,
		Format: format,
		Debug:  req.Debug,
	}, nil
}

// handleStartJob handles POST /api/jobs/{resourceKey}
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	resourceKey := strings.ToUpper(mux.Vars(r)["resourceKey"])

	var req StartJobRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	spec, err := req.assetSpec()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	launched, err := s.runner.Launch(r.Context(), accountFromContext(r.Context()), resourceKey, spec)
	if err != nil {
		// a conflict still carries the rejected and the running job ids in its details
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"ok":    true,
		"jobId": launched.JobID,
		"state": launched.State,
		"cost":  launched.Cost,
	})
}

// handleGetJob handles GET /api/jobs/{jobId}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), accountFromContext(r.Context()), mux.Vars(r)["jobId"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "job": job})
}

// handleGetLock handles GET /api/locks/{resourceKey}
func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	resourceKey := strings.ToUpper(mux.Vars(r)["resourceKey"])
	run, err := s.locks.View(r.Context(), accountFromContext(r.Context()), resourceKey)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "resourceKey": resourceKey, "run": run})
}
