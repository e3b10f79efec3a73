package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/sasha9954/photostudio-core/internal/errors"
	"github.com/sasha9954/photostudio-core/internal/logging"
	"github.com/sasha9954/photostudio-core/internal/types"
)

const debugCauseLen = 300

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	OK    bool               `json:"ok"`
	Error types.ServiceError `json:"error"`
}

// respondError converts err at the boundary into {ok:false, error:{code, message, details}}.
// Internal causes only appear, truncated, when debug is on.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("request failed")
	}

	svcErr := catErr.ToServiceError()
	if s.config.Debug && catErr.Cause != nil {
		details := make(map[string]any, len(svcErr.Details)+1)
		for k, v := range svcErr.Details {
			details[k] = v
		}
		details["debug"] = apperrors.DebugCause(catErr.Cause, debugCauseLen)
		svcErr.Details = details
	}

	respondJSON(w, catErr.StatusCode, ErrorResponse{Error: *svcErr})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// decodeAndValidate parses a JSON body and runs its validate tags
func (s *Server) decodeAndValidate(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return apperrors.NewInvalidParameterError("body", "malformed JSON")
	}
	return s.validationError(s.validate.Struct(v))
}

// validationError maps the first failed validator tag to INVALID_PARAMETER
func (s *Server) validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return apperrors.NewInvalidParameterError(fe.Field(), reason)
	}
	return apperrors.NewInvalidParameterError("body", err.Error())
}
