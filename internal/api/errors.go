package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/investigator/internal/model"
)

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var errBadRequest = eris.New("bad request")

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{model.ErrUnknownType, http.StatusUnprocessableEntity, "unknown_type"},
	{model.ErrInvalidConfig, http.StatusUnprocessableEntity, "invalid_config"},
	{model.ErrNoEngine, http.StatusUnprocessableEntity, "no_engine"},
	{model.ErrNotFound, http.StatusNotFound, "not_found"},
	{model.ErrDuplicateName, http.StatusConflict, "duplicate_name"},
	{model.ErrInactive, http.StatusConflict, "inactive"},
	{model.ErrAlreadyRunning, http.StatusConflict, "already_running"},
	{model.ErrInUse, http.StatusConflict, "in_use"},
	{model.ErrExecutionRunning, http.StatusConflict, "execution_running"},
}

// statusFor maps a domain error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := errorBody{Error: code, Message: err.Error()}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		body.Message = "internal error"
	}
	writeJSON(w, status, body)
}
