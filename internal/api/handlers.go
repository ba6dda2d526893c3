package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/investigator/internal/model"
	"github.com/sells-group/investigator/internal/store"
)

type createInstanceRequest struct {
	TypeCode      string          `json:"typeCode"`
	CustomName    string          `json:"customName"`
	Configuration json.RawMessage `json:"configuration"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

type startResponse struct {
	InstanceID  string                `json:"instance_id"`
	ExecutionID int64                 `json:"execution_id"`
	Status      model.ExecutionStatus `json:"status"`
	StartedAt   string                `json:"started_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Catalog().List())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.reg.GetSummary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.InstanceFilter{TypeCode: q.Get("type")}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, eris.Wrap(errBadRequest, "active must be a boolean"))
			return
		}
		filter.ActiveOnly = active
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter.Limit = limit

	views, err := s.reg.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if views == nil {
		views = []model.InstanceView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, eris.Wrap(errBadRequest, "invalid request body"))
		return
	}
	if req.TypeCode == "" {
		s.writeError(w, r, eris.Wrap(errBadRequest, "typeCode is required"))
		return
	}

	inst, err := s.reg.Create(r.Context(), req.TypeCode, req.CustomName, req.Configuration)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": inst.ID})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.reg.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	exec, err := s.orch.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{
		InstanceID:  exec.InvestigatorID,
		ExecutionID: exec.ID,
		Status:      exec.Status,
		StartedAt:   exec.StartedAt.UTC().Format(timeLayout),
	})
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		s.writeError(w, r, eris.Wrap(errBadRequest, `body must be {"active": bool}`))
		return
	}
	if err := s.reg.SetActive(r.Context(), chi.URLParam(r, "id"), *req.Active); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.reg.Results(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []model.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	execs, err := s.reg.Executions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if execs == nil {
		execs = []model.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := executionID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	check, err := s.auditor.VerifyCount(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	id, err := executionID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	changed, err := s.auditor.CorrectCount(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution_id": id, "changed": changed})
}

func (s *Server) handleCorrectAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.auditor.CorrectAllCounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"corrected": n})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func executionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Wrap(errBadRequest, "execution id must be a positive integer")
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Wrapf(errBadRequest, "%s must be a non-negative integer", key)
	}
	return n, nil
}
