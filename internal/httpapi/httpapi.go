// Package httpapi exposes the session service façade's operations over
// HTTP for the UI layer, using gorilla/mux for routing.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/navshield/sentineltrace/pkg/sentinelerrors"
	"github.com/navshield/sentineltrace/pkg/service"
	"github.com/navshield/sentineltrace/pkg/store"
)

// requestIDHeader carries a per-request correlation id on the response, so a
// caller can tie a session-service HTTP call to its reply.
const requestIDHeader = "X-Request-Id"

// withRequestID stamps every response with the request's own id, or a fresh
// one when the request carries none. The id is set on the response header
// only; it is not added to log fields.
func withRequestID(logger *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r)
	})
}

// Handler serves the session service API.
type Handler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewRouter builds the mux.Router exposing the session service API.
func NewRouter(svc *service.Service, logger *logrus.Logger) *mux.Router {
	h := &Handler{svc: svc, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/start-monitor", h.startMonitor).Methods(http.MethodPost)
	r.HandleFunc("/sessions/start-catalog", h.startCatalog).Methods(http.MethodPost)
	r.HandleFunc("/sessions/stop-active", h.stopActive).Methods(http.MethodPost)
	r.HandleFunc("/tests", h.listTests).Methods(http.MethodGet)
	r.HandleFunc("/tests/{id}", h.getTest).Methods(http.MethodGet)
	r.HandleFunc("/tests/{id}", h.updateTest).Methods(http.MethodPatch)
	r.HandleFunc("/tests/{id}", h.deleteTest).Methods(http.MethodDelete)
	r.HandleFunc("/tests/{id}/review", h.saveTestReview).Methods(http.MethodPost)
	r.HandleFunc("/tests/{id}/severity", h.updateSeverity).Methods(http.MethodPost)
	r.Use(func(next http.Handler) http.Handler { return withRequestID(logger, next) })
	return r
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Warn("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if code, ok := sentinelerrors.AsCode(err); ok {
		switch code {
		case sentinelerrors.CodeAlreadyActive, sentinelerrors.CodeConflict:
			status = http.StatusConflict
		case sentinelerrors.CodeNotFound:
			status = http.StatusNotFound
		case sentinelerrors.CodeInvalidTarget, sentinelerrors.CodeConfigInvalid:
			status = http.StatusBadRequest
		case sentinelerrors.CodeSensorUnavailable, sentinelerrors.CodeStoreUnavailable:
			status = http.StatusServiceUnavailable
		}
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessions)
}

type startMonitorRequest struct {
	TargetExecutable string `json:"target_executable"`
	PreferredPID     int64  `json:"preferred_pid"`
	Host             string `json:"host"`
	User             string `json:"user"`
	OSVersion        string `json:"os_version"`
}

func (h *Handler) startMonitor(w http.ResponseWriter, r *http.Request) {
	var req startMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, sentinelerrors.InvalidTarget("start_monitor", "malformed request body"))
		return
	}
	sessionID, err := h.svc.StartMonitor(req.TargetExecutable, req.PreferredPID, req.Host, req.User, req.OSVersion)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]int64{"session_id": sessionID})
}

type startCatalogRequest struct {
	startMonitorRequest
	TechniqueNumber string `json:"technique_number"`
	TechniqueName   string `json:"technique_name"`
	Description     string `json:"description"`
}

func (h *Handler) startCatalog(w http.ResponseWriter, r *http.Request) {
	var req startCatalogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, sentinelerrors.InvalidTarget("start_catalog", "malformed request body"))
		return
	}
	meta := store.TestMetadata{
		TechniqueNumber: req.TechniqueNumber,
		TechniqueName:   req.TechniqueName,
		Description:     req.Description,
	}
	sessionID, err := h.svc.StartCatalog(meta, req.TargetExecutable, req.PreferredPID, req.Host, req.User, req.OSVersion)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]int64{"session_id": sessionID})
}

func (h *Handler) stopActive(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.StopActive()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.svc.ListCatalogedTests()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tests)
}

func (h *Handler) testID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, sentinelerrors.InvalidTarget("test_id", "not a valid integer")
	}
	return id, nil
}

func (h *Handler) getTest(w http.ResponseWriter, r *http.Request) {
	id, err := h.testID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	test, err := h.svc.GetTestSummary(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, test)
}

type updateTestRequest struct {
	TechniqueNumber *string `json:"technique_number"`
	TechniqueName   *string `json:"technique_name"`
	Description     *string `json:"description"`
}

func (h *Handler) updateTest(w http.ResponseWriter, r *http.Request) {
	id, err := h.testID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req updateTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, sentinelerrors.InvalidTarget("update_test", "malformed request body"))
		return
	}
	if err := h.svc.UpdateTest(id, req.TechniqueNumber, req.TechniqueName, req.Description); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteTest(w http.ResponseWriter, r *http.Request) {
	id, err := h.testID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.DeleteTest(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reviewRequest struct {
	SeverityLabel string `json:"severity_label"`
	Notes         string `json:"notes"`
}

func (h *Handler) saveTestReview(w http.ResponseWriter, r *http.Request) {
	id, err := h.testID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, sentinelerrors.InvalidTarget("save_test_review", "malformed request body"))
		return
	}
	if err := h.svc.SaveTestReview(id, req.SeverityLabel, req.Notes); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type severityRequest struct {
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

func (h *Handler) updateSeverity(w http.ResponseWriter, r *http.Request) {
	id, err := h.testID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req severityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, sentinelerrors.InvalidTarget("update_severity", "malformed request body"))
		return
	}
	if err := h.svc.UpdateSeverity(id, req.Label, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
