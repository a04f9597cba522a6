package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paperdesk/paperdeskd/internal/ledger"
	"github.com/paperdesk/paperdeskd/pkg/models"
)

// algorithmWithRules is the GET /algorithms/{id} response shape (§6: "returns
// algorithm + rules").
type algorithmWithRules struct {
	models.Algorithm
	Rules []models.Rule `json:"rules"`
}

func (s *Server) handleListAlgorithms(w http.ResponseWriter, r *http.Request) {
	algos, err := s.store.ListAlgorithms(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, algos)
}

type createAlgorithmRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateAlgorithm(w http.ResponseWriter, r *http.Request) {
	var req createAlgorithmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	algo, err := s.store.CreateAlgorithm(userIDFrom(r), req.Name, req.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeCreated(w, algo)
}

func (s *Server) handleGetAlgorithm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	algo, err := s.store.GetAlgorithm(userIDFrom(r), id)
	if err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	rules, err := s.store.ListRules(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, algorithmWithRules{Algorithm: *algo, Rules: rules})
}

func (s *Server) handleUpdateAlgorithm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req createAlgorithmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	algo, err := s.store.UpdateAlgorithm(userIDFrom(r), id, req.Name, req.Description)
	if err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	writeOK(w, algo)
}

func (s *Server) handleDeleteAlgorithm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteAlgorithm(userIDFrom(r), id); err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	s.engine.Stop(id)
	writeOK(w, map[string]string{"deleted": id})
}

func (s *Server) handleToggleAlgorithm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	algo, err := s.store.ToggleAlgorithm(userIDFrom(r), id)
	if err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	if !algo.IsActive {
		s.engine.Stop(id)
	}
	writeOK(w, algo)
}

type ruleRequest struct {
	RuleType          models.RuleType          `json:"rule_type"`
	ConditionField    string                   `json:"condition_field"`
	ConditionOperator models.ConditionOperator `json:"condition_operator"`
	ConditionValue    string                   `json:"condition_value"`
	Action            string                   `json:"action"`
	OrderIndex        *int                     `json:"order_index,omitempty"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	algorithmID := chi.URLParam(r, "id")
	if _, err := s.store.GetAlgorithm(userIDFrom(r), algorithmID); err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateRuleRequest(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	rule, err := s.store.CreateRule(algorithmID, req.RuleType, req.ConditionField, req.ConditionOperator, req.ConditionValue, req.Action, req.OrderIndex)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeCreated(w, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	algorithmID := chi.URLParam(r, "id")
	ruleID := chi.URLParam(r, "ruleID")
	if _, err := s.store.GetAlgorithm(userIDFrom(r), algorithmID); err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateRuleRequest(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	orderIndex := 0
	if req.OrderIndex != nil {
		orderIndex = *req.OrderIndex
	}
	rule, err := s.store.UpdateRule(algorithmID, ruleID, req.RuleType, req.ConditionField, req.ConditionOperator, req.ConditionValue, req.Action, orderIndex)
	if err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	writeOK(w, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	algorithmID := chi.URLParam(r, "id")
	ruleID := chi.URLParam(r, "ruleID")
	if _, err := s.store.GetAlgorithm(userIDFrom(r), algorithmID); err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	if err := s.store.DeleteRule(algorithmID, ruleID); err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	writeOK(w, map[string]string{"deleted": ruleID})
}

func validateRuleRequest(req ruleRequest) string {
	switch req.ConditionOperator {
	case models.OpGT, models.OpLT, models.OpGE, models.OpLE, models.OpEQ, models.OpNE:
	default:
		return "unknown condition_operator"
	}
	if req.ConditionField == "" {
		return "condition_field is required"
	}
	if req.Action == "" {
		return "action is required"
	}
	return ""
}

func writeNotFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
