package ledger

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

// CreateRule inserts a rule under algorithmID. If orderIndex is nil, the
// rule is appended after the current maximum order_index.
func (s *Store) CreateRule(algorithmID string, ruleType models.RuleType, field string, op models.ConditionOperator, value, action string, orderIndex *int) (*models.Rule, error) {
	idx := 0
	if orderIndex != nil {
		idx = *orderIndex
	} else {
		row := s.db.QueryRow(`SELECT COALESCE(MAX(order_index), -1) + 1 FROM algorithm_rules WHERE algorithm_id = ?`, algorithmID)
		if err := row.Scan(&idx); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	r := &models.Rule{
		ID:                uuid.NewString(),
		AlgorithmID:       algorithmID,
		RuleType:          ruleType,
		ConditionField:    field,
		ConditionOperator: op,
		ConditionValue:    value,
		Action:            action,
		OrderIndex:        idx,
		CreatedAt:         now,
	}
	_, err := s.db.Exec(
		`INSERT INTO algorithm_rules (id, algorithm_id, rule_type, condition_field, condition_operator, condition_value, action, order_index, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AlgorithmID, r.RuleType, r.ConditionField, r.ConditionOperator, r.ConditionValue, r.Action, r.OrderIndex,
		now.Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRules returns an algorithm's rules sorted by ascending order_index,
// per §4.5/§4.6's "sort rules by ascending order_index" requirement.
func (s *Store) ListRules(algorithmID string) ([]models.Rule, error) {
	rows, err := s.db.Query(
		`SELECT id, algorithm_id, rule_type, condition_field, condition_operator, condition_value, action, order_index, created_at
		   FROM algorithm_rules WHERE algorithm_id = ? ORDER BY order_index ASC`, algorithmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Rule
	for rows.Next() {
		var r models.Rule
		var created string
		if err := rows.Scan(&r.ID, &r.AlgorithmID, &r.RuleType, &r.ConditionField, &r.ConditionOperator, &r.ConditionValue, &r.Action, &r.OrderIndex, &created); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRule looks up a single rule scoped to its algorithm.
func (s *Store) GetRule(algorithmID, ruleID string) (*models.Rule, error) {
	row := s.db.QueryRow(
		`SELECT id, algorithm_id, rule_type, condition_field, condition_operator, condition_value, action, order_index, created_at
		   FROM algorithm_rules WHERE id = ? AND algorithm_id = ?`, ruleID, algorithmID)
	var r models.Rule
	var created string
	err := row.Scan(&r.ID, &r.AlgorithmID, &r.RuleType, &r.ConditionField, &r.ConditionOperator, &r.ConditionValue, &r.Action, &r.OrderIndex, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt, _ = time.Parse(timeLayout, created)
	return &r, nil
}

// UpdateRule overwrites a rule's fields.
func (s *Store) UpdateRule(algorithmID, ruleID string, ruleType models.RuleType, field string, op models.ConditionOperator, value, action string, orderIndex int) (*models.Rule, error) {
	if _, err := s.GetRule(algorithmID, ruleID); err != nil {
		return nil, err
	}
	_, err := s.db.Exec(
		`UPDATE algorithm_rules SET rule_type = ?, condition_field = ?, condition_operator = ?, condition_value = ?, action = ?, order_index = ?
		   WHERE id = ? AND algorithm_id = ?`,
		ruleType, field, op, value, action, orderIndex, ruleID, algorithmID,
	)
	if err != nil {
		return nil, err
	}
	return s.GetRule(algorithmID, ruleID)
}

// DeleteRule removes a single rule.
func (s *Store) DeleteRule(algorithmID, ruleID string) error {
	if _, err := s.GetRule(algorithmID, ruleID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM algorithm_rules WHERE id = ? AND algorithm_id = ?`, ruleID, algorithmID)
	return err
}

// CountRules reports how many rules an algorithm has — used by the Live
// Execution Engine's start() precondition (§4.5: "has >= 1 rule").
func (s *Store) CountRules(algorithmID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM algorithm_rules WHERE algorithm_id = ?`, algorithmID).Scan(&n)
	return n, err
}
