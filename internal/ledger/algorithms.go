package ledger

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/paperdesk/paperdeskd/pkg/models"
)

// CreateAlgorithm inserts a new algorithm owned by userID. A caller may
// reach this before ever touching the paper-trading account endpoints, so
// this also lazily creates the users row EnsureAccount would otherwise be
// relied on for — trading_algorithms.user_id is a foreign key into users.
func (s *Store) CreateAlgorithm(userID, name, description string) (*models.Algorithm, error) {
	now := time.Now().UTC()
	if err := s.ensureUser(userID, now); err != nil {
		return nil, err
	}
	a := &models.Algorithm{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Description: description,
		IsActive:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.Exec(
		`INSERT INTO trading_algorithms (id, user_id, name, description, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Description, boolToInt(a.IsActive), now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAlgorithms returns every algorithm owned by userID.
func (s *Store) ListAlgorithms(userID string) ([]models.Algorithm, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, name, description, is_active, created_at, updated_at
		   FROM trading_algorithms WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Algorithm
	for rows.Next() {
		a, err := scanAlgorithmRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetAlgorithm looks up an algorithm scoped to userID, so a caller cannot
// read another tenant's algorithm by guessing an id (§7 NotFound: "entity
// missing or not owned by caller").
func (s *Store) GetAlgorithm(userID, algorithmID string) (*models.Algorithm, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, name, description, is_active, created_at, updated_at
		   FROM trading_algorithms WHERE id = ? AND user_id = ?`, algorithmID, userID)
	var a models.Algorithm
	var active int
	var created, updated string
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &active, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.IsActive = active != 0
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	a.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &a, nil
}

func scanAlgorithmRows(rows *sql.Rows) (*models.Algorithm, error) {
	var a models.Algorithm
	var active int
	var created, updated string
	if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &active, &created, &updated); err != nil {
		return nil, err
	}
	a.IsActive = active != 0
	a.CreatedAt, _ = time.Parse(timeLayout, created)
	a.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &a, nil
}

// UpdateAlgorithm updates the mutable fields of an algorithm.
func (s *Store) UpdateAlgorithm(userID, algorithmID, name, description string) (*models.Algorithm, error) {
	if _, err := s.GetAlgorithm(userID, algorithmID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE trading_algorithms SET name = ?, description = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		name, description, now.Format(timeLayout), algorithmID, userID,
	)
	if err != nil {
		return nil, err
	}
	return s.GetAlgorithm(userID, algorithmID)
}

// ToggleAlgorithm flips is_active.
func (s *Store) ToggleAlgorithm(userID, algorithmID string) (*models.Algorithm, error) {
	a, err := s.GetAlgorithm(userID, algorithmID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(
		`UPDATE trading_algorithms SET is_active = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		boolToInt(!a.IsActive), now.Format(timeLayout), algorithmID, userID,
	)
	if err != nil {
		return nil, err
	}
	return s.GetAlgorithm(userID, algorithmID)
}

// DeleteAlgorithm removes an algorithm; algorithm_rules cascade-deletes via
// the foreign key declared ON DELETE CASCADE (§3 invariant 6).
func (s *Store) DeleteAlgorithm(userID, algorithmID string) error {
	if _, err := s.GetAlgorithm(userID, algorithmID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM trading_algorithms WHERE id = ? AND user_id = ?`, algorithmID, userID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
