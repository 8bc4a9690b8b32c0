package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mongorunner/internal/domain"
)

// ApprovalStore keeps MCP approvals in SQLite so that a separate process
// (`mongorunner approvals`) can decide them while the server polls.
type ApprovalStore struct {
	db *DB
}

func NewApprovalStore(db *DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

func (s *ApprovalStore) CreateApproval(a *domain.PendingApproval) error {
	if a.CreatedAt == "" {
		a.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if a.Metadata == "" {
		a.Metadata = "{}"
	}
	a.Status = domain.ApprovalPending
	_, err := s.db.Conn().Exec(
		`INSERT INTO mcp_approvals (id, tool, description, status, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Tool, a.Description, a.Status, a.Metadata, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) ApprovalStatus(id string) (string, error) {
	var status string
	err := s.db.Conn().QueryRow(`SELECT status FROM mcp_approvals WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", domain.ErrApprovalNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("query approval: %w", err)
	}
	return status, nil
}

func (s *ApprovalStore) ListPendingApprovals() ([]domain.PendingApproval, error) {
	rows, err := s.db.Conn().Query(
		`SELECT id, tool, description, status, metadata, created_at FROM mcp_approvals WHERE status = ? ORDER BY created_at, id`,
		domain.ApprovalPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingApproval
	for rows.Next() {
		var a domain.PendingApproval
		if err := rows.Scan(&a.ID, &a.Tool, &a.Description, &a.Status, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ResolveApproval records a decision for a still pending approval.
func (s *ApprovalStore) ResolveApproval(id string, approved bool) error {
	status := domain.ApprovalRejected
	if approved {
		status = domain.ApprovalApproved
	}
	res, err := s.db.Conn().Exec(
		`UPDATE mcp_approvals SET status = ? WHERE id = ? AND status = ?`,
		status, id, domain.ApprovalPending,
	)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrApprovalNotFound, id)
	}
	return nil
}

func (s *ApprovalStore) DeleteApproval(id string) error {
	if _, err := s.db.Conn().Exec(`DELETE FROM mcp_approvals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete approval: %w", err)
	}
	return nil
}
