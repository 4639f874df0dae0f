// Copyright 2026 The QMS Portal Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/qmsportal/qmsportal/internal/records"
)

// CAPARepository implements records.CAPARepository
type CAPARepository struct {
	db *DB
}

// NewCAPARepository creates a new CAPA repository
func NewCAPARepository(db *DB) *CAPARepository {
	return &CAPARepository{db: db}
}

// Create inserts a new CAPA record
func (r *CAPARepository) Create(ctx context.Context, capa *records.CAPA) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO capas (id, issue_date, reported_by, department, issue_description,
			root_cause, correction, corrective_action, preventive_action,
			due_date, status, severity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		capa.ID, capa.IssueDate, capa.ReportedBy, capa.Department, capa.IssueDescription,
		capa.RootCause, capa.Correction, capa.CorrectiveAction, capa.PreventiveAction,
		capa.DueDate, capa.Status, capa.Severity, capa.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create capa: %w", err)
	}

	return nil
}

// GetByID retrieves a CAPA by ID
func (r *CAPARepository) GetByID(ctx context.Context, id string) (*records.CAPA, error) {
	var capa records.CAPA

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, issue_date, reported_by, department, issue_description,
			root_cause, correction, corrective_action, preventive_action,
			due_date, status, severity, updated_at
		FROM capas
		WHERE id = $1
	`, id).Scan(
		&capa.ID, &capa.IssueDate, &capa.ReportedBy, &capa.Department, &capa.IssueDescription,
		&capa.RootCause, &capa.Correction, &capa.CorrectiveAction, &capa.PreventiveAction,
		&capa.DueDate, &capa.Status, &capa.Severity, &capa.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, records.ErrCAPANotFound
		}
		return nil, fmt.Errorf("failed to get capa: %w", err)
	}

	return &capa, nil
}

// Update overwrites a CAPA record
func (r *CAPARepository) Update(ctx context.Context, capa *records.CAPA) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE capas SET
			root_cause = $2, correction = $3, corrective_action = $4,
			preventive_action = $5, due_date = $6, status = $7,
			severity = $8, updated_at = $9
		WHERE id = $1
	`,
		capa.ID, capa.RootCause, capa.Correction, capa.CorrectiveAction,
		capa.PreventiveAction, capa.DueDate, capa.Status, capa.Severity, capa.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update capa: %w", err)
	}

	if result.RowsAffected() == 0 {
		return records.ErrCAPANotFound
	}

	return nil
}

// AddAction records a task under a CAPA
func (r *CAPARepository) AddAction(ctx context.Context, action *records.CAPAAction) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO capa_actions (id, capa_id, assigned_to, description, due_date, completed_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		action.ID, action.CAPAID, action.AssignedTo, action.Description,
		action.DueDate, action.CompletedDate, action.Status,
	)

	if err != nil {
		return fmt.Errorf("failed to add capa action: %w", err)
	}

	return nil
}

// AddApproval records a sign-off against a CAPA
func (r *CAPARepository) AddApproval(ctx context.Context, approval *records.CAPAApproval) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO capa_approvals (id, capa_id, approver, role, status, comments, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		approval.ID, approval.CAPAID, approval.Approver, approval.Role,
		approval.Status, approval.Comments, approval.ApprovedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to add capa approval: %w", err)
	}

	return nil
}

// List returns CAPA records newest first. status filters when non-empty.
func (r *CAPARepository) List(ctx context.Context, status records.CAPAStatus, limit int) ([]*records.CAPA, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, issue_date, reported_by, department, issue_description,
			root_cause, correction, corrective_action, preventive_action,
			due_date, status, severity, updated_at
		FROM capas
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY issue_date DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY issue_date DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list capas: %w", err)
	}
	defer rows.Close()

	var capas []*records.CAPA
	for rows.Next() {
		var capa records.CAPA
		if err := rows.Scan(
			&capa.ID, &capa.IssueDate, &capa.ReportedBy, &capa.Department, &capa.IssueDescription,
			&capa.RootCause, &capa.Correction, &capa.CorrectiveAction, &capa.PreventiveAction,
			&capa.DueDate, &capa.Status, &capa.Severity, &capa.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan capa: %w", err)
		}
		capas = append(capas, &capa)
	}

	return capas, rows.Err()
}

// CountByStatus returns record counts grouped by lifecycle status.
func (r *CAPARepository) CountByStatus(ctx context.Context) (map[records.CAPAStatus]int, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM capas GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count capas: %w", err)
	}
	defer rows.Close()

	counts := make(map[records.CAPAStatus]int)
	for rows.Next() {
		var status records.CAPAStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan capa count: %w", err)
		}
		counts[status] = n
	}

	return counts, rows.Err()
}
