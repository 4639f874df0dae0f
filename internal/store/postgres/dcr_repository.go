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

// DCRRepository implements records.DCRRepository
type DCRRepository struct {
	db *DB
}

// NewDCRRepository creates a new DCR repository
func NewDCRRepository(db *DB) *DCRRepository {
	return &DCRRepository{db: db}
}

// Create inserts a new DCR record
func (r *DCRRepository) Create(ctx context.Context, dcr *records.DCR) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO dcrs (id, request_date, requester, department, change_type,
			reason, description, affected_process, priority, status,
			target_completion_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		dcr.ID, dcr.RequestDate, dcr.Requester, dcr.Department, dcr.ChangeType,
		dcr.Reason, dcr.Description, dcr.AffectedProcess, dcr.Priority, dcr.Status,
		dcr.TargetCompletionDate, dcr.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create dcr: %w", err)
	}

	return nil
}

// GetByID retrieves a DCR by ID
func (r *DCRRepository) GetByID(ctx context.Context, id string) (*records.DCR, error) {
	var dcr records.DCR

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, request_date, requester, department, change_type,
			reason, description, affected_process, priority, status,
			target_completion_date, updated_at
		FROM dcrs
		WHERE id = $1
	`, id).Scan(
		&dcr.ID, &dcr.RequestDate, &dcr.Requester, &dcr.Department, &dcr.ChangeType,
		&dcr.Reason, &dcr.Description, &dcr.AffectedProcess, &dcr.Priority, &dcr.Status,
		&dcr.TargetCompletionDate, &dcr.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, records.ErrDCRNotFound
		}
		return nil, fmt.Errorf("failed to get dcr: %w", err)
	}

	return &dcr, nil
}

// Update overwrites a DCR record
func (r *DCRRepository) Update(ctx context.Context, dcr *records.DCR) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE dcrs SET
			reason = $2, description = $3, affected_process = $4,
			priority = $5, status = $6, target_completion_date = $7,
			updated_at = $8
		WHERE id = $1
	`,
		dcr.ID, dcr.Reason, dcr.Description, dcr.AffectedProcess,
		dcr.Priority, dcr.Status, dcr.TargetCompletionDate, dcr.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update dcr: %w", err)
	}

	if result.RowsAffected() == 0 {
		return records.ErrDCRNotFound
	}

	return nil
}

// AddDocument records a controlled document touched by a DCR
func (r *DCRRepository) AddDocument(ctx context.Context, doc *records.DCRDocument) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO dcr_documents (id, dcr_id, document_id, document_title, current_revision, proposed_revision, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		doc.ID, doc.DCRID, doc.DocumentID, doc.DocumentTitle,
		doc.CurrentRevision, doc.ProposedRevision, doc.Notes,
	)

	if err != nil {
		return fmt.Errorf("failed to add dcr document: %w", err)
	}

	return nil
}

// AddApproval records a sign-off against a DCR
func (r *DCRRepository) AddApproval(ctx context.Context, approval *records.DCRApproval) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO dcr_approvals (id, dcr_id, approver, role, status, comments, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		approval.ID, approval.DCRID, approval.Approver, approval.Role,
		approval.Status, approval.Comments, approval.ApprovedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to add dcr approval: %w", err)
	}

	return nil
}

// List returns DCR records newest first. status filters when non-empty.
func (r *DCRRepository) List(ctx context.Context, status records.DCRStatus, limit int) ([]*records.DCR, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, request_date, requester, department, change_type,
			reason, description, affected_process, priority, status,
			target_completion_date, updated_at
		FROM dcrs
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY request_date DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY request_date DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dcrs: %w", err)
	}
	defer rows.Close()

	var dcrs []*records.DCR
	for rows.Next() {
		var dcr records.DCR
		if err := rows.Scan(
			&dcr.ID, &dcr.RequestDate, &dcr.Requester, &dcr.Department, &dcr.ChangeType,
			&dcr.Reason, &dcr.Description, &dcr.AffectedProcess, &dcr.Priority, &dcr.Status,
			&dcr.TargetCompletionDate, &dcr.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dcr: %w", err)
		}
		dcrs = append(dcrs, &dcr)
	}

	return dcrs, rows.Err()
}

// CountByStatus returns record counts grouped by lifecycle status.
func (r *DCRRepository) CountByStatus(ctx context.Context) (map[records.DCRStatus]int, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM dcrs GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count dcrs: %w", err)
	}
	defer rows.Close()

	counts := make(map[records.DCRStatus]int)
	for rows.Next() {
		var status records.DCRStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan dcr count: %w", err)
		}
		counts[status] = n
	}

	return counts, rows.Err()
}
