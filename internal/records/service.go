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

package records

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Proposal is the outcome of a dry-run validation: the draft the operation
// would persist and a human-readable summary used as the confirmation
// prompt. Nothing has been written when a Proposal is returned.
type Proposal struct {
	Draft   map[string]any
	Summary string
}

// Service implements the record-store contract consumed by the action
// gate: Validate performs a dry run, Execute applies the mutation.
type Service struct {
	capas    CAPARepository
	dcrs     DCRRepository
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a record service over the given repositories.
func NewService(capas CAPARepository, dcrs DCRRepository) *Service {
	v := validator.New()
	// Report json field names in validation messages, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		capas:    capas,
		dcrs:     dcrs,
		validate: v,
		now:      time.Now,
	}
}

// Validate decodes and validates the arguments for op and, for operations
// referencing an existing record, confirms the record exists. Returns the
// draft and confirmation summary without applying any mutation.
func (s *Service) Validate(ctx context.Context, op string, args map[string]any) (*Proposal, error) {
	if _, err := Lookup(op); err != nil {
		return nil, err
	}

	switch op {
	case OpCreateCAPA:
		a, err := s.decodeCreateCAPA(args)
		if err != nil {
			return nil, err
		}
		severity := a.Severity
		if severity == "" {
			severity = string(SeverityMinor)
		}
		return &Proposal{
			Draft: map[string]any{
				"reported_by":       a.ReportedBy,
				"department":        a.Department,
				"issue_description": a.IssueDescription,
				"severity":          severity,
				"status":            string(CAPAOpen),
			},
			Summary: fmt.Sprintf("Create a %s CAPA for %s reported by %s: %s",
				severity, a.Department, a.ReportedBy, truncate(a.IssueDescription, 120)),
		}, nil

	case OpUpdateCAPAAnalysis:
		a := &UpdateCAPAAnalysisArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		if _, err := s.requireCAPA(ctx, a.CAPAID); err != nil {
			return nil, err
		}
		return &Proposal{
			Draft:   args,
			Summary: fmt.Sprintf("Update root cause analysis on %s", a.CAPAID),
		}, nil

	case OpUpdateCAPAStatus:
		a := &UpdateCAPAStatusArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		capa, err := s.requireCAPA(ctx, a.CAPAID)
		if err != nil {
			return nil, err
		}
		return &Proposal{
			Draft:   args,
			Summary: fmt.Sprintf("Move %s from %s to %s", a.CAPAID, capa.Status, a.NewStatus),
		}, nil

	case OpAddCAPAAction:
		a := &AddCAPAActionArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		if _, err := s.requireCAPA(ctx, a.CAPAID); err != nil {
			return nil, err
		}
		return &Proposal{
			Draft:   args,
			Summary: fmt.Sprintf("Assign action to %s on %s, due %s", a.AssignedTo, a.CAPAID, a.DueDate),
		}, nil

	case OpAddCAPAApproval:
		a := &AddCAPAApprovalArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		if _, err := s.requireCAPA(ctx, a.CAPAID); err != nil {
			return nil, err
		}
		return &Proposal{
			Draft:   args,
			Summary: fmt.Sprintf("Record approval by %s (%s) on %s", a.Approver, a.Role, a.CAPAID),
		}, nil

	case OpCreateDCR:
		a := &CreateDCRArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		priority := a.Priority
		if priority == "" {
			priority = string(PriorityMedium)
		}
		return &Proposal{
			Draft: map[string]any{
				"requester":        a.Requester,
				"department":       a.Department,
				"change_type":      a.ChangeType,
				"reason":           a.Reason,
				"description":      a.Description,
				"affected_process": a.AffectedProcess,
				"priority":         priority,
				"status":           string(DCRDraft),
			},
			Summary: fmt.Sprintf("Create a %s priority %s DCR for %s requested by %s: %s",
				priority, a.ChangeType, a.AffectedProcess, a.Requester, truncate(a.Reason, 120)),
		}, nil

	case OpAddDCRDocuments:
		a := &AddDCRDocumentsArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		if _, err := s.requireDCR(ctx, a.DCRID); err != nil {
			return nil, err
		}
		return &Proposal{
			Draft:   args,
			Summary: fmt.Sprintf("Attach %d controlled document(s) to %s", len(a.Documents), a.DCRID),
		}, nil

	case OpAddDCRApproval:
		a := &AddDCRApprovalArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		if _, err := s.requireDCR(ctx, a.DCRID); err != nil {
			return nil, err
		}
		return &Proposal{
			Draft:   args,
			Summary: fmt.Sprintf("Record approval by %s (%s) on %s", a.Approver, a.Role, a.DCRID),
		}, nil

	case OpUpdateDCRStatus:
		a := &UpdateDCRStatusArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		dcr, err := s.requireDCR(ctx, a.DCRID)
		if err != nil {
			return nil, err
		}
		return &Proposal{
			Draft:   args,
			Summary: fmt.Sprintf("Move %s from %s to %s", a.DCRID, dcr.Status, a.NewStatus),
		}, nil

	case OpGetCAPAStatus, OpGetDCRStatus:
		// Reads have no confirmation flow; validation is a pass-through
		// existence check.
		return &Proposal{Draft: args, Summary: ""}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
}

// Execute applies op. Mutating operations must only arrive here through a
// confirmed action-gate transition; reads may call directly.
func (s *Service) Execute(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	if _, err := Lookup(op); err != nil {
		return nil, err
	}

	switch op {
	case OpCreateCAPA:
		a, err := s.decodeCreateCAPA(args)
		if err != nil {
			return nil, err
		}
		now := s.now()
		capa := &CAPA{
			ID:               NewCAPAID(now),
			IssueDate:        now,
			ReportedBy:       a.ReportedBy,
			Department:       a.Department,
			IssueDescription: a.IssueDescription,
			Status:           CAPAOpen,
			Severity:         SeverityMinor,
			UpdatedAt:        now,
		}
		if a.Severity != "" {
			capa.Severity = CAPASeverity(a.Severity)
		}
		if a.DueDate != "" {
			due, _ := time.Parse("2006-01-02", a.DueDate)
			capa.DueDate = &due
		}
		if err := s.capas.Create(ctx, capa); err != nil {
			return nil, fmt.Errorf("create capa: %w", err)
		}
		return map[string]any{"capa_id": capa.ID}, nil

	case OpUpdateCAPAAnalysis:
		a := &UpdateCAPAAnalysisArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		capa, err := s.requireCAPA(ctx, a.CAPAID)
		if err != nil {
			return nil, err
		}
		if a.RootCause != "" {
			capa.RootCause = a.RootCause
		}
		if a.Correction != "" {
			capa.Correction = a.Correction
		}
		if a.CorrectiveAction != "" {
			capa.CorrectiveAction = a.CorrectiveAction
		}
		if a.PreventiveAction != "" {
			capa.PreventiveAction = a.PreventiveAction
		}
		capa.UpdatedAt = s.now()
		if err := s.capas.Update(ctx, capa); err != nil {
			return nil, fmt.Errorf("update capa analysis: %w", err)
		}
		return map[string]any{"capa_id": capa.ID}, nil

	case OpUpdateCAPAStatus:
		a := &UpdateCAPAStatusArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		capa, err := s.requireCAPA(ctx, a.CAPAID)
		if err != nil {
			return nil, err
		}
		capa.Status = CAPAStatus(a.NewStatus)
		capa.UpdatedAt = s.now()
		if err := s.capas.Update(ctx, capa); err != nil {
			return nil, fmt.Errorf("update capa status: %w", err)
		}
		return map[string]any{"capa_id": capa.ID, "status": a.NewStatus}, nil

	case OpAddCAPAAction:
		a := &AddCAPAActionArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		if _, err := s.requireCAPA(ctx, a.CAPAID); err != nil {
			return nil, err
		}
		due, _ := time.Parse("2006-01-02", a.DueDate)
		status := a.Status
		if status == "" {
			status = "Pending"
		}
		action := &CAPAAction{
			ID:          newRecordID("ACT", s.now()),
			CAPAID:      a.CAPAID,
			AssignedTo:  a.AssignedTo,
			Description: a.Description,
			DueDate:     due,
			Status:      status,
		}
		if err := s.capas.AddAction(ctx, action); err != nil {
			return nil, fmt.Errorf("add capa action: %w", err)
		}
		return map[string]any{"action_id": action.ID}, nil

	case OpAddCAPAApproval:
		a := &AddCAPAApprovalArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		if _, err := s.requireCAPA(ctx, a.CAPAID); err != nil {
			return nil, err
		}
		status := a.Status
		if status == "" {
			status = "Approved"
		}
		approval := &CAPAApproval{
			ID:         newRecordID("APR", s.now()),
			CAPAID:     a.CAPAID,
			Approver:   a.Approver,
			Role:       a.Role,
			Status:     status,
			Comments:   a.Comments,
			ApprovedAt: s.now(),
		}
		if err := s.capas.AddApproval(ctx, approval); err != nil {
			return nil, fmt.Errorf("add capa approval: %w", err)
		}
		return map[string]any{"approval_id": approval.ID}, nil

	case OpGetCAPAStatus:
		a := &GetCAPAStatusArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		capa, err := s.requireCAPA(ctx, a.CAPAID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"capa_id":           capa.ID,
			"status":            string(capa.Status),
			"severity":          string(capa.Severity),
			"department":        capa.Department,
			"issue_description": capa.IssueDescription,
		}, nil

	case OpCreateDCR:
		a := &CreateDCRArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		now := s.now()
		dcr := &DCR{
			ID:              NewDCRID(now),
			RequestDate:     now,
			Requester:       a.Requester,
			Department:      a.Department,
			ChangeType:      a.ChangeType,
			Reason:          a.Reason,
			Description:     a.Description,
			AffectedProcess: a.AffectedProcess,
			Priority:        PriorityMedium,
			Status:          DCRDraft,
			UpdatedAt:       now,
		}
		if a.Priority != "" {
			dcr.Priority = DCRPriority(a.Priority)
		}
		if err := s.dcrs.Create(ctx, dcr); err != nil {
			return nil, fmt.Errorf("create dcr: %w", err)
		}
		return map[string]any{"dcr_id": dcr.ID}, nil

	case OpAddDCRDocuments:
		a := &AddDCRDocumentsArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		if _, err := s.requireDCR(ctx, a.DCRID); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(a.Documents))
		for _, d := range a.Documents {
			doc := &DCRDocument{
				ID:               newRecordID("DOC", s.now()),
				DCRID:            a.DCRID,
				DocumentID:       d.DocumentID,
				DocumentTitle:    d.DocumentTitle,
				CurrentRevision:  d.CurrentRevision,
				ProposedRevision: d.ProposedRevision,
				Notes:            d.Notes,
			}
			if err := s.dcrs.AddDocument(ctx, doc); err != nil {
				return nil, fmt.Errorf("add dcr document: %w", err)
			}
			ids = append(ids, doc.ID)
		}
		return map[string]any{"document_ids": ids}, nil

	case OpAddDCRApproval:
		a := &AddDCRApprovalArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		if _, err := s.requireDCR(ctx, a.DCRID); err != nil {
			return nil, err
		}
		status := a.Status
		if status == "" {
			status = "Approved"
		}
		approval := &DCRApproval{
			ID:         newRecordID("APR", s.now()),
			DCRID:      a.DCRID,
			Approver:   a.Approver,
			Role:       a.Role,
			Status:     status,
			Comments:   a.Comments,
			ApprovedAt: s.now(),
		}
		if err := s.dcrs.AddApproval(ctx, approval); err != nil {
			return nil, fmt.Errorf("add dcr approval: %w", err)
		}
		return map[string]any{"approval_id": approval.ID}, nil

	case OpUpdateDCRStatus:
		a := &UpdateDCRStatusArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		dcr, err := s.requireDCR(ctx, a.DCRID)
		if err != nil {
			return nil, err
		}
		dcr.Status = DCRStatus(a.NewStatus)
		dcr.UpdatedAt = s.now()
		if err := s.dcrs.Update(ctx, dcr); err != nil {
			return nil, fmt.Errorf("update dcr status: %w", err)
		}
		return map[string]any{"dcr_id": dcr.ID, "status": a.NewStatus}, nil

	case OpGetDCRStatus:
		a := &GetDCRStatusArgs{}
		if err := s.decodeAndValidate(args, a); err != nil {
			return nil, err
		}
		dcr, err := s.requireDCR(ctx, a.DCRID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"dcr_id":           dcr.ID,
			"status":           string(dcr.Status),
			"priority":         string(dcr.Priority),
			"change_type":      dcr.ChangeType,
			"affected_process": dcr.AffectedProcess,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
}

func (s *Service) decodeAndValidate(args map[string]any, dst any) error {
	if err := decodeArgs(args, dst); err != nil {
		return NewValidationError("arguments are not a valid object: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return asValidationError(err)
	}
	return nil
}

func (s *Service) decodeCreateCAPA(args map[string]any) (*CreateCAPAArgs, error) {
	a := &CreateCAPAArgs{}
	if err := s.decodeAndValidate(args, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) requireCAPA(ctx context.Context, id string) (*CAPA, error) {
	capa, err := s.capas.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCAPANotFound) {
			return nil, NewValidationError("CAPA %s does not exist", id)
		}
		return nil, fmt.Errorf("load capa %s: %w", id, err)
	}
	return capa, nil
}

func (s *Service) requireDCR(ctx context.Context, id string) (*DCR, error) {
	dcr, err := s.dcrs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDCRNotFound) {
			return nil, NewValidationError("DCR %s does not exist", id)
		}
		return nil, fmt.Errorf("load dcr %s: %w", id, err)
	}
	return dcr, nil
}

// truncate shortens s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
