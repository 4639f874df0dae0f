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
	"encoding/json"
	"fmt"

	"github.com/qmsportal/qmsportal/internal/rbac"
)

// Operation names. The assistant backend proposes these by name; the
// action gate resolves them through the catalog before anything runs.
const (
	OpCreateCAPA         = "create_capa"
	OpUpdateCAPAAnalysis = "update_capa_analysis"
	OpUpdateCAPAStatus   = "update_capa_status"
	OpAddCAPAAction      = "add_capa_action"
	OpAddCAPAApproval    = "add_capa_approval"
	OpGetCAPAStatus      = "get_capa_status"

	OpCreateDCR       = "create_dcr"
	OpAddDCRDocuments = "add_dcr_documents"
	OpAddDCRApproval  = "add_dcr_approval"
	OpUpdateDCRStatus = "update_dcr_status"
	OpGetDCRStatus    = "get_dcr_status"
)

// OperationSpec describes one catalog entry: the permission it needs and
// whether it mutates persisted state. Read operations bypass the two-phase
// confirm flow entirely.
type OperationSpec struct {
	Name       string
	Permission rbac.Permission
	Mutating   bool
}

var catalog = map[string]OperationSpec{
	OpCreateCAPA:         {Name: OpCreateCAPA, Permission: rbac.PermCAPACreate, Mutating: true},
	OpUpdateCAPAAnalysis: {Name: OpUpdateCAPAAnalysis, Permission: rbac.PermCAPAUpdate, Mutating: true},
	OpUpdateCAPAStatus:   {Name: OpUpdateCAPAStatus, Permission: rbac.PermCAPAUpdate, Mutating: true},
	OpAddCAPAAction:      {Name: OpAddCAPAAction, Permission: rbac.PermCAPAUpdate, Mutating: true},
	OpAddCAPAApproval:    {Name: OpAddCAPAApproval, Permission: rbac.PermCAPAApprove, Mutating: true},
	OpGetCAPAStatus:      {Name: OpGetCAPAStatus, Permission: rbac.PermCAPAView, Mutating: false},

	OpCreateDCR:       {Name: OpCreateDCR, Permission: rbac.PermDCRCreate, Mutating: true},
	OpAddDCRDocuments: {Name: OpAddDCRDocuments, Permission: rbac.PermDCRUpdate, Mutating: true},
	OpAddDCRApproval:  {Name: OpAddDCRApproval, Permission: rbac.PermDCRApprove, Mutating: true},
	OpUpdateDCRStatus: {Name: OpUpdateDCRStatus, Permission: rbac.PermDCRUpdate, Mutating: true},
	OpGetDCRStatus:    {Name: OpGetDCRStatus, Permission: rbac.PermDCRView, Mutating: false},
}

// Lookup resolves an operation name against the catalog.
func Lookup(name string) (OperationSpec, error) {
	spec, ok := catalog[name]
	if !ok {
		return OperationSpec{}, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return spec, nil
}

// Operations returns the catalog entries, for the assistant function list.
func Operations() []OperationSpec {
	specs := make([]OperationSpec, 0, len(catalog))
	for _, spec := range catalog {
		specs = append(specs, spec)
	}
	return specs
}

// Argument shapes per operation. Arguments arrive as a JSON object from
// the UI or the assistant backend and are decoded into these before
// validation.

type CreateCAPAArgs struct {
	ReportedBy       string `json:"reported_by" validate:"required,email"`
	Department       string `json:"department" validate:"required"`
	IssueDescription string `json:"issue_description" validate:"required,min=10"`
	Severity         string `json:"severity" validate:"omitempty,oneof=Minor Major Critical"`
	DueDate          string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

type UpdateCAPAAnalysisArgs struct {
	CAPAID           string `json:"capa_id" validate:"required"`
	RootCause        string `json:"root_cause" validate:"omitempty,min=5"`
	Correction       string `json:"correction"`
	CorrectiveAction string `json:"corrective_action"`
	PreventiveAction string `json:"preventive_action"`
}

type UpdateCAPAStatusArgs struct {
	CAPAID    string `json:"capa_id" validate:"required"`
	NewStatus string `json:"new_status" validate:"required,oneof=Open 'In Progress' 'Awaiting Verification' Closed"`
}

type AddCAPAActionArgs struct {
	CAPAID      string `json:"capa_id" validate:"required"`
	AssignedTo  string `json:"assigned_to" validate:"required,email"`
	Description string `json:"action_description" validate:"required,min=5"`
	DueDate     string `json:"due_date" validate:"required,datetime=2006-01-02"`
	Status      string `json:"status" validate:"omitempty,oneof=Pending 'In Progress' Completed Overdue"`
}

type AddCAPAApprovalArgs struct {
	CAPAID   string `json:"capa_id" validate:"required"`
	Approver string `json:"approver" validate:"required,email"`
	Role     string `json:"role" validate:"required"`
	Status   string `json:"approval_status" validate:"omitempty,oneof=Approved Rejected"`
	Comments string `json:"comments"`
}

type GetCAPAStatusArgs struct {
	CAPAID string `json:"capa_id" validate:"required"`
}

type CreateDCRArgs struct {
	Requester       string `json:"requester" validate:"required,email"`
	Department      string `json:"department" validate:"required"`
	ChangeType      string `json:"change_type" validate:"required,oneof=addition deletion correction revision"`
	Reason          string `json:"reason" validate:"required,min=5"`
	Description     string `json:"description" validate:"required,min=10"`
	AffectedProcess string `json:"affected_process" validate:"required"`
	Priority        string `json:"priority" validate:"omitempty,oneof=Low Medium High"`
}

type DCRDocumentArgs struct {
	DocumentID       string `json:"document_id" validate:"required"`
	DocumentTitle    string `json:"document_title" validate:"required"`
	CurrentRevision  string `json:"current_revision" validate:"required"`
	ProposedRevision string `json:"proposed_revision" validate:"required"`
	Notes            string `json:"notes"`
}

type AddDCRDocumentsArgs struct {
	DCRID     string            `json:"dcr_id" validate:"required"`
	Documents []DCRDocumentArgs `json:"documents" validate:"required,min=1,dive"`
}

type AddDCRApprovalArgs struct {
	DCRID    string `json:"dcr_id" validate:"required"`
	Approver string `json:"approver" validate:"required,email"`
	Role     string `json:"role" validate:"required"`
	Status   string `json:"approval_status" validate:"omitempty,oneof=Approved Rejected"`
	Comments string `json:"comments"`
}

type UpdateDCRStatusArgs struct {
	DCRID     string `json:"dcr_id" validate:"required"`
	NewStatus string `json:"new_status" validate:"required,oneof=Draft 'In Review' Approved Rejected Implemented"`
	Comments  string `json:"comments"`
}

type GetDCRStatusArgs struct {
	DCRID string `json:"dcr_id" validate:"required"`
}

// decodeArgs rebinds a generic JSON object onto a typed argument struct.
func decodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
