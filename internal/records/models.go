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
	"time"
)

// Domain errors
var (
	ErrCAPANotFound     = errors.New("capa not found")
	ErrDCRNotFound      = errors.New("dcr not found")
	ErrUnknownOperation = errors.New("unknown operation")
)

// CAPAStatus is the corrective-action record lifecycle state.
type CAPAStatus string

const (
	CAPAOpen                 CAPAStatus = "Open"
	CAPAInProgress           CAPAStatus = "In Progress"
	CAPAAwaitingVerification CAPAStatus = "Awaiting Verification"
	CAPAClosed               CAPAStatus = "Closed"
)

// CAPASeverity classifies the underlying quality issue.
type CAPASeverity string

const (
	SeverityMinor    CAPASeverity = "Minor"
	SeverityMajor    CAPASeverity = "Major"
	SeverityCritical CAPASeverity = "Critical"
)

// CAPA is a corrective and preventive action record.
type CAPA struct {
	ID               string
	IssueDate        time.Time
	ReportedBy       string
	Department       string
	IssueDescription string
	RootCause        string
	Correction       string
	CorrectiveAction string
	PreventiveAction string
	DueDate          *time.Time
	Status           CAPAStatus
	Severity         CAPASeverity
	UpdatedAt        time.Time
}

// CAPAAction is a task assigned under a CAPA.
type CAPAAction struct {
	ID            string
	CAPAID        string
	AssignedTo    string
	Description   string
	DueDate       time.Time
	CompletedDate *time.Time
	Status        string
}

// CAPAApproval is a sign-off recorded against a CAPA.
type CAPAApproval struct {
	ID         string
	CAPAID     string
	Approver   string
	Role       string
	Status     string
	Comments   string
	ApprovedAt time.Time
}

// DCRStatus is the document-change-request lifecycle state.
type DCRStatus string

const (
	DCRDraft       DCRStatus = "Draft"
	DCRInReview    DCRStatus = "In Review"
	DCRApproved    DCRStatus = "Approved"
	DCRRejected    DCRStatus = "Rejected"
	DCRImplemented DCRStatus = "Implemented"
)

// DCRPriority ranks a change request.
type DCRPriority string

const (
	PriorityLow    DCRPriority = "Low"
	PriorityMedium DCRPriority = "Medium"
	PriorityHigh   DCRPriority = "High"
)

// DCR is a document change request.
type DCR struct {
	ID                   string
	RequestDate          time.Time
	Requester            string
	Department           string
	ChangeType           string // addition, deletion, correction, revision
	Reason               string
	Description          string
	AffectedProcess      string
	Priority             DCRPriority
	Status               DCRStatus
	TargetCompletionDate *time.Time
	UpdatedAt            time.Time
}

// DCRDocument is a controlled document touched by a DCR.
type DCRDocument struct {
	ID               string
	DCRID            string
	DocumentID       string
	DocumentTitle    string
	CurrentRevision  string
	ProposedRevision string
	Notes            string
}

// DCRApproval is a sign-off recorded against a DCR.
type DCRApproval struct {
	ID         string
	DCRID      string
	Approver   string
	Role       string
	Status     string
	Comments   string
	ApprovedAt time.Time
}

// CAPARepository defines persistence for CAPA aggregates.
type CAPARepository interface {
	Create(ctx context.Context, capa *CAPA) error
	GetByID(ctx context.Context, id string) (*CAPA, error)
	Update(ctx context.Context, capa *CAPA) error
	AddAction(ctx context.Context, action *CAPAAction) error
	AddApproval(ctx context.Context, approval *CAPAApproval) error
}

// DCRRepository defines persistence for DCR aggregates.
type DCRRepository interface {
	Create(ctx context.Context, dcr *DCR) error
	GetByID(ctx context.Context, id string) (*DCR, error)
	Update(ctx context.Context, dcr *DCR) error
	AddDocument(ctx context.Context, doc *DCRDocument) error
	AddApproval(ctx context.Context, approval *DCRApproval) error
}
