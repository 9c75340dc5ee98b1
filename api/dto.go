/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO:     Response types returned to clients
  - *Request: Request body types from clients
  - Response: The envelope every endpoint answers with

ENVELOPE:
  Every response carries the operation Result inline:
    {"success": true,  "code": "ok", "data": {...}}
    {"success": false, "code": "conflict", "cause": "..."}

VALIDATION:
  Validation is done by the workflow, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - evaluation/result.go: Result and Code
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/evaluation-engine/evaluation"
	"github.com/warp/evaluation-engine/reconcile"
)

// Response is the envelope of every endpoint.
type Response struct {
	evaluation.Result
	Data any `json:"data,omitempty"`
}

// =============================================================================
// EVALUATION RECORDS
// =============================================================================

type ScoresDTO struct {
	Attendance   int `json:"attendance"`
	Productivity int `json:"productivity"`
	Quality      int `json:"quality"`
	Safety       int `json:"safety"`
}

// SubmitEvaluationRequest is the body of POST /api/records.
type SubmitEvaluationRequest struct {
	SubjectID   string    `json:"subject_id"`
	Date        string    `json:"date"`
	EvaluatorID string    `json:"evaluator_id"`
	ProjectID   string    `json:"project_id"`
	Scores      ScoresDTO `json:"scores"`
}

// RecordDTO represents an evaluation record in API responses.
type RecordDTO struct {
	ID          string          `json:"id"`
	SubjectID   string          `json:"subject_id"`
	Date        string          `json:"date"`
	EvaluatorID string          `json:"evaluator_id,omitempty"`
	ProjectID   string          `json:"project_id,omitempty"`
	Scores      ScoresDTO       `json:"scores"`
	Average     decimal.Decimal `json:"average"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ReviewRecordsRequest is the body of POST /api/records/status.
type ReviewRecordsRequest struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
}

// IDsRequest carries a batch of ids.
type IDsRequest struct {
	IDs []string `json:"ids"`
}

// CountDTO reports how many rows an operation changed.
type CountDTO struct {
	Changed int `json:"changed"`
}

// =============================================================================
// UNLOCK REQUESTS
// =============================================================================

// SubmitUnlockRequest is the body of POST /api/unlock-requests.
type SubmitUnlockRequest struct {
	SubjectID      string `json:"subject_id"`
	SubjectName    string `json:"subject_name"`
	RequesterID    string `json:"requester_id"`
	RequesterName  string `json:"requester_name"`
	ProjectID      string `json:"project_id"`
	TargetRecordID string `json:"target_record_id"`
	Date           string `json:"date"`
	Reason         string `json:"reason"`
}

// UnlockRequestDTO represents an unlock request in API responses.
type UnlockRequestDTO struct {
	ID             string     `json:"id"`
	SubjectID      string     `json:"subject_id"`
	SubjectName    string     `json:"subject_name,omitempty"`
	RequesterID    string     `json:"requester_id"`
	RequesterName  string     `json:"requester_name,omitempty"`
	ProjectID      string     `json:"project_id,omitempty"`
	TargetRecordID string     `json:"target_record_id,omitempty"`
	Date           string     `json:"date"`
	Reason         string     `json:"reason,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
}

// ResolveRequest is the body of approve and reject calls.
type ResolveRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

// OutcomeDTO describes how a resolution ended.
type OutcomeDTO struct {
	RequestID       string `json:"request_id"`
	SubjectID       string `json:"subject_id,omitempty"`
	Date            string `json:"date,omitempty"`
	Status          string `json:"status,omitempty"`
	AlreadyResolved bool   `json:"already_resolved"`
	RecordDeleted   bool   `json:"record_deleted"`
	Cascaded        int    `json:"cascaded"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// OpenSessionRequest is the body of POST /api/sessions. An empty project
// opens an unscoped session.
type OpenSessionRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Project    string `json:"project"`
}

// SessionDTO is a snapshot of a reviewing session.
type SessionDTO struct {
	ID         string             `json:"id"`
	ReviewerID string             `json:"reviewer_id"`
	Scope      string             `json:"scope"`
	InFlight   string             `json:"in_flight,omitempty"`
	Tombstones int                `json:"tombstones"`
	Pending    []UnlockRequestDTO `json:"pending"`
}

// ActRequest is the body of POST /api/sessions/{id}/act.
type ActRequest struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
}

// SweepDTO reports a straggler sweep.
type SweepDTO struct {
	Approved int `json:"approved"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toRecordDTO(r evaluation.EvaluationRecord) RecordDTO {
	return RecordDTO{
		ID:          r.ID,
		SubjectID:   r.SubjectID,
		Date:        r.Date,
		EvaluatorID: r.EvaluatorID,
		ProjectID:   r.ProjectID,
		Scores: ScoresDTO{
			Attendance:   r.Scores.Attendance,
			Productivity: r.Scores.Productivity,
			Quality:      r.Scores.Quality,
			Safety:       r.Scores.Safety,
		},
		Average:   r.Average,
		Status:    string(r.Status.Effective()),
		CreatedAt: r.CreatedAt,
	}
}

func toUnlockRequestDTO(r evaluation.UnlockRequest) UnlockRequestDTO {
	return UnlockRequestDTO{
		ID:             r.ID,
		SubjectID:      r.SubjectID,
		SubjectName:    r.SubjectName,
		RequesterID:    r.RequesterID,
		RequesterName:  r.RequesterName,
		ProjectID:      r.ProjectID,
		TargetRecordID: r.TargetRecordID,
		Date:           r.Date,
		Reason:         r.Reason,
		Status:         string(r.Status.Effective()),
		CreatedAt:      r.CreatedAt,
		ResolvedAt:     r.ResolvedAt,
		ResolvedBy:     r.ResolvedBy,
	}
}

func toUnlockRequestDTOs(list []evaluation.UnlockRequest) []UnlockRequestDTO {
	dtos := make([]UnlockRequestDTO, len(list))
	for i, r := range list {
		dtos[i] = toUnlockRequestDTO(r)
	}
	return dtos
}

func toOutcomeDTO(o evaluation.Outcome) OutcomeDTO {
	return OutcomeDTO{
		RequestID:       o.RequestID,
		SubjectID:       o.Key.SubjectID,
		Date:            o.Key.Date,
		Status:          string(o.Status),
		AlreadyResolved: o.AlreadyResolved,
		RecordDeleted:   o.RecordDeleted,
		Cascaded:        o.Cascaded,
	}
}

func toSessionDTO(s *reconcile.Session) SessionDTO {
	return SessionDTO{
		ID:         s.ID(),
		ReviewerID: s.ReviewerID(),
		Scope:      string(s.Scope()),
		InFlight:   s.InFlight(),
		Tombstones: s.TombstoneCount(),
		Pending:    toUnlockRequestDTOs(s.Pending()),
	}
}
