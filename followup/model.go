// Package followup turns lead assignments and follow-ups into alerts and reminders.
package followup

import (
	"strings"
	"time"

	"github.com/jgabriele321/remindd/reminder"
)

// AssignmentStatus is the state of a lead assignment.
type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentInProgress AssignmentStatus = "in-progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

// Priority of an assignment.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Assignment links one enquiry to one employee.
type Assignment struct {
	ID         string           `json:"id"`
	EnquiryID  string           `json:"enquiryId"`
	EmployeeID string           `json:"employeeId"`
	AssignedBy string           `json:"assignedBy,omitempty"`
	ClientName string           `json:"clientName,omitempty"`
	Status     AssignmentStatus `json:"status"`
	Priority   Priority         `json:"priority"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Active reports whether the assignment still needs work.
func (a *Assignment) Active() bool {
	return a.Status == AssignmentPending || a.Status == AssignmentInProgress
}

func (a *Assignment) validate() error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return &reminder.ValidationError{Field: "id", Message: "assignment id is required"}
	case strings.TrimSpace(a.EnquiryID) == "":
		return &reminder.ValidationError{Field: "enquiryId", Message: "enquiry is required"}
	case strings.TrimSpace(a.EmployeeID) == "":
		return &reminder.ValidationError{Field: "employeeId", Message: "employee is required"}
	}
	switch a.Status {
	case "":
		a.Status = AssignmentPending
	case AssignmentPending, AssignmentInProgress, AssignmentCompleted, AssignmentCancelled:
	default:
		return &reminder.ValidationError{Field: "status", Message: "unknown status " + string(a.Status)}
	}
	switch a.Priority {
	case "":
		a.Priority = PriorityMedium
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return &reminder.ValidationError{Field: "priority", Message: "unknown priority " + string(a.Priority)}
	}
	return nil
}

// CaseStatus is the outcome recorded by a follow-up.
type CaseStatus string

const (
	CaseOpen          CaseStatus = "open"
	CaseClose         CaseStatus = "close"
	CaseNotInterested CaseStatus = "not-interested"
)

// FollowUp is one contact with the client on an assignment.
type FollowUp struct {
	ID             string     `json:"id"`
	AssignmentID   string     `json:"assignmentId"`
	CaseStatus     CaseStatus `json:"caseStatus"`
	Note           string     `json:"note,omitempty"`
	Result         string     `json:"result,omitempty"`
	NextFollowUpAt *time.Time `json:"nextFollowUpAt,omitempty"`
}

func (f *FollowUp) validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return &reminder.ValidationError{Field: "id", Message: "follow-up id is required"}
	}
	if strings.TrimSpace(f.AssignmentID) == "" {
		return &reminder.ValidationError{Field: "assignmentId", Message: "assignment is required"}
	}
	switch f.CaseStatus {
	case CaseOpen, CaseNotInterested:
	case CaseClose:
		if strings.TrimSpace(f.Result) == "" {
			return &reminder.ValidationError{Field: "result", Message: "a closed case needs a result"}
		}
	default:
		return &reminder.ValidationError{Field: "caseStatus", Message: "must be open, close or not-interested"}
	}
	return nil
}
